package types

import "strings"

// UpdateRecord is a deferred write of Value at Path in the declaration.
type UpdateRecord struct {
	Path  []string
	Value string
}

func (u UpdateRecord) Key() string {
	return strings.Join(u.Path, ".")
}

// UpdateBatch collects update records in discovery order. It is handed to
// the declaration writer as a whole once a pass has succeeded.
type UpdateBatch struct {
	Records []UpdateRecord
}

func (b *UpdateBatch) Add(value string, path ...string) {
	b.Records = append(b.Records, UpdateRecord{
		Path:  append([]string(nil), path...),
		Value: value,
	})
}

func (b *UpdateBatch) Extend(records []UpdateRecord) {
	b.Records = append(b.Records, records...)
}

func (b UpdateBatch) Empty() bool {
	return len(b.Records) == 0
}

// NamedInput is one entry of the manifest's inputs block.
type NamedInput struct {
	Name    string
	URL     string
	Flake   bool
	Follows []string
}

// PinnedInput pairs a logical input name with its pin and the names of the
// inputs it shares dependencies with.
type PinnedInput struct {
	Name    string
	Ref     PinnedRef
	Flake   bool
	Follows []string
}

// PythonPackage is a python package as it appears in the rendered manifest.
// Source is empty for index packages and names an input for VCS packages.
type PythonPackage struct {
	Name    string
	Version string
	Source  string
}

type PythonSection struct {
	Version       string
	EcosystemDate string
	Packages      []PythonPackage
}

type RSection struct {
	Date     string
	Packages []string
}

type FlakePackages struct {
	Input    string
	Packages []string
}

// ManifestData is everything the renderer needs besides the inputs.
type ManifestData struct {
	Description     string
	NixpkgsPackages []string
	Python          *PythonSection
	R               *RSection
	Flakes          []FlakePackages
}

// ManifestCommit reports what happened to the persisted manifest.
type ManifestCommit struct {
	Path    string
	Rebuild bool
}
