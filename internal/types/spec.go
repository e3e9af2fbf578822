package types

// Declaration is the human-edited flakepin.toml. Every url field accepts a
// partial locator; resolved pins are written back to the same keys.
type Declaration struct {
	Project   Project              `toml:"project"`
	Nixpkgs   NixpkgsSpec          `toml:"nixpkgs"`
	FlakeUtil InputSpec            `toml:"flake_util"`
	Python    *PythonSpec          `toml:"python,omitempty"`
	R         *RSpec               `toml:"r,omitempty"`
	Flakes    map[string]FlakeSpec `toml:"flakes,omitempty"`
	Clones    map[string]string    `toml:"clones,omitempty"`
}

type Project struct {
	Name        string `toml:"name"`
	Description string `toml:"description,omitempty"`
}

// InputSpec is the common shape of a pinnable input.
type InputSpec struct {
	URL      string `toml:"url,omitempty"`
	Policy   string `toml:"policy,omitempty"`
	TagRegex string `toml:"tag_regex,omitempty"`
}

type NixpkgsSpec struct {
	URL      string   `toml:"url,omitempty"`
	Policy   string   `toml:"policy,omitempty"`
	TagRegex string   `toml:"tag_regex,omitempty"`
	Packages []string `toml:"packages,omitempty"`
}

func (s NixpkgsSpec) Input() InputSpec {
	return InputSpec{URL: s.URL, Policy: s.Policy, TagRegex: s.TagRegex}
}

type PythonSpec struct {
	Version       string                       `toml:"version"`
	EcosystemDate string                       `toml:"ecosystem_date,omitempty"`
	Toolchain     InputSpec                    `toml:"toolchain,omitempty"`
	DateIndex     string                       `toml:"date_index,omitempty"`
	Packages      map[string]PythonPackageSpec `toml:"packages,omitempty"`
}

// PythonPackageSpec is either an index requirement (Version) or a VCS
// source (URL).
type PythonPackageSpec struct {
	Version  string `toml:"version,omitempty"`
	URL      string `toml:"url,omitempty"`
	Policy   string `toml:"policy,omitempty"`
	TagRegex string `toml:"tag_regex,omitempty"`
}

func (s PythonPackageSpec) Input() InputSpec {
	return InputSpec{URL: s.URL, Policy: s.Policy, TagRegex: s.TagRegex}
}

type RSpec struct {
	URL      string   `toml:"url,omitempty"`
	Policy   string   `toml:"policy,omitempty"`
	TagRegex string   `toml:"tag_regex,omitempty"`
	Date     string   `toml:"date"`
	Packages []string `toml:"packages,omitempty"`
}

func (s RSpec) Input() InputSpec {
	return InputSpec{URL: s.URL, Policy: s.Policy, TagRegex: s.TagRegex}
}

type FlakeSpec struct {
	URL      string   `toml:"url"`
	Policy   string   `toml:"policy,omitempty"`
	TagRegex string   `toml:"tag_regex,omitempty"`
	Follows  []string `toml:"follows,omitempty"`
	Packages []string `toml:"packages,omitempty"`
}

func (s FlakeSpec) Input() InputSpec {
	return InputSpec{URL: s.URL, Policy: s.Policy, TagRegex: s.TagRegex}
}
