package app

import "flakepin/internal/types"

type ResolveRequest struct {
	DeclarationPath string
	ManifestDir     string
	Jobs            int
	DryRun          bool
}

type ResolveResult struct {
	ProjectName  string
	Updates      []types.UpdateRecord
	Inputs       []types.NamedInput
	ManifestPath string
	Rebuild      bool
	Written      bool
}

type ValidateRequest struct {
	DeclarationPath string
}

type ValidateResult struct {
	ProjectName string
	InputCount  int
	Hints       []string
}

type InspectRequest struct {
	DeclarationPath string
}

// InspectEntry describes one input slot as declared, before any remote
// lookup.
type InspectEntry struct {
	Name      string
	Locator   string
	Defaulted bool
	Kind      types.VCSKind
	State     types.RefState
	Policy    types.ResolutionPolicy
}

type InspectResult struct {
	ProjectName string
	Entries     []InspectEntry
}

type CloneRequest struct {
	DeclarationPath string
	Names           []string
}

type CloneResult struct {
	Cloned  []string
	Skipped []string
}
