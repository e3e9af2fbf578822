package ports

import "flakepin/internal/types"

type DeclarationPort interface {
	LoadDeclaration(path string) (types.Declaration, error)
}

// DeclarationWriterPort applies path->value edits to the declaration file,
// leaving untouched keys alone. Records are applied all at once or not at
// all.
type DeclarationWriterPort interface {
	Apply(records []types.UpdateRecord, path string) error
}
