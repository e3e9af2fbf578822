package adapters

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ZanzyTHEbar/errbuilder-go"

	"flakepin/internal/ports"
	"flakepin/internal/types"
)

// TOMLDeclarationAdapter loads flakepin.toml and writes resolved pins back
// into it. Writing re-encodes the document, so comments are not preserved.
type TOMLDeclarationAdapter struct{}

func NewTOMLDeclarationAdapter() TOMLDeclarationAdapter {
	return TOMLDeclarationAdapter{}
}

func (a TOMLDeclarationAdapter) LoadDeclaration(path string) (types.Declaration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.Declaration{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("declaration %s not found", path)).
			WithCause(err)
	}
	var decl types.Declaration
	meta, err := toml.Decode(string(data), &decl)
	if err != nil {
		return types.Declaration{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("failed to parse declaration %s", path)).
			WithCause(err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return types.Declaration{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("unknown keys in declaration %s: %s", path, strings.Join(keys, ", ")))
	}
	return decl, nil
}

// Apply sets every record's path to its value and rewrites the file once.
// Nothing is written if any record cannot be applied.
func (a TOMLDeclarationAdapter) Apply(records []types.UpdateRecord, path string) error {
	if len(records) == 0 {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to read declaration %s", path)).
			WithCause(err)
	}
	doc := map[string]any{}
	if len(data) > 0 {
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("failed to parse declaration %s", path)).
				WithCause(err)
		}
	}
	for _, record := range records {
		if err := setPath(doc, record.Path, record.Value); err != nil {
			return err
		}
	}
	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	encoder.Indent = ""
	if err := encoder.Encode(doc); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to encode declaration").
			WithCause(err)
	}
	return writeFileAtomic(path, buf.Bytes())
}

func setPath(doc map[string]any, path []string, value string) error {
	if len(path) == 0 {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("update record has an empty path")
	}
	table := doc
	for i, key := range path[:len(path)-1] {
		next, ok := table[key]
		if !ok {
			child := map[string]any{}
			table[key] = child
			table = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg(fmt.Sprintf("cannot set %s: %s is not a table", strings.Join(path, "."), strings.Join(path[:i+1], ".")))
		}
		table = child
	}
	leaf := path[len(path)-1]
	if existing, ok := table[leaf]; ok {
		if _, isString := existing.(string); !isString {
			return errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg(fmt.Sprintf("cannot set %s: existing value is not a string", strings.Join(path, ".")))
		}
	}
	table[leaf] = value
	return nil
}

var _ ports.DeclarationPort = TOMLDeclarationAdapter{}
var _ ports.DeclarationWriterPort = TOMLDeclarationAdapter{}
