package core

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"
	"text/template"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"flakepin/internal/ports"
	"flakepin/internal/types"
)

//go:embed templates/flake.nix.tmpl
var flakeTemplateText string

var flakeTemplate = template.Must(template.New("flake.nix").
	Funcs(template.FuncMap{"nix": nixString}).
	Parse(flakeTemplateText))

var inputNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_'-]*$`)

// ManifestAssembler collects named inputs in construction order and renders
// them into a flake manifest. An input may only follow inputs added before
// it.
type ManifestAssembler struct {
	Manifests ports.ManifestPort

	inputs []types.NamedInput
	index  map[string]int
}

func NewManifestAssembler(manifests ports.ManifestPort) *ManifestAssembler {
	return &ManifestAssembler{Manifests: manifests, index: map[string]int{}}
}

// Add appends a pinned input under its logical name.
func (a *ManifestAssembler) Add(input types.PinnedInput) error {
	return a.AddNamed(types.NamedInput{
		Name:    input.Name,
		URL:     input.Ref.InputURL(),
		Flake:   input.Flake,
		Follows: input.Follows,
	})
}

// AddNamed appends an input whose url is already rendered. Adding the same
// input twice is a no-op; adding a different input under a taken name fails.
func (a *ManifestAssembler) AddNamed(input types.NamedInput) error {
	if a.index == nil {
		a.index = map[string]int{}
	}
	if !inputNamePattern.MatchString(input.Name) {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid input name %q", input.Name))
	}
	if input.URL == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("input %s has no url", input.Name))
	}
	if pos, ok := a.index[input.Name]; ok {
		if sameInput(a.inputs[pos], input) {
			return nil
		}
		return errbuilder.New().
			WithCode(errbuilder.CodeAlreadyExists).
			WithMsg(fmt.Sprintf("input %s already added as %s, cannot redefine as %s",
				input.Name, a.inputs[pos].URL, input.URL))
	}
	for _, follow := range input.Follows {
		if follow == input.Name {
			return errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("input %s cannot follow itself", input.Name))
		}
		if _, ok := a.index[follow]; !ok {
			return errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg(fmt.Sprintf("input %s follows %s, which has not been added", input.Name, follow))
		}
	}
	input.Follows = append([]string(nil), input.Follows...)
	a.index[input.Name] = len(a.inputs)
	a.inputs = append(a.inputs, input)
	return nil
}

// Inputs returns the de-duplicated inputs in the order they were added.
func (a *ManifestAssembler) Inputs() []types.NamedInput {
	out := make([]types.NamedInput, len(a.inputs))
	copy(out, a.inputs)
	return out
}

type manifestView struct {
	Description string
	Inputs      []types.NamedInput
	Nixpkgs     []string
	Python      *pythonView
	R           *types.RSection
	Flakes      []types.FlakePackages
}

type pythonView struct {
	Version       string
	EcosystemDate string
	Index         []types.PythonPackage
	Sources       []types.PythonPackage
}

// Render produces the manifest text. Package lists are sorted, so equal
// inputs always render to equal bytes.
func (a *ManifestAssembler) Render(data types.ManifestData) (string, error) {
	view := manifestView{
		Description: data.Description,
		Inputs:      a.Inputs(),
		Nixpkgs:     sortedUnique(data.NixpkgsPackages),
	}
	if data.Python != nil {
		python := &pythonView{Version: data.Python.Version, EcosystemDate: data.Python.EcosystemDate}
		for _, pkg := range data.Python.Packages {
			if pkg.Source != "" {
				if _, ok := a.index[pkg.Source]; !ok {
					return "", errbuilder.New().
						WithCode(errbuilder.CodeFailedPrecondition).
						WithMsg(fmt.Sprintf("python package %s refers to unknown input %s", pkg.Name, pkg.Source))
				}
				python.Sources = append(python.Sources, pkg)
				continue
			}
			python.Index = append(python.Index, pkg)
		}
		sortPackages(python.Index)
		sortPackages(python.Sources)
		view.Python = python
	}
	if data.R != nil {
		view.R = &types.RSection{Date: data.R.Date, Packages: sortedUnique(data.R.Packages)}
	}
	for _, flake := range data.Flakes {
		if _, ok := a.index[flake.Input]; !ok {
			return "", errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg(fmt.Sprintf("flake packages refer to unknown input %s", flake.Input))
		}
		view.Flakes = append(view.Flakes, types.FlakePackages{Input: flake.Input, Packages: sortedUnique(flake.Packages)})
	}
	sort.SliceStable(view.Flakes, func(i, j int) bool {
		return view.Flakes[i].Input < view.Flakes[j].Input
	})

	var buf bytes.Buffer
	if err := flakeTemplate.Execute(&buf, view); err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to render manifest").
			WithCause(err)
	}
	return buf.String(), nil
}

// Commit writes text to path unless the persisted manifest already holds
// exactly these bytes. Rebuild reports whether a write happened.
func (a *ManifestAssembler) Commit(ctx context.Context, path string, text string) (types.ManifestCommit, error) {
	if a.Manifests == nil {
		return types.ManifestCommit{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("manifest assembler requires a manifest port")
	}
	previous, exists, err := a.Manifests.Read(path)
	if err != nil {
		return types.ManifestCommit{}, err
	}
	if exists && bytes.Equal(previous, []byte(text)) {
		log.Ctx(ctx).Info().Str("path", path).Msg("manifest unchanged")
		return types.ManifestCommit{Path: path}, nil
	}
	if err := a.Manifests.Write(path, []byte(text)); err != nil {
		return types.ManifestCommit{}, err
	}
	log.Ctx(ctx).Info().Str("path", path).Msg("manifest updated, rebuild required")
	return types.ManifestCommit{Path: path, Rebuild: true}, nil
}

// ManifestChanged reports whether text differs from the persisted manifest
// without writing anything.
func (a *ManifestAssembler) ManifestChanged(path string, text string) (bool, error) {
	if a.Manifests == nil {
		return false, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("manifest assembler requires a manifest port")
	}
	previous, exists, err := a.Manifests.Read(path)
	if err != nil {
		return false, err
	}
	return !exists || !bytes.Equal(previous, []byte(text)), nil
}

func sameInput(a types.NamedInput, b types.NamedInput) bool {
	return a.Name == b.Name && a.URL == b.URL && a.Flake == b.Flake && slices.Equal(a.Follows, b.Follows)
}

func sortedUnique(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value != "" {
			out = append(out, value)
		}
	}
	sort.Strings(out)
	return slices.Compact(out)
}

func sortPackages(pkgs []types.PythonPackage) {
	sort.SliceStable(pkgs, func(i, j int) bool {
		return pkgs[i].Name < pkgs[j].Name
	})
}

// nixString quotes value as a Nix string literal.
func nixString(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "${", `\${`, "\n", `\n`)
	return `"` + replacer.Replace(value) + `"`
}
