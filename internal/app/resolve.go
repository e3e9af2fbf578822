package app

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"flakepin/internal/core"
	"flakepin/internal/types"
)

const manifestFileName = "flake.nix"

// Resolve runs one pin pass: every input is pinned, the manifest is
// rendered, and only if all of that succeeded are the discovered pins
// written back together with the manifest.
func (s Service) Resolve(ctx context.Context, req ResolveRequest) (ResolveResult, error) {
	declPath := strings.TrimSpace(req.DeclarationPath)
	if declPath == "" {
		return ResolveResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("declaration path is required")
	}
	if s.Declarations == nil || s.Manifests == nil {
		return ResolveResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("service is missing declaration or manifest adapters")
	}
	decl, err := s.Declarations.LoadDeclaration(declPath)
	if err != nil {
		return ResolveResult{}, err
	}
	slots, err := buildPlan(decl)
	if err != nil {
		return ResolveResult{}, err
	}
	emitHints(append(defaultedInputHints(slots), branchPathHints(slots)...))

	p, err := s.newPinner(ctx)
	if err != nil {
		return ResolveResult{}, err
	}
	outcomes, err := p.pinAll(ctx, slots, req.Jobs)
	if err != nil {
		return ResolveResult{}, err
	}

	var batch types.UpdateBatch
	assembler := core.NewManifestAssembler(s.Manifests)
	for _, outcome := range outcomes {
		if outcome.Changed {
			batch.Add(outcome.Pinned.String(), outcome.Slot.Path...)
		}
		if err := assembler.Add(types.PinnedInput{
			Name:    outcome.Slot.Name,
			Ref:     outcome.Pinned.WithRev(outcome.Commit),
			Flake:   outcome.Slot.Flake,
			Follows: outcome.Slot.Follows,
		}); err != nil {
			return ResolveResult{}, err
		}
	}
	text, err := assembler.Render(manifestData(decl))
	if err != nil {
		return ResolveResult{}, err
	}

	manifestPath := filepath.Join(manifestDir(declPath, req.ManifestDir), manifestFileName)
	result := ResolveResult{
		ProjectName:  decl.Project.Name,
		Updates:      batch.Records,
		Inputs:       assembler.Inputs(),
		ManifestPath: manifestPath,
	}
	if req.DryRun {
		changed, err := assembler.ManifestChanged(manifestPath, text)
		if err != nil {
			return ResolveResult{}, err
		}
		result.Rebuild = changed
		log.Ctx(ctx).Info().Int("updates", len(batch.Records)).Bool("rebuild", changed).Msg("dry run, nothing written")
		return result, nil
	}

	write := func() error {
		if !batch.Empty() {
			if s.Writer == nil {
				return errbuilder.New().
					WithCode(errbuilder.CodeInvalidArgument).
					WithMsg("service is missing a declaration writer")
			}
			if err := s.Writer.Apply(batch.Records, declPath); err != nil {
				return err
			}
			log.Ctx(ctx).Info().Int("updates", len(batch.Records)).Str("path", declPath).Msg("declaration updated")
		}
		commit, err := assembler.Commit(ctx, manifestPath, text)
		if err != nil {
			return err
		}
		result.Rebuild = commit.Rebuild
		result.Written = commit.Rebuild
		return nil
	}
	if s.Guard != nil {
		err = s.Guard.Run(ctx, "declaration and manifest write", write)
	} else {
		err = write()
	}
	if err != nil {
		return ResolveResult{}, err
	}
	return result, nil
}

func manifestDir(declPath string, dir string) string {
	if strings.TrimSpace(dir) != "" {
		return dir
	}
	return filepath.Join(filepath.Dir(declPath), "flake")
}

func manifestData(decl types.Declaration) types.ManifestData {
	data := types.ManifestData{
		Description:     decl.Project.Description,
		NixpkgsPackages: decl.Nixpkgs.Packages,
	}
	if data.Description == "" {
		data.Description = decl.Project.Name
	}
	if python := decl.Python; python != nil {
		section := &types.PythonSection{Version: python.Version, EcosystemDate: python.EcosystemDate}
		for _, name := range sortedKeys(python.Packages) {
			pkg := python.Packages[name]
			if strings.TrimSpace(pkg.URL) != "" {
				section.Packages = append(section.Packages, types.PythonPackage{Name: name, Source: pythonInputName(name)})
				continue
			}
			section.Packages = append(section.Packages, types.PythonPackage{Name: name, Version: pkg.Version})
		}
		data.Python = section
	}
	if r := decl.R; r != nil {
		data.R = &types.RSection{Date: r.Date, Packages: r.Packages}
	}
	for _, name := range sortedKeys(decl.Flakes) {
		if packages := decl.Flakes[name].Packages; len(packages) > 0 {
			data.Flakes = append(data.Flakes, types.FlakePackages{Input: name, Packages: packages})
		}
	}
	return data
}
