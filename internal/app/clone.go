package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"flakepin/internal/core"
	"flakepin/internal/types"
)

// Clone materializes the [clones] entries of the declaration. Each entry
// names a pinned python VCS package and a target directory relative to the
// declaration. Existing directories are left alone.
func (s Service) Clone(ctx context.Context, req CloneRequest) (CloneResult, error) {
	decl, _, err := s.loadPlan(req.DeclarationPath)
	if err != nil {
		return CloneResult{}, err
	}
	if s.Cloner == nil {
		return CloneResult{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("service is missing a clone adapter")
	}
	names := req.Names
	if len(names) == 0 {
		names = sortedKeys(decl.Clones)
	}
	base := filepath.Dir(strings.TrimSpace(req.DeclarationPath))
	var result CloneResult
	for _, name := range names {
		dir, ok := decl.Clones[name]
		if !ok {
			return CloneResult{}, errbuilder.New().
				WithCode(errbuilder.CodeNotFound).
				WithMsg(fmt.Sprintf("no clone entry named %s", name))
		}
		target := dir
		if !filepath.IsAbs(target) {
			target = filepath.Join(base, dir)
		}
		if _, err := os.Stat(target); err == nil {
			log.Ctx(ctx).Info().Str("package", name).Str("dir", target).Msg("clone target exists, skipping")
			result.Skipped = append(result.Skipped, name)
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return CloneResult{}, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg(fmt.Sprintf("cannot inspect clone target %s", target)).
				WithCause(err)
		}
		pinned, err := cloneSource(decl, name)
		if err != nil {
			return CloneResult{}, err
		}
		clone := func() error {
			return s.Cloner.Clone(ctx, pinned.FetchURL(), pinned.Rev, pinned.Branch, target)
		}
		if s.Guard != nil {
			err = s.Guard.Run(ctx, "clone "+name, clone)
		} else {
			err = clone()
		}
		if err != nil {
			return CloneResult{}, errbuilder.New().
				WithCode(errbuilder.CodeOf(err)).
				WithMsg(fmt.Sprintf("failed to clone %s (%s) into %s", name, pinned, target)).
				WithCause(err)
		}
		log.Ctx(ctx).Info().Str("package", name).Str("dir", target).Str("rev", pinned.Rev).Msg("cloned")
		result.Cloned = append(result.Cloned, name)
	}
	return result, nil
}

// cloneSource returns the pinned reference behind a clone entry. Only fully
// pinned git-backed references can be cloned.
func cloneSource(decl types.Declaration, name string) (types.PinnedRef, error) {
	if decl.Python == nil {
		return types.PinnedRef{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("clone %s: no [python] section", name))
	}
	pkg, ok := decl.Python.Packages[name]
	if !ok || strings.TrimSpace(pkg.URL) == "" {
		return types.PinnedRef{}, errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("clone %s: no python package with a url", name))
	}
	ref, err := core.ParseRef(pkg.URL)
	if err != nil {
		return types.PinnedRef{}, err
	}
	if ref.Kind == types.VCSKindMercurial {
		return types.PinnedRef{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("clone %s: mercurial sources cannot be cloned", name))
	}
	if ref.State() != types.RefStateFull {
		return types.PinnedRef{}, errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("clone %s: %s is not pinned, run resolve first", name, pkg.URL))
	}
	return types.PinnedRef(ref), nil
}
