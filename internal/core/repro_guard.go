package core

import (
	"archive/tar"
	"bufio"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"flakepin/internal/ports"
	"flakepin/internal/types"
)

const (
	gitVerdict      = "git"
	exportSubstAttr = "export-subst"
	hashPrefix      = "sha256-"
)

// ReproGuard decides whether a revision's tarball can be fetched by content
// hash. Archives whose .gitattributes request export-subst expand keywords
// at archive time and are not byte-stable, so they must be fetched with git.
type ReproGuard struct {
	Archives ports.ArchivePort
	Cache    *CachedLookup
}

func NewReproGuard(archives ports.ArchivePort, cache *CachedLookup) ReproGuard {
	return ReproGuard{Archives: archives, Cache: cache}
}

func (g ReproGuard) Check(ctx context.Context, owner string, repo string, rev string) (types.ArchiveVerdict, error) {
	if g.Archives == nil || g.Cache == nil {
		return types.ArchiveVerdict{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("reproducibility guard requires archive port and cache")
	}
	keySpace := fmt.Sprintf("archive-%s-%s", owner, repo)
	value, err := g.Cache.Fetch(ctx, keySpace, rev, func(ctx context.Context) (map[string]string, error) {
		verdict, err := g.inspect(ctx, owner, repo, rev)
		if err != nil {
			return nil, err
		}
		if verdict.NeedsGit {
			return map[string]string{rev: gitVerdict}, nil
		}
		return map[string]string{rev: verdict.Hash}, nil
	})
	if err != nil {
		return types.ArchiveVerdict{}, err
	}
	if value == gitVerdict {
		return types.ArchiveVerdict{NeedsGit: true}, nil
	}
	return types.ArchiveVerdict{Hash: value}, nil
}

func (g ReproGuard) inspect(ctx context.Context, owner string, repo string, rev string) (types.ArchiveVerdict, error) {
	body, err := g.Archives.FetchArchive(ctx, owner, repo, rev)
	if err != nil {
		return types.ArchiveVerdict{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to fetch archive of github:%s/%s/%s", owner, repo, rev)).
			WithCause(err)
	}
	defer body.Close()

	hasher := sha256.New()
	needsGit, err := scanArchive(io.TeeReader(body, hasher))
	if err != nil {
		return types.ArchiveVerdict{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to read archive of github:%s/%s/%s", owner, repo, rev)).
			WithCause(err)
	}
	// hash the whole download, not just what tar consumed
	if _, err := io.Copy(hasher, body); err != nil {
		return types.ArchiveVerdict{}, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to read archive of github:%s/%s/%s", owner, repo, rev)).
			WithCause(err)
	}
	if needsGit {
		log.Ctx(ctx).Debug().Str("repo", owner+"/"+repo).Str("rev", rev).Msg("archive uses export-subst")
		return types.ArchiveVerdict{NeedsGit: true}, nil
	}
	return types.ArchiveVerdict{Hash: hashPrefix + base64.StdEncoding.EncodeToString(hasher.Sum(nil))}, nil
}

// scanArchive walks a gzipped tarball and reports whether any .gitattributes
// file in it sets export-subst.
func scanArchive(r io.Reader) (bool, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return false, err
	}
	defer gz.Close()
	tr := tar.NewReader(gz)
	found := false
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return false, err
		}
		if found || header.Typeflag != tar.TypeReg || path.Base(header.Name) != ".gitattributes" {
			continue
		}
		uses, err := usesExportSubst(tr)
		if err != nil {
			return false, err
		}
		found = uses
	}
	return found, nil
}

func usesExportSubst(r io.Reader) (bool, error) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		for _, attr := range fields[1:] {
			if attr == exportSubstAttr {
				return true, nil
			}
		}
	}
	return false, scanner.Err()
}
