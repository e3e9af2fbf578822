package core

import (
	"context"
	"fmt"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"flakepin/internal/ports"
)

// tagPageCeiling bounds the tag walk to 3000 tags.
const tagPageCeiling = 30

// TagCommitLookup maps GitHub tag names to the commits they point at.
type TagCommitLookup struct {
	API   ports.GitHubAPIPort
	Cache *CachedLookup
}

func NewTagCommitLookup(api ports.GitHubAPIPort, cache *CachedLookup) TagCommitLookup {
	return TagCommitLookup{API: api, Cache: cache}
}

func (l TagCommitLookup) CommitForTag(ctx context.Context, owner string, repo string, tag string) (string, error) {
	if l.API == nil || l.Cache == nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("tag lookup requires api and cache")
	}
	keySpace := fmt.Sprintf("github-tags-%s-%s", owner, repo)
	commit, err := l.Cache.Fetch(ctx, keySpace, tag, func(ctx context.Context) (map[string]string, error) {
		return l.walkTags(ctx, owner, repo)
	})
	if err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeOf(err)).
			WithMsg(fmt.Sprintf("cannot find commit of tag %q in github:%s/%s", tag, owner, repo)).
			WithCause(err)
	}
	return commit, nil
}

// walkTags reads tag pages until one comes back empty or the ceiling is hit.
func (l TagCommitLookup) walkTags(ctx context.Context, owner string, repo string) (map[string]string, error) {
	found := map[string]string{}
	for page := 1; page <= tagPageCeiling; page++ {
		entries, err := l.API.ListTagsPage(ctx, owner, repo, page)
		if err != nil {
			return found, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg(fmt.Sprintf("failed to list tags of %s/%s (page %d)", owner, repo, page)).
				WithCause(err)
		}
		if len(entries) == 0 {
			break
		}
		for _, entry := range entries {
			if entry.Name == "" || entry.Commit == "" {
				continue
			}
			found[entry.Name] = entry.Commit
		}
	}
	return found, nil
}
