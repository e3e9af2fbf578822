package core

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"flakepin/internal/ports"
	"flakepin/internal/types"
)

const (
	headsPrefix  = "refs/heads/"
	tagsPrefix   = "refs/tags/"
	peeledSuffix = "^{}"
	tipRef       = "tip"
)

// Resolver pins partial references against their remotes. Git and GitHub
// references are interrogated through Git, Mercurial references through
// Mercurial.
type Resolver struct {
	Git       ports.RemoteRefsPort
	Mercurial ports.RemoteRefsPort
}

func NewResolver(git ports.RemoteRefsPort, mercurial ports.RemoteRefsPort) Resolver {
	return Resolver{Git: git, Mercurial: mercurial}
}

// Resolve returns the pinned form of ref and whether anything had to be
// discovered. A reference with both branch and rev is returned without any
// remote call.
func (r Resolver) Resolve(ctx context.Context, ref types.PartialRef, policy types.ResolutionPolicy) (types.PinnedRef, bool, error) {
	var (
		pinned  types.PinnedRef
		changed bool
		err     error
	)
	switch ref.Kind {
	case types.VCSKindGit:
		pinned, changed, err = r.resolveGit(ctx, ref, policy)
	case types.VCSKindGitHub:
		pinned, changed, err = r.resolveGitHub(ctx, ref, policy)
	case types.VCSKindMercurial:
		pinned, changed, err = r.resolveMercurial(ctx, ref, policy)
	default:
		return types.PinnedRef{}, false, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("unsupported reference kind %q", ref.Kind))
	}
	if err != nil {
		return types.PinnedRef{}, false, err
	}
	if changed {
		log.Ctx(ctx).Debug().
			Str("reference", ref.Describe()).
			Str("pinned", pinned.String()).
			Str("policy", policy.String()).
			Msg("reference pinned")
	}
	return pinned, changed, nil
}

func (r Resolver) resolveGit(ctx context.Context, ref types.PartialRef, policy types.ResolutionPolicy) (types.PinnedRef, bool, error) {
	url := ref.FetchURL()
	switch ref.State() {
	case types.RefStateFull:
		return pinnedFrom(ref, ref.Branch, ref.Rev), false, nil
	case types.RefStateRevOnly:
		branch, err := r.defaultBranch(ctx, url)
		if err != nil {
			return types.PinnedRef{}, false, err
		}
		return pinnedFrom(ref, branch, ref.Rev), true, nil
	case types.RefStateBranchOnly:
		rev, err := r.pinRev(ctx, url, ref.Branch, policy)
		if err != nil {
			return types.PinnedRef{}, false, err
		}
		return pinnedFrom(ref, ref.Branch, rev), true, nil
	case types.RefStateBare:
		branch, err := r.defaultBranch(ctx, url)
		if err != nil {
			return types.PinnedRef{}, false, err
		}
		rev, err := r.pinRev(ctx, url, branch, policy)
		if err != nil {
			return types.PinnedRef{}, false, err
		}
		return pinnedFrom(ref, branch, rev), true, nil
	default:
		return types.PinnedRef{}, false, unknownState(ref)
	}
}

func (r Resolver) resolveGitHub(ctx context.Context, ref types.PartialRef, policy types.ResolutionPolicy) (types.PinnedRef, bool, error) {
	url := ref.FetchURL()
	switch ref.State() {
	case types.RefStateFull:
		return pinnedFrom(ref, ref.Branch, ref.Rev), false, nil
	case types.RefStateRevOnly:
		branch, err := r.defaultBranch(ctx, url)
		if err != nil {
			return types.PinnedRef{}, false, err
		}
		return pinnedFrom(ref, branch, ref.Rev), true, nil
	case types.RefStateBranchOnly:
		heads, err := r.listRefs(ctx, r.Git, url, headsPrefix+ref.Branch)
		if err != nil {
			return types.PinnedRef{}, false, err
		}
		heads = exactRefs(heads, headsPrefix+ref.Branch)
		if len(heads) > 0 {
			rev, err := r.revForBranch(ctx, url, ref.Branch, heads, policy)
			if err != nil {
				return types.PinnedRef{}, false, err
			}
			return pinnedFrom(ref, ref.Branch, rev), true, nil
		}
		// not a branch, so the slot held a tag
		branch, err := r.defaultBranch(ctx, url)
		if err != nil {
			return types.PinnedRef{}, false, err
		}
		return pinnedFrom(ref, branch, ref.Branch), true, nil
	case types.RefStateBare:
		branch, err := r.defaultBranch(ctx, url)
		if err != nil {
			return types.PinnedRef{}, false, err
		}
		rev, err := r.pinRev(ctx, url, branch, policy)
		if err != nil {
			return types.PinnedRef{}, false, err
		}
		return pinnedFrom(ref, branch, rev), true, nil
	default:
		return types.PinnedRef{}, false, unknownState(ref)
	}
}

// resolveMercurial collapses the matrix to the rev axis; Mercurial pins do
// not carry a branch.
func (r Resolver) resolveMercurial(ctx context.Context, ref types.PartialRef, policy types.ResolutionPolicy) (types.PinnedRef, bool, error) {
	switch ref.State() {
	case types.RefStateFull, types.RefStateRevOnly:
		return pinnedFrom(ref, "", ref.Rev), false, nil
	case types.RefStateBranchOnly, types.RefStateBare:
		if policy.Kind == types.PolicyNewestTag {
			return types.PinnedRef{}, false, errbuilder.New().
				WithCode(errbuilder.CodeFailedPrecondition).
				WithMsg(fmt.Sprintf("newest-tag policy is not supported for mercurial reference %s, specify rev", ref.Describe()))
		}
		tip, err := r.listRefs(ctx, r.Mercurial, ref.URL, tipRef)
		if err != nil {
			return types.PinnedRef{}, false, err
		}
		if len(tip) == 0 {
			return types.PinnedRef{}, false, errbuilder.New().
				WithCode(errbuilder.CodeNotFound).
				WithMsg(fmt.Sprintf("no tip revision found for %s", ref.URL))
		}
		return pinnedFrom(ref, "", tip[0].Hash), true, nil
	default:
		return types.PinnedRef{}, false, unknownState(ref)
	}
}

// pinRev chooses the rev for a known branch according to policy.
func (r Resolver) pinRev(ctx context.Context, url string, branch string, policy types.ResolutionPolicy) (string, error) {
	switch policy.Kind {
	case types.PolicyNewestTag:
		return r.newestTag(ctx, url, policy.TagRegex)
	case types.PolicyNewest, "":
		heads, err := r.listRefs(ctx, r.Git, url, headsPrefix+branch)
		if err != nil {
			return "", err
		}
		return branchHead(url, branch, heads)
	default:
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("unknown resolution policy %q", policy.Kind))
	}
}

// revForBranch is pinRev for a branch whose heads were already listed.
func (r Resolver) revForBranch(ctx context.Context, url string, branch string, heads []types.RemoteRef, policy types.ResolutionPolicy) (string, error) {
	if policy.Kind == types.PolicyNewestTag {
		return r.newestTag(ctx, url, policy.TagRegex)
	}
	return branchHead(url, branch, heads)
}

func (r Resolver) newestTag(ctx context.Context, url string, pattern string) (string, error) {
	refs, err := r.listRefs(ctx, r.Git, url, tagsPrefix)
	if err != nil {
		return "", err
	}
	tag, err := newestMatchingTag(tagNames(refs), pattern)
	if err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeOf(err)).
			WithMsg(fmt.Sprintf("cannot pick newest tag of %s", url)).
			WithCause(err)
	}
	return tag, nil
}

// defaultBranch prefers main, then master, then the only branch.
func (r Resolver) defaultBranch(ctx context.Context, url string) (string, error) {
	refs, err := r.listRefs(ctx, r.Git, url, headsPrefix)
	if err != nil {
		return "", err
	}
	branches := map[string]struct{}{}
	for _, ref := range refs {
		name := strings.TrimPrefix(ref.Name, headsPrefix)
		if name == ref.Name || name == "" {
			continue
		}
		branches[name] = struct{}{}
	}
	for _, preferred := range []string{"main", "master"} {
		if _, ok := branches[preferred]; ok {
			return preferred, nil
		}
	}
	names := make([]string, 0, len(branches))
	for name := range branches {
		names = append(names, name)
	}
	sort.Strings(names)
	switch len(names) {
	case 0:
		return "", errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("no branches found for %s", url))
	case 1:
		return names[0], nil
	default:
		return "", errbuilder.New().
			WithCode(errbuilder.CodeFailedPrecondition).
			WithMsg(fmt.Sprintf("cannot determine default branch of %s, specify it yourself; candidates: [%s]", url, strings.Join(names, ", ")))
	}
}

func (r Resolver) listRefs(ctx context.Context, port ports.RemoteRefsPort, url string, filter string) ([]types.RemoteRef, error) {
	if port == nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("resolver requires remote ref ports")
	}
	refs, err := port.ListRefs(ctx, url, filter)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to list refs %q of %s", filter, url)).
			WithCause(err)
	}
	return refs, nil
}

func branchHead(url string, branch string, heads []types.RemoteRef) (string, error) {
	if len(heads) == 0 {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("branch %q not found in %s", branch, url))
	}
	for _, head := range heads {
		if head.Name == headsPrefix+branch {
			return head.Hash, nil
		}
	}
	return heads[0].Hash, nil
}

func exactRefs(refs []types.RemoteRef, name string) []types.RemoteRef {
	var out []types.RemoteRef
	for _, ref := range refs {
		if ref.Name == name {
			out = append(out, ref)
		}
	}
	return out
}

// tagNames strips refs/tags/ and the peeled suffix, keeping first-seen order.
func tagNames(refs []types.RemoteRef) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, ref := range refs {
		name := strings.TrimSuffix(strings.TrimPrefix(ref.Name, tagsPrefix), peeledSuffix)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func pinnedFrom(ref types.PartialRef, branch string, rev string) types.PinnedRef {
	return types.PinnedRef{
		Kind:   ref.Kind,
		URL:    ref.URL,
		Owner:  ref.Owner,
		Repo:   ref.Repo,
		Branch: branch,
		Rev:    rev,
	}
}

func unknownState(ref types.PartialRef) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(fmt.Sprintf("unhandled reference state %s for %s", ref.State(), ref.Describe()))
}
