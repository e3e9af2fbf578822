package types

import (
	"fmt"
	"strings"
)

// PartialRef is a version-control reference as written by a human. Branch
// and Rev are independently optional; an empty string means absent. For
// GitHub references the Branch slot may hold a tag name until resolved.
type PartialRef struct {
	Kind   VCSKind
	URL    string
	Owner  string
	Repo   string
	Branch string
	Rev    string
}

func (r PartialRef) State() RefState {
	switch {
	case r.Branch != "" && r.Rev != "":
		return RefStateFull
	case r.Rev != "":
		return RefStateRevOnly
	case r.Branch != "":
		return RefStateBranchOnly
	default:
		return RefStateBare
	}
}

// FetchURL is the URL a VCS client can talk to for this reference.
func (r PartialRef) FetchURL() string {
	if r.Kind == VCSKindGitHub {
		return GitHubURL(r.Owner, r.Repo)
	}
	return r.URL
}

// Describe renders the reference for messages, keeping absent fields visible.
func (r PartialRef) Describe() string {
	switch r.Kind {
	case VCSKindGitHub:
		return fmt.Sprintf("github:%s/%s/%s/%s", r.Owner, r.Repo, r.Branch, r.Rev)
	case VCSKindMercurial:
		return fmt.Sprintf("hg+%s?rev=%s", r.URL, r.Rev)
	default:
		return fmt.Sprintf("git+%s?ref=%s&rev=%s", r.URL, r.Branch, r.Rev)
	}
}

// PinnedRef is a fully resolved reference. Git and GitHub pins always
// carry both Branch and Rev; Mercurial pins carry Rev only.
type PinnedRef struct {
	Kind   VCSKind
	URL    string
	Owner  string
	Repo   string
	Branch string
	Rev    string
}

// String returns the display and round-trip form that is persisted in the
// declaration. A GitHub branch containing a slash cannot share the path
// with a non-commit rev, so it moves to the query.
func (p PinnedRef) String() string {
	switch p.Kind {
	case VCSKindGitHub:
		if strings.Contains(p.Branch, "/") {
			return fmt.Sprintf("github:%s/%s?ref=%s&rev=%s", p.Owner, p.Repo, queryValue(p.Branch), queryValue(p.Rev))
		}
		return fmt.Sprintf("github:%s/%s/%s/%s", p.Owner, p.Repo, p.Branch, p.Rev)
	case VCSKindMercurial:
		return fmt.Sprintf("hg+%s?rev=%s", p.URL, queryValue(p.Rev))
	default:
		return fmt.Sprintf("git+%s?ref=%s&rev=%s", p.URL, queryValue(p.Branch), queryValue(p.Rev))
	}
}

// queryEscaper leaves everything readable except the characters that would
// split or truncate a reference query. The parser reverses it with
// url.PathUnescape, which keeps '+' literal.
var queryEscaper = strings.NewReplacer("%", "%25", "&", "%26", "=", "%3D", "#", "%23", " ", "%20")

func queryValue(value string) string {
	return queryEscaper.Replace(value)
}

// InputURL returns the short form used as a flake input url.
func (p PinnedRef) InputURL() string {
	if p.Kind == VCSKindGitHub {
		return fmt.Sprintf("github:%s/%s/%s", p.Owner, p.Repo, p.Rev)
	}
	return p.String()
}

// WithRev returns a copy pointing at a different revision; used when a
// tag name has to be replaced by its commit for the manifest.
func (p PinnedRef) WithRev(rev string) PinnedRef {
	p.Rev = rev
	return p
}

// AsGit converts a GitHub pin into the equivalent clone-backed reference.
// Both forms resolve to the same commit.
func (p PinnedRef) AsGit() PinnedRef {
	if p.Kind != VCSKindGitHub {
		return p
	}
	return PinnedRef{
		Kind:   VCSKindGit,
		URL:    GitHubURL(p.Owner, p.Repo) + ".git",
		Branch: p.Branch,
		Rev:    p.Rev,
	}
}

func (p PinnedRef) Partial() PartialRef {
	return PartialRef(p)
}

func (p PinnedRef) FetchURL() string {
	return p.Partial().FetchURL()
}

func GitHubURL(owner string, repo string) string {
	return fmt.Sprintf("https://github.com/%s/%s", owner, strings.TrimSuffix(repo, ".git"))
}

// RemoteRef is one line of a remote ref listing.
type RemoteRef struct {
	Hash string
	Name string
}

type TagEntry struct {
	Name   string
	Commit string
}

type CommitEntry struct {
	SHA  string
	Date string
}

// ArchiveVerdict is the outcome of inspecting a revision's tarball.
type ArchiveVerdict struct {
	Hash     string
	NeedsGit bool
}
