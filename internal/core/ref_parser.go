package core

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"flakepin/internal/shared"
	"flakepin/internal/types"
)

const (
	schemeGit       = "git+"
	schemeGitHub    = "github:"
	schemeMercurial = "hg+"
)

var localPathPrefixes = []string{"path:", "file:", "/", "./", "../", "~"}

// ParseRef parses a textual locator into a possibly partial reference.
// It performs no I/O.
func ParseRef(locator string) (types.PartialRef, error) {
	value := strings.TrimSpace(locator)
	if value == "" {
		return types.PartialRef{}, parseError(locator, "reference is empty")
	}
	for _, prefix := range localPathPrefixes {
		if strings.HasPrefix(value, prefix) {
			return types.PartialRef{}, parseError(locator, "local path references cannot be pinned to a revision, use git+file:// instead")
		}
	}
	switch {
	case strings.HasPrefix(value, schemeGit):
		return parseGitRef(locator, strings.TrimPrefix(value, schemeGit))
	case strings.HasPrefix(value, schemeGitHub):
		return parseGitHubRef(locator, strings.TrimPrefix(value, schemeGitHub))
	case strings.HasPrefix(value, schemeMercurial):
		return parseMercurialRef(locator, strings.TrimPrefix(value, schemeMercurial))
	}
	scheme, _, found := strings.Cut(value, ":")
	if !found {
		scheme = value
	}
	return types.PartialRef{}, parseError(locator, fmt.Sprintf("unknown reference scheme %q (expected git+, github: or hg+)", scheme))
}

// MustParseRef is ParseRef for compiled-in defaults.
func MustParseRef(locator string) types.PartialRef {
	ref, err := ParseRef(locator)
	if err != nil {
		panic(err)
	}
	return ref
}

func parseGitRef(locator string, rest string) (types.PartialRef, error) {
	base, rawQuery, _ := strings.Cut(rest, "?")
	if base == "" {
		return types.PartialRef{}, parseError(locator, "git reference has no url")
	}
	params, err := parseRefQuery(locator, rawQuery, "ref", "rev")
	if err != nil {
		return types.PartialRef{}, err
	}
	return types.PartialRef{
		Kind:   types.VCSKindGit,
		URL:    base,
		Branch: params["ref"],
		Rev:    params["rev"],
	}, nil
}

func parseGitHubRef(locator string, rest string) (types.PartialRef, error) {
	path, rawQuery, _ := strings.Cut(rest, "?")
	segments := strings.Split(path, "/")
	if len(segments) < 2 || segments[0] == "" || segments[1] == "" {
		return types.PartialRef{}, parseError(locator, "expected github:<owner>/<repo>[/<branch-or-tag>[/<rev>]]")
	}
	ref := types.PartialRef{
		Kind:  types.VCSKindGitHub,
		Owner: segments[0],
		Repo:  strings.TrimSuffix(segments[1], ".git"),
	}
	switch len(segments) {
	case 2:
	case 3:
		if shared.IsCommitHash(segments[2]) {
			ref.Rev = segments[2]
		} else {
			ref.Branch = segments[2]
		}
	case 4:
		ref.Branch = segments[2]
		ref.Rev = segments[3]
		if ref.Rev == "" && shared.IsCommitHash(ref.Branch) {
			ref.Rev = ref.Branch
			ref.Branch = ""
		}
	default:
		// branch names containing slashes only survive when followed by a commit
		last := segments[len(segments)-1]
		if !shared.IsCommitHash(last) {
			return types.PartialRef{}, parseError(locator, "too many path segments in github reference")
		}
		ref.Branch = strings.Join(segments[2:len(segments)-1], "/")
		ref.Rev = last
	}
	params, err := parseRefQuery(locator, rawQuery, "ref", "rev")
	if err != nil {
		return types.PartialRef{}, err
	}
	if value, ok := params["ref"]; ok {
		if ref.Branch != "" {
			return types.PartialRef{}, parseError(locator, "branch given both in path and query")
		}
		ref.Branch = value
	}
	if value, ok := params["rev"]; ok {
		if ref.Rev != "" {
			return types.PartialRef{}, parseError(locator, "rev given both in path and query")
		}
		ref.Rev = value
	}
	return ref, nil
}

// AmbiguousBranchPath reports whether locator is a github path of the form
// <owner>/<repo>/<a>/<b> where b is not a commit. That is how a tag rev is
// written, and also how a branch such as release/1.x reads by mistake.
func AmbiguousBranchPath(locator string) bool {
	rest, ok := strings.CutPrefix(strings.TrimSpace(locator), schemeGitHub)
	if !ok {
		return false
	}
	path, _, _ := strings.Cut(rest, "?")
	segments := strings.Split(path, "/")
	return len(segments) == 4 && segments[2] != "" && segments[3] != "" && !shared.IsCommitHash(segments[3])
}

func parseMercurialRef(locator string, rest string) (types.PartialRef, error) {
	base, rawQuery, _ := strings.Cut(rest, "?")
	if base == "" {
		return types.PartialRef{}, parseError(locator, "mercurial reference has no url")
	}
	params, err := parseRefQuery(locator, rawQuery, "rev")
	if err != nil {
		return types.PartialRef{}, err
	}
	return types.PartialRef{
		Kind: types.VCSKindMercurial,
		URL:  base,
		Rev:  params["rev"],
	}, nil
}

// parseRefQuery decodes the query string and rejects keys outside allowed
// as well as repeated keys. Values are path-unescaped so a '+' in a branch
// name stays a '+'.
func parseRefQuery(locator string, rawQuery string, allowed ...string) (map[string]string, error) {
	out := map[string]string{}
	if rawQuery == "" {
		return out, nil
	}
	for _, pair := range strings.Split(rawQuery, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.PathUnescape(rawKey)
		if err != nil {
			return nil, malformedQuery(locator, err)
		}
		value, err := url.PathUnescape(rawValue)
		if err != nil {
			return nil, malformedQuery(locator, err)
		}
		if !containsString(allowed, key) {
			return nil, parseError(locator, fmt.Sprintf("unknown query key %q (allowed: %s)", key, strings.Join(allowed, ", ")))
		}
		if _, dup := out[key]; dup {
			return nil, parseError(locator, fmt.Sprintf("query key %q given more than once", key))
		}
		out[key] = value
	}
	return out, nil
}

func malformedQuery(locator string, err error) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(fmt.Sprintf("malformed query string in reference %q", locator)).
		WithCause(err)
}

func parseError(locator string, msg string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(fmt.Sprintf("invalid reference %q: %s", locator, msg))
}

func containsString(values []string, needle string) bool {
	for _, value := range values {
		if value == needle {
			return true
		}
	}
	return false
}
