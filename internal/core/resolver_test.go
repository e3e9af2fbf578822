package core

import (
	"context"
	"errors"
	"testing"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flakepin/internal/types"
)

const widgetURL = "https://github.com/acme/widget"

func widgetRemote() *fakeRemote {
	return newFakeRemote().
		addHead(widgetURL, "main", hash40("a")).
		addHead(widgetURL, "dev", hash40("d")).
		addTag(widgetURL, "v1.0", hash40("1")).
		addTag(widgetURL, "v2.0", hash40("2")).
		addTag(widgetURL, "v2.1", hash40("3"))
}

func TestResolveGitHubMatrix(t *testing.T) {
	rev := hash40("c")
	cases := []struct {
		name    string
		locator string
		policy  types.ResolutionPolicy
		want    string
		changed bool
	}{
		{
			name:    "bare follows default branch head",
			locator: "github:acme/widget",
			policy:  types.NewestPolicy(),
			want:    "github:acme/widget/main/" + hash40("a"),
			changed: true,
		},
		{
			name:    "bare with newest tag",
			locator: "github:acme/widget",
			policy:  types.NewestTagPolicy(`^v\d+\.\d+$`),
			want:    "github:acme/widget/main/v2.1",
			changed: true,
		},
		{
			name:    "branch only",
			locator: "github:acme/widget/dev",
			policy:  types.NewestPolicy(),
			want:    "github:acme/widget/dev/" + hash40("d"),
			changed: true,
		},
		{
			name:    "tag in branch slot",
			locator: "github:acme/widget/v2.0",
			policy:  types.NewestPolicy(),
			want:    "github:acme/widget/main/v2.0",
			changed: true,
		},
		{
			name:    "rev only",
			locator: "github:acme/widget//v2.0",
			policy:  types.NewestPolicy(),
			want:    "github:acme/widget/main/v2.0",
			changed: true,
		},
		{
			name:    "full is untouched",
			locator: "github:acme/widget/dev/" + rev,
			policy:  types.NewestTagPolicy(`^v`),
			want:    "github:acme/widget/dev/" + rev,
			changed: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ref, err := ParseRef(tc.locator)
			require.NoError(t, err)
			resolver := NewResolver(widgetRemote(), nil)
			pinned, changed, err := resolver.Resolve(context.Background(), ref, tc.policy)
			require.NoError(t, err)
			assert.Equal(t, tc.want, pinned.String())
			assert.Equal(t, tc.changed, changed)
		})
	}
}

func TestResolveFullReferenceMakesNoRemoteCall(t *testing.T) {
	remote := newFakeRemote()
	resolver := NewResolver(remote, remote)
	for _, locator := range []string{
		"github:acme/widget/main/" + hash40("e"),
		"git+https://example.com/repo.git?ref=main&rev=" + hash40("e"),
		"hg+https://hg.example.org/p?rev=" + hash40("e"),
	} {
		ref, err := ParseRef(locator)
		require.NoError(t, err)
		_, changed, err := resolver.Resolve(context.Background(), ref, types.NewestPolicy())
		require.NoError(t, err)
		assert.False(t, changed, locator)
	}
	assert.Zero(t, remote.callCount())
}

func TestResolveIsIdempotent(t *testing.T) {
	remote := widgetRemote()
	resolver := NewResolver(remote, nil)
	ref, err := ParseRef("github:acme/widget")
	require.NoError(t, err)

	first, changed, err := resolver.Resolve(context.Background(), ref, types.NewestPolicy())
	require.NoError(t, err)
	require.True(t, changed)
	calls := remote.callCount()

	reparsed, err := ParseRef(first.String())
	require.NoError(t, err)
	second, changed, err := resolver.Resolve(context.Background(), reparsed, types.NewestPolicy())
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, first, second)
	assert.Equal(t, calls, remote.callCount())
}

func TestResolveSlashedBranchWithTagRoundTrips(t *testing.T) {
	remote := widgetRemote().addHead(widgetURL, "release/1.x", hash40("r"))
	resolver := NewResolver(remote, nil)
	policy := types.NewestTagPolicy("^v")
	ref, err := ParseRef("github:acme/widget?ref=release/1.x")
	require.NoError(t, err)

	first, changed, err := resolver.Resolve(context.Background(), ref, policy)
	require.NoError(t, err)
	require.True(t, changed)
	assert.Equal(t, "release/1.x", first.Branch)
	assert.Equal(t, "v2.1", first.Rev)
	calls := remote.callCount()

	reparsed, err := ParseRef(first.String())
	require.NoError(t, err)
	second, changed, err := resolver.Resolve(context.Background(), reparsed, policy)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, first, second)
	assert.Equal(t, calls, remote.callCount())
}

func TestResolveGitMatrix(t *testing.T) {
	const url = "https://example.com/tool.git"
	remote := newFakeRemote().
		addHead(url, "master", hash40("f")).
		addHead(url, "stable", hash40("5")).
		addTag(url, "1.9", hash40("6")).
		addTag(url, "1.10", hash40("7"))
	resolver := NewResolver(remote, nil)

	cases := []struct {
		locator string
		policy  types.ResolutionPolicy
		want    types.PinnedRef
	}{
		{
			locator: "git+" + url,
			policy:  types.NewestPolicy(),
			want:    types.PinnedRef{Kind: types.VCSKindGit, URL: url, Branch: "master", Rev: hash40("f")},
		},
		{
			locator: "git+" + url,
			policy:  types.NewestTagPolicy(`^\d+\.\d+$`),
			want:    types.PinnedRef{Kind: types.VCSKindGit, URL: url, Branch: "master", Rev: "1.10"},
		},
		{
			locator: "git+" + url + "?ref=stable",
			policy:  types.NewestPolicy(),
			want:    types.PinnedRef{Kind: types.VCSKindGit, URL: url, Branch: "stable", Rev: hash40("5")},
		},
		{
			locator: "git+" + url + "?rev=1.9",
			policy:  types.NewestPolicy(),
			want:    types.PinnedRef{Kind: types.VCSKindGit, URL: url, Branch: "master", Rev: "1.9"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.locator+" "+tc.policy.String(), func(t *testing.T) {
			ref, err := ParseRef(tc.locator)
			require.NoError(t, err)
			pinned, changed, err := resolver.Resolve(context.Background(), ref, tc.policy)
			require.NoError(t, err)
			assert.True(t, changed)
			if diff := cmp.Diff(tc.want, pinned); diff != "" {
				t.Fatalf("unexpected pin (-want +got):\n%s", diff)
			}
		})
	}
}

func TestResolveDefaultBranchAmbiguity(t *testing.T) {
	const url = "https://example.com/multi.git"
	remote := newFakeRemote().
		addHead(url, "develop", hash40("1")).
		addHead(url, "release", hash40("2"))
	resolver := NewResolver(remote, nil)

	ref, err := ParseRef("git+" + url)
	require.NoError(t, err)
	_, _, err = resolver.Resolve(context.Background(), ref, types.NewestPolicy())
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeFailedPrecondition, errbuilder.CodeOf(err))
	assert.Contains(t, err.Error(), "[develop, release]")
}

func TestResolveSingleBranchIsDefault(t *testing.T) {
	const url = "https://example.com/single.git"
	remote := newFakeRemote().addHead(url, "trunk", hash40("9"))
	resolver := NewResolver(remote, nil)

	ref, err := ParseRef("git+" + url)
	require.NoError(t, err)
	pinned, _, err := resolver.Resolve(context.Background(), ref, types.NewestPolicy())
	require.NoError(t, err)
	assert.Equal(t, "trunk", pinned.Branch)
	assert.Equal(t, hash40("9"), pinned.Rev)
}

func TestResolveErrors(t *testing.T) {
	t.Run("no branches", func(t *testing.T) {
		resolver := NewResolver(newFakeRemote(), nil)
		ref, err := ParseRef("git+https://example.com/empty.git")
		require.NoError(t, err)
		_, _, err = resolver.Resolve(context.Background(), ref, types.NewestPolicy())
		require.Error(t, err)
		assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))
	})

	t.Run("missing branch", func(t *testing.T) {
		resolver := NewResolver(widgetRemote(), nil)
		ref, err := ParseRef("git+" + widgetURL + "?ref=nope")
		require.NoError(t, err)
		_, _, err = resolver.Resolve(context.Background(), ref, types.NewestPolicy())
		require.Error(t, err)
		assert.Equal(t, errbuilder.CodeNotFound, errbuilder.CodeOf(err))
		assert.Contains(t, err.Error(), `branch "nope" not found`)
	})

	t.Run("no matching tag lists candidates", func(t *testing.T) {
		resolver := NewResolver(widgetRemote(), nil)
		ref, err := ParseRef("github:acme/widget")
		require.NoError(t, err)
		_, _, err = resolver.Resolve(context.Background(), ref, types.NewestTagPolicy(`^release-`))
		require.Error(t, err)
		assert.Equal(t, errbuilder.CodeFailedPrecondition, errbuilder.CodeOf(err))
		assert.Contains(t, err.Error(), "cannot pick newest tag")
	})

	t.Run("transport failure", func(t *testing.T) {
		remote := newFakeRemote()
		remote.err = errors.New("connection refused")
		resolver := NewResolver(remote, nil)
		ref, err := ParseRef("github:acme/widget")
		require.NoError(t, err)
		_, _, err = resolver.Resolve(context.Background(), ref, types.NewestPolicy())
		require.Error(t, err)
		assert.Equal(t, errbuilder.CodeInternal, errbuilder.CodeOf(err))
	})

	t.Run("missing port", func(t *testing.T) {
		resolver := NewResolver(nil, nil)
		ref, err := ParseRef("github:acme/widget")
		require.NoError(t, err)
		_, _, err = resolver.Resolve(context.Background(), ref, types.NewestPolicy())
		require.Error(t, err)
		assert.Equal(t, errbuilder.CodeInvalidArgument, errbuilder.CodeOf(err))
	})
}

func TestResolveMercurial(t *testing.T) {
	const url = "https://hg.example.org/project"
	tip := hash40("4")
	hg := newFakeRemote()
	hg.refs[url] = []types.RemoteRef{{Hash: tip, Name: "tip"}}
	resolver := NewResolver(nil, hg)

	ref, err := ParseRef("hg+" + url)
	require.NoError(t, err)
	pinned, changed, err := resolver.Resolve(context.Background(), ref, types.NewestPolicy())
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "hg+"+url+"?rev="+tip, pinned.String())
	assert.Empty(t, pinned.Branch)

	_, _, err = resolver.Resolve(context.Background(), ref, types.NewestTagPolicy(`.*`))
	require.Error(t, err)
	assert.Equal(t, errbuilder.CodeFailedPrecondition, errbuilder.CodeOf(err))
}
