package app

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"flakepin/internal/adapters"
	"flakepin/internal/types"
)

type fakeRemote struct {
	mu    sync.Mutex
	refs  map[string][]types.RemoteRef
	calls int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{refs: map[string][]types.RemoteRef{}}
}

func (f *fakeRemote) head(url string, branch string, hash string) *fakeRemote {
	f.refs[url] = append(f.refs[url], types.RemoteRef{Hash: hash, Name: "refs/heads/" + branch})
	return f
}

func (f *fakeRemote) tag(url string, tag string, hash string) *fakeRemote {
	f.refs[url] = append(f.refs[url], types.RemoteRef{Hash: hash, Name: "refs/tags/" + tag})
	return f
}

func (f *fakeRemote) ListRefs(_ context.Context, url string, filter string) ([]types.RemoteRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	var out []types.RemoteRef
	for _, ref := range f.refs[url] {
		if filter == "" || ref.Name == filter || (strings.HasSuffix(filter, "/") && strings.HasPrefix(ref.Name, filter)) {
			out = append(out, ref)
		}
	}
	return out, nil
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeGitHub struct {
	mu      sync.Mutex
	tags    map[string][]types.TagEntry
	commits map[string][]types.CommitEntry
	calls   int
}

func newFakeGitHub() *fakeGitHub {
	return &fakeGitHub{tags: map[string][]types.TagEntry{}, commits: map[string][]types.CommitEntry{}}
}

func (f *fakeGitHub) ListTagsPage(_ context.Context, owner string, repo string, page int) ([]types.TagEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if page != 1 {
		return nil, nil
	}
	return f.tags[owner+"/"+repo], nil
}

func (f *fakeGitHub) ListCommitsPage(_ context.Context, owner string, repo string, page int) ([]types.CommitEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if page != 1 {
		return nil, nil
	}
	return f.commits[owner+"/"+repo], nil
}

func (f *fakeGitHub) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeArchives serves a stable tarball for every revision except the
// repositories listed in exportSubst.
type fakeArchives struct {
	mu          sync.Mutex
	stable      []byte
	substituted []byte
	exportSubst map[string]bool
	calls       int
}

func newFakeArchives(t *testing.T) *fakeArchives {
	return &fakeArchives{
		stable:      tarball(t, map[string]string{"README.md": "stable\n"}),
		substituted: tarball(t, map[string]string{".gitattributes": "VERSION export-subst\n", "VERSION": "$Format:%H$\n"}),
		exportSubst: map[string]bool{},
	}
}

func (f *fakeArchives) FetchArchive(_ context.Context, owner string, repo string, _ string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	data := f.stable
	if f.exportSubst[owner+"/"+repo] {
		data = f.substituted
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type memStore struct {
	mu     sync.Mutex
	spaces map[string]map[string]string
}

func newMemStore() *memStore {
	return &memStore{spaces: map[string]map[string]string{}}
}

func (m *memStore) Load(keySpace string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]string{}
	for k, v := range m.spaces[keySpace] {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) Save(keySpace string, entries map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := map[string]string{}
	for k, v := range entries {
		copied[k] = v
	}
	m.spaces[keySpace] = copied
	return nil
}

// passGuard runs sections directly and counts them.
type passGuard struct {
	mu       sync.Mutex
	sections []string
}

func (g *passGuard) Run(_ context.Context, name string, fn func() error) error {
	g.mu.Lock()
	g.sections = append(g.sections, name)
	g.mu.Unlock()
	return fn()
}

type fakeCloner struct {
	calls []string
}

func (c *fakeCloner) Clone(_ context.Context, url string, rev string, branch string, targetDir string) error {
	c.calls = append(c.calls, fmt.Sprintf("%s %s %s %s", url, rev, branch, targetDir))
	return nil
}

type world struct {
	git      *fakeRemote
	github   *fakeGitHub
	archives *fakeArchives
	cache    *memStore
	guard    *passGuard
	cloner   *fakeCloner
}

func (w world) service() Service {
	declarations := adapters.NewTOMLDeclarationAdapter()
	return Service{
		Declarations: declarations,
		Writer:       declarations,
		Manifests:    adapters.NewManifestFileAdapter(),
		Git:          w.git,
		Cloner:       w.cloner,
		Mercurial:    newFakeRemote(),
		GitHub:       w.github,
		Archives:     w.archives,
		Cache:        w.cache,
		Guard:        w.guard,
		Clock:        func() time.Time { return time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC) },
	}
}

func hash40(seed string) string {
	return strings.Repeat(seed, 40)[:40]
}

// newWorld serves the default inputs plus a git-hosted python package.
func newWorld(t *testing.T) world {
	git := newFakeRemote().
		head("https://github.com/NixOS/nixpkgs", "master", hash40("0")).
		tag("https://github.com/NixOS/nixpkgs", "23.11", hash40("1")).
		tag("https://github.com/NixOS/nixpkgs", "24.05", hash40("2")).
		tag("https://github.com/NixOS/nixpkgs", "nixos-unstable", hash40("3")).
		head("https://github.com/numtide/flake-utils", "main", hash40("4")).
		head("https://github.com/nix-community/poetry2nix", "master", hash40("5")).
		head("https://github.com/DavHau/pypi-deps-db", "master", hash40("6")).
		head("https://example.com/widget.git", "main", hash40("7")).
		head("https://github.com/acme/tools", "main", hash40("8"))
	github := newFakeGitHub()
	github.tags["NixOS/nixpkgs"] = []types.TagEntry{
		{Name: "23.11", Commit: hash40("a")},
		{Name: "24.05", Commit: hash40("b")},
	}
	github.commits["DavHau/pypi-deps-db"] = []types.CommitEntry{
		{SHA: hash40("c"), Date: "2024-01-09T06:00:00Z"},
		{SHA: hash40("d"), Date: "2024-01-08T22:00:00Z"},
		{SHA: hash40("e"), Date: "2024-01-08T03:00:00Z"},
	}
	return world{
		git:      git,
		github:   github,
		archives: newFakeArchives(t),
		cache:    newMemStore(),
		guard:    &passGuard{},
		cloner:   &fakeCloner{},
	}
}

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func tarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, name := range sortedKeys(files) {
		body := files[name]
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: "repo/" + name, Mode: 0644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}
