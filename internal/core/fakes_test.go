package core

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"flakepin/internal/types"
)

// fakeRemote answers ls-remote style queries from a fixed ref table and
// counts calls, so tests can assert that nothing touched the network.
type fakeRemote struct {
	mu    sync.Mutex
	refs  map[string][]types.RemoteRef
	calls []string
	err   error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{refs: map[string][]types.RemoteRef{}}
}

func (f *fakeRemote) addHead(url string, branch string, hash string) *fakeRemote {
	f.refs[url] = append(f.refs[url], types.RemoteRef{Hash: hash, Name: "refs/heads/" + branch})
	return f
}

func (f *fakeRemote) addTag(url string, tag string, hash string) *fakeRemote {
	f.refs[url] = append(f.refs[url], types.RemoteRef{Hash: hash, Name: "refs/tags/" + tag})
	return f
}

func (f *fakeRemote) ListRefs(_ context.Context, url string, filter string) ([]types.RemoteRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url+" "+filter)
	if f.err != nil {
		return nil, f.err
	}
	var out []types.RemoteRef
	for _, ref := range f.refs[url] {
		switch {
		case filter == "":
			out = append(out, ref)
		case strings.HasSuffix(filter, "/") && strings.HasPrefix(ref.Name, filter):
			out = append(out, ref)
		case ref.Name == filter:
			out = append(out, ref)
		}
	}
	return out, nil
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// memStore is an in-memory cache store that records saves.
type memStore struct {
	mu     sync.Mutex
	spaces map[string]map[string]string
	saves  int
}

func newMemStore() *memStore {
	return &memStore{spaces: map[string]map[string]string{}}
}

func (m *memStore) Load(keySpace string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]string{}
	for key, value := range m.spaces[keySpace] {
		out[key] = value
	}
	return out, nil
}

func (m *memStore) Save(keySpace string, entries map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	copied := map[string]string{}
	for key, value := range entries {
		copied[key] = value
	}
	m.spaces[keySpace] = copied
	return nil
}

// fakeGitHub serves tag and commit pages from slices of 100-entry pages.
type fakeGitHub struct {
	mu          sync.Mutex
	tagPages    [][]types.TagEntry
	commitPages [][]types.CommitEntry
	tagCalls    []int
	commitCalls []int
	err         error
}

func (f *fakeGitHub) ListTagsPage(_ context.Context, _ string, _ string, page int) ([]types.TagEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tagCalls = append(f.tagCalls, page)
	if f.err != nil {
		return nil, f.err
	}
	if page < 1 || page > len(f.tagPages) {
		return nil, nil
	}
	return f.tagPages[page-1], nil
}

func (f *fakeGitHub) ListCommitsPage(_ context.Context, _ string, _ string, page int) ([]types.CommitEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitCalls = append(f.commitCalls, page)
	if f.err != nil {
		return nil, f.err
	}
	if page < 1 || page > len(f.commitPages) {
		return nil, nil
	}
	return f.commitPages[page-1], nil
}

// fakeArchives serves fixed tarballs keyed by rev.
type fakeArchives struct {
	mu       sync.Mutex
	archives map[string][]byte
	calls    int
}

func (f *fakeArchives) FetchArchive(_ context.Context, owner string, repo string, rev string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	data, ok := f.archives[rev]
	if !ok {
		return nil, fmt.Errorf("no archive for %s/%s@%s", owner, repo, rev)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// tarball builds a gzipped tar holding files under a top-level directory,
// the way hosted archives are laid out.
func tarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, name := range sortedFileNames(files) {
		body := files[name]
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name:     "widget-abc/" + name,
			Mode:     0644,
			Size:     int64(len(body)),
			Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func sortedFileNames(files map[string]string) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && names[j] < names[j-1]; j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
	return names
}

func hash40(seed string) string {
	return strings.Repeat(seed, 40)[:40]
}
