package ports

import (
	"context"
	"io"

	"flakepin/internal/types"
)

// RemoteRefsPort lists refs of a remote repository. An empty filter lists
// everything; a filter ending in "/" lists every ref below that prefix.
type RemoteRefsPort interface {
	ListRefs(ctx context.Context, url string, filter string) ([]types.RemoteRef, error)
}

// ClonePort materializes one exact revision into targetDir. On failure the
// partially created directory is removed.
type ClonePort interface {
	Clone(ctx context.Context, url string, rev string, branch string, targetDir string) error
}

// GitHubAPIPort exposes the paginated listing endpoints of a hosted API.
// Pages are 1-based and hold at most 100 entries.
type GitHubAPIPort interface {
	ListTagsPage(ctx context.Context, owner string, repo string, page int) ([]types.TagEntry, error)
	ListCommitsPage(ctx context.Context, owner string, repo string, page int) ([]types.CommitEntry, error)
}

// ArchivePort fetches the source tarball of a revision.
type ArchivePort interface {
	FetchArchive(ctx context.Context, owner string, repo string, rev string) (io.ReadCloser, error)
}
