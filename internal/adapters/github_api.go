package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"flakepin/internal/ports"
	"flakepin/internal/shared"
	"flakepin/internal/types"
)

const (
	defaultGitHubAPIBase     = "https://api.github.com"
	defaultGitHubArchiveBase = "https://github.com"
	defaultHTTPTimeout       = 60 * time.Second
	githubPageSize           = 100
	maxErrorBody             = 512
)

// HTTPConfig carries the transport settings shared by the HTTP adapters.
// Requests are never retried.
type HTTPConfig struct {
	Token      string
	Proxy      string
	TimeoutSec int
}

func newHTTPClient(cfg HTTPConfig) (*http.Client, error) {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxy := strings.TrimSpace(cfg.Proxy); proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInvalidArgument).
				WithMsg(fmt.Sprintf("invalid http proxy %q", proxy)).
				WithCause(err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}
	return &http.Client{Timeout: timeout, Transport: transport}, nil
}

// GitHubAPIAdapter talks to the GitHub REST API.
type GitHubAPIAdapter struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewGitHubAPIAdapter(baseURL string, cfg HTTPConfig) (GitHubAPIAdapter, error) {
	client, err := newHTTPClient(cfg)
	if err != nil {
		return GitHubAPIAdapter{}, err
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultGitHubAPIBase
	}
	return GitHubAPIAdapter{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   strings.TrimSpace(cfg.Token),
		Client:  client,
	}, nil
}

type githubTag struct {
	Name   string `json:"name"`
	Commit struct {
		SHA string `json:"sha"`
	} `json:"commit"`
}

type githubCommit struct {
	SHA    string `json:"sha"`
	Commit struct {
		Committer struct {
			Date string `json:"date"`
		} `json:"committer"`
	} `json:"commit"`
}

func (a GitHubAPIAdapter) ListTagsPage(ctx context.Context, owner string, repo string, page int) ([]types.TagEntry, error) {
	var payload []githubTag
	if err := a.getPage(ctx, owner, repo, "tags", page, &payload); err != nil {
		return nil, err
	}
	entries := make([]types.TagEntry, 0, len(payload))
	for _, tag := range payload {
		entries = append(entries, types.TagEntry{Name: tag.Name, Commit: tag.Commit.SHA})
	}
	return entries, nil
}

func (a GitHubAPIAdapter) ListCommitsPage(ctx context.Context, owner string, repo string, page int) ([]types.CommitEntry, error) {
	var payload []githubCommit
	if err := a.getPage(ctx, owner, repo, "commits", page, &payload); err != nil {
		return nil, err
	}
	entries := make([]types.CommitEntry, 0, len(payload))
	for _, commit := range payload {
		entries = append(entries, types.CommitEntry{SHA: commit.SHA, Date: normalizeCommitDate(commit.Commit.Committer.Date)})
	}
	return entries, nil
}

var commitDateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05 -0700 MST",
	"2006-01-02 15:04:05",
}

// normalizeCommitDate rewrites a committer date to RFC 3339 in UTC. Values
// that match no known layout are returned unchanged.
func normalizeCommitDate(value string) string {
	trimmed := strings.TrimSpace(value)
	for _, layout := range commitDateLayouts {
		if parsed, err := time.Parse(layout, trimmed); err == nil {
			return parsed.UTC().Format(time.RFC3339)
		}
	}
	return value
}

func (a GitHubAPIAdapter) getPage(ctx context.Context, owner string, repo string, endpoint string, page int, out any) error {
	if strings.TrimSpace(owner) == "" || strings.TrimSpace(repo) == "" {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("github owner and repo are required")
	}
	if page < 1 {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid page %d", page))
	}
	base := a.BaseURL
	if base == "" {
		base = defaultGitHubAPIBase
	}
	target := fmt.Sprintf("%s/repos/%s/%s/%s?per_page=%d&page=%d",
		base, url.PathEscape(owner), url.PathEscape(repo), endpoint, githubPageSize, page)
	resp, err := a.do(ctx, target, "application/vnd.github+json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("malformed github response from %s", target)).
			WithCause(err)
	}
	return nil
}

func (a GitHubAPIAdapter) do(ctx context.Context, target string, accept string) (*http.Response, error) {
	return doGet(ctx, a.Client, target, a.Token, accept)
}

// ArchiveHTTPAdapter downloads revision tarballs from a GitHub-compatible
// host.
type ArchiveHTTPAdapter struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewArchiveHTTPAdapter(baseURL string, cfg HTTPConfig) (ArchiveHTTPAdapter, error) {
	client, err := newHTTPClient(cfg)
	if err != nil {
		return ArchiveHTTPAdapter{}, err
	}
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultGitHubArchiveBase
	}
	return ArchiveHTTPAdapter{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   strings.TrimSpace(cfg.Token),
		Client:  client,
	}, nil
}

func (a ArchiveHTTPAdapter) FetchArchive(ctx context.Context, owner string, repo string, rev string) (io.ReadCloser, error) {
	if strings.TrimSpace(rev) == "" {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("archive rev is required")
	}
	base := a.BaseURL
	if base == "" {
		base = defaultGitHubArchiveBase
	}
	target := fmt.Sprintf("%s/%s/%s/archive/%s.tar.gz", base, url.PathEscape(owner), url.PathEscape(repo), url.PathEscape(rev))
	resp, err := doGet(ctx, a.Client, target, a.Token, "application/gzip")
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// doGet issues one GET and returns the response only for 2xx statuses.
func doGet(ctx context.Context, client *http.Client, target string, token string, accept string) (*http.Response, error) {
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create request").
			WithCause(err)
	}
	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", "flakepin")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errbuilder.New().
				WithCode(errbuilder.CodeInternal).
				WithMsg("request canceled").
				WithCause(ctx.Err())
		}
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("request to %s failed", target)).
			WithCause(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		code := errbuilder.CodeInternal
		if resp.StatusCode == http.StatusNotFound {
			code = errbuilder.CodeNotFound
		}
		return nil, errbuilder.New().
			WithCode(code).
			WithMsg(fmt.Sprintf("unexpected response from %s", target)).
			WithCause(shared.HTTPStatusErrorWithBody(resp.StatusCode, target, strings.TrimSpace(string(body))))
	}
	return resp, nil
}

var _ ports.GitHubAPIPort = GitHubAPIAdapter{}
var _ ports.ArchivePort = ArchiveHTTPAdapter{}
