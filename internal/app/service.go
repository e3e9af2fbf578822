package app

import (
	"strings"
	"time"

	"flakepin/internal/adapters"
	"flakepin/internal/ports"
)

// Options configures the adapters behind a Service.
type Options struct {
	CacheDir       string
	CacheRedisURL  string
	GitHubToken    string
	HTTPProxy      string
	HTTPTimeoutSec int
	VCSTimeoutSec  int
	GitHubAPIURL   string
	ArchiveURL     string
}

type Service struct {
	Declarations ports.DeclarationPort
	Writer       ports.DeclarationWriterPort
	Manifests    ports.ManifestPort
	Git          ports.RemoteRefsPort
	Cloner       ports.ClonePort
	Mercurial    ports.RemoteRefsPort
	GitHub       ports.GitHubAPIPort
	Archives     ports.ArchivePort
	Cache        ports.CacheStorePort
	Guard        ports.CriticalSectionPort
	Clock        func() time.Time
}

func NewService(opts Options) (Service, error) {
	httpCfg := adapters.HTTPConfig{
		Token:      opts.GitHubToken,
		Proxy:      opts.HTTPProxy,
		TimeoutSec: opts.HTTPTimeoutSec,
	}
	github, err := adapters.NewGitHubAPIAdapter(opts.GitHubAPIURL, httpCfg)
	if err != nil {
		return Service{}, err
	}
	archives, err := adapters.NewArchiveHTTPAdapter(opts.ArchiveURL, httpCfg)
	if err != nil {
		return Service{}, err
	}
	cache, err := newCacheStore(opts)
	if err != nil {
		return Service{}, err
	}
	declarations := adapters.NewTOMLDeclarationAdapter()
	git := adapters.NewGitCLIAdapter()
	mercurial := adapters.NewMercurialCLIAdapter()
	if opts.VCSTimeoutSec > 0 {
		git.Timeout = time.Duration(opts.VCSTimeoutSec) * time.Second
		mercurial.Timeout = git.Timeout
	}
	return Service{
		Declarations: declarations,
		Writer:       declarations,
		Manifests:    adapters.NewManifestFileAdapter(),
		Git:          git,
		Cloner:       git,
		Mercurial:    mercurial,
		GitHub:       github,
		Archives:     archives,
		Cache:        cache,
		Guard:        adapters.NewInterruptGuard(),
		Clock:        time.Now,
	}, nil
}

// newCacheStore prefers a shared redis store when one is configured.
func newCacheStore(opts Options) (ports.CacheStorePort, error) {
	if strings.TrimSpace(opts.CacheRedisURL) != "" {
		return adapters.NewRedisCacheAdapter(opts.CacheRedisURL)
	}
	return adapters.NewCacheFileAdapter(opts.CacheDir), nil
}
