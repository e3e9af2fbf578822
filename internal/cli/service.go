package cli

import (
	"context"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"flakepin/internal/app"
)

func newAppService(httpProxy string, httpTimeoutSec int) (app.Service, error) {
	return app.NewService(app.Options{
		CacheDir:       viper.GetString("cache_dir"),
		CacheRedisURL:  viper.GetString("cache_redis_url"),
		GitHubToken:    githubToken(),
		HTTPProxy:      httpProxy,
		HTTPTimeoutSec: httpTimeoutSec,
		VCSTimeoutSec:  viper.GetInt("vcs_timeout_sec"),
	})
}

// githubToken prefers FLAKEPIN_GITHUB_TOKEN (or github_token in the config
// file) and falls back to the GITHUB_TOKEN most CI systems export.
func githubToken() string {
	if token := strings.TrimSpace(viper.GetString("github_token")); token != "" {
		return token
	}
	return strings.TrimSpace(os.Getenv("GITHUB_TOKEN"))
}

// withLogger makes the global logger reachable through log.Ctx.
func withLogger(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return log.Logger.WithContext(ctx)
}
