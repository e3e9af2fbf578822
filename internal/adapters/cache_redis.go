package adapters

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/redis/go-redis/v9"

	"flakepin/internal/ports"
)

const (
	defaultRedisKeyPrefix = "flakepin:"
	defaultRedisTimeout   = 10 * time.Second
)

// RedisCacheAdapter keeps each key space in one redis hash so several
// machines can share lookups. Save only adds fields; entries are never
// removed, matching the file store.
type RedisCacheAdapter struct {
	Client  *redis.Client
	Prefix  string
	Timeout time.Duration
}

// NewRedisCacheAdapter connects lazily; a bad address surfaces on the first
// Load or Save.
func NewRedisCacheAdapter(rawURL string) (RedisCacheAdapter, error) {
	opts, err := redis.ParseURL(strings.TrimSpace(rawURL))
	if err != nil {
		return RedisCacheAdapter{}, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("invalid redis cache url").
			WithCause(err)
	}
	return RedisCacheAdapter{
		Client:  redis.NewClient(opts),
		Prefix:  defaultRedisKeyPrefix,
		Timeout: defaultRedisTimeout,
	}, nil
}

func (a RedisCacheAdapter) Load(keySpace string) (map[string]string, error) {
	key, err := a.key(keySpace)
	if err != nil {
		return nil, err
	}
	ctx, cancel := a.context()
	defer cancel()
	entries, err := a.Client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to read cache %s", key)).
			WithCause(err)
	}
	if entries == nil {
		entries = map[string]string{}
	}
	return entries, nil
}

func (a RedisCacheAdapter) Save(keySpace string, entries map[string]string) error {
	key, err := a.key(keySpace)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	fields := make(map[string]any, len(entries))
	for k, v := range entries {
		fields[k] = v
	}
	ctx, cancel := a.context()
	defer cancel()
	if err := a.Client.HSet(ctx, key, fields).Err(); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("failed to write cache %s", key)).
			WithCause(err)
	}
	return nil
}

func (a RedisCacheAdapter) Close() error {
	if a.Client == nil {
		return nil
	}
	return a.Client.Close()
}

func (a RedisCacheAdapter) key(keySpace string) (string, error) {
	if a.Client == nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("redis cache has no client")
	}
	name := strings.Trim(unsafeKeySpaceChars.ReplaceAllString(keySpace, "_"), "._")
	if name == "" {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid cache key space %q", keySpace))
	}
	return a.Prefix + name, nil
}

func (a RedisCacheAdapter) context() (context.Context, context.CancelFunc) {
	timeout := a.Timeout
	if timeout <= 0 {
		timeout = defaultRedisTimeout
	}
	return context.WithTimeout(context.Background(), timeout)
}

var _ ports.CacheStorePort = RedisCacheAdapter{}
