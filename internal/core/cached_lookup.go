package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/rs/zerolog/log"

	"flakepin/internal/ports"
)

// RetrieveFunc performs the remote search for a cache miss and returns every
// key->value pair it discovered. Entries returned together with an error are
// still merged into the cache.
type RetrieveFunc func(ctx context.Context) (map[string]string, error)

// CachedLookup memoizes remote key->value lookups in persistent key spaces.
// Read-modify-write cycles on one key space never interleave.
type CachedLookup struct {
	Store ports.CacheStorePort

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewCachedLookup(store ports.CacheStorePort) *CachedLookup {
	return &CachedLookup{
		Store: store,
		locks: map[string]*sync.Mutex{},
	}
}

// Fetch returns the cached value for query, or runs retrieve once, merges and
// persists its result and looks query up again.
func (c *CachedLookup) Fetch(ctx context.Context, keySpace string, query string, retrieve RetrieveFunc) (string, error) {
	if c.Store == nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("cached lookup requires a cache store")
	}
	lock := c.spaceLock(keySpace)
	lock.Lock()
	defer lock.Unlock()

	entries, err := c.Store.Load(keySpace)
	if err != nil {
		return "", err
	}
	if value, ok := entries[query]; ok {
		log.Ctx(ctx).Debug().Str("key_space", keySpace).Str("query", query).Msg("cache hit")
		return value, nil
	}
	log.Ctx(ctx).Debug().Str("key_space", keySpace).Str("query", query).Msg("cache miss")

	batch, retrieveErr := retrieve(ctx)
	merged, added := mergeEntries(entries, batch)
	if added > 0 {
		if err := c.Store.Save(keySpace, merged); err != nil {
			return "", err
		}
	}
	if retrieveErr != nil {
		return "", retrieveErr
	}
	value, ok := merged[query]
	if !ok {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeNotFound).
			WithMsg(fmt.Sprintf("%q not found in %s", query, keySpace))
	}
	return value, nil
}

func (c *CachedLookup) spaceLock(keySpace string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.locks == nil {
		c.locks = map[string]*sync.Mutex{}
	}
	lock, ok := c.locks[keySpace]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[keySpace] = lock
	}
	return lock
}

// mergeEntries adds batch to existing without overwriting known keys, so a
// key space only ever grows.
func mergeEntries(existing map[string]string, batch map[string]string) (map[string]string, int) {
	merged := make(map[string]string, len(existing)+len(batch))
	for key, value := range existing {
		merged[key] = value
	}
	added := 0
	for key, value := range batch {
		if _, ok := merged[key]; ok {
			continue
		}
		merged[key] = value
		added++
	}
	return merged, added
}
