package storage

import (
	"context"
	"strings"
	"sync"
	"time"

	"explorviz/core"
	"explorviz/metrics"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const cacheLabel = "graph"

// CachedStore serves read queries from an expiring LRU cache and forwards
// writes to the wrapped store. A write drops every cached entry of the
// landscape it touched.
//
// Each landscape carries a generation that every write bumps. A read only
// stores its result if the generation did not move while it was loading, so
// a load racing with a write never caches the pre-write value.
type CachedStore struct {
	GraphStore
	cache *expirable.LRU[string, any]

	mu          sync.Mutex
	generations map[string]uint64
}

// NewCachedStore wraps store with a cache of size entries that expire after ttl.
// A zero ttl disables expiry.
func NewCachedStore(store GraphStore, size int, ttl time.Duration) *CachedStore {
	return &CachedStore{
		GraphStore:  store,
		cache:       expirable.NewLRU[string, any](size, nil, ttl),
		generations: make(map[string]uint64),
	}
}

func cacheKey(token string, parts ...string) string {
	return token + "|" + strings.Join(parts, "|")
}

func (c *CachedStore) generation(token string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[token]
}

func (c *CachedStore) invalidate(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[token]++

	prefix := token + "|"
	for _, key := range c.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.cache.Remove(key)
		}
	}
}

// cached returns the entry for key or loads and stores it.
func cached[T any](c *CachedStore, token, key string, load func() (T, error)) (T, error) {
	if v, ok := c.cache.Get(key); ok {
		if typed, ok := v.(T); ok {
			metrics.CacheHits.WithLabelValues(cacheLabel).Inc()
			return typed, nil
		}
	}
	metrics.CacheMisses.WithLabelValues(cacheLabel).Inc()

	gen := c.generation(token)
	v, err := load()
	if err != nil {
		var zero T
		return zero, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[token] == gen {
		c.cache.Add(key, v)
	}
	return v, nil
}

func (c *CachedStore) PersistSpan(ctx context.Context, span core.Span) error {
	defer c.invalidate(span.LandscapeToken)
	return c.GraphStore.PersistSpan(ctx, span)
}

func (c *CachedStore) RegisterRepository(ctx context.Context, token, repository, branch string) error {
	defer c.invalidate(token)
	return c.GraphStore.RegisterRepository(ctx, token, repository, branch)
}

func (c *CachedStore) PersistCommit(ctx context.Context, commit core.Commit) error {
	defer c.invalidate(commit.LandscapeToken)
	return c.GraphStore.PersistCommit(ctx, commit)
}

func (c *CachedStore) PersistFileData(ctx context.Context, data core.FileData) error {
	defer c.invalidate(data.LandscapeToken)
	return c.GraphStore.PersistFileData(ctx, data)
}

func (c *CachedStore) PersistCommitReport(ctx context.Context, report core.CommitReport) error {
	defer c.invalidate(report.LandscapeToken)
	return c.GraphStore.PersistCommitReport(ctx, report)
}

func (c *CachedStore) Timestamps(ctx context.Context, token string) ([]core.Timestamp, error) {
	return cached(c, token, cacheKey(token, "timestamps"), func() ([]core.Timestamp, error) {
		return c.GraphStore.Timestamps(ctx, token)
	})
}

func (c *CachedStore) Structure(ctx context.Context, token string) ([]core.Application, error) {
	return cached(c, token, cacheKey(token, "structure"), func() ([]core.Application, error) {
		return c.GraphStore.Structure(ctx, token)
	})
}

func (c *CachedStore) Repositories(ctx context.Context, token string) ([]string, error) {
	return cached(c, token, cacheKey(token, "repositories"), func() ([]string, error) {
		return c.GraphStore.Repositories(ctx, token)
	})
}

// LatestCommit caches hits only, so a commit completing later is seen on
// the next call.
func (c *CachedStore) LatestCommit(ctx context.Context, token, repository, branch string) (*core.CommitSummary, error) {
	return cached(c, token, cacheKey(token, "commit", repository, branch), func() (*core.CommitSummary, error) {
		return c.GraphStore.LatestCommit(ctx, token, repository, branch)
	})
}

func (c *CachedStore) StaticApplications(ctx context.Context, token string) ([]string, error) {
	return cached(c, token, cacheKey(token, "applications"), func() ([]string, error) {
		return c.GraphStore.StaticApplications(ctx, token)
	})
}

func (c *CachedStore) CommitTree(ctx context.Context, token, application string) (*core.CommitTree, error) {
	return cached(c, token, cacheKey(token, "tree", application), func() (*core.CommitTree, error) {
		return c.GraphStore.CommitTree(ctx, token, application)
	})
}

// Close purges the cache and closes the wrapped store.
func (c *CachedStore) Close(ctx context.Context) error {
	c.cache.Purge()
	return c.GraphStore.Close(ctx)
}
