package snapshot

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"panopticon/internal/telemetry"
)

// Fetcher populates the cache on a miss. Implemented by the source
// connector; substituted by fakes in tests.
type Fetcher interface {
	Fetch(ctx context.Context, ref RepositoryRef) (*Snapshot, error)
}

// Cache is a bounded LRU of snapshots keyed by (repository, revision,
// credential digest). Entries expire after the configured TTL, which
// bounds how long an upstream branch move can go unnoticed. Population
// is single-flight: concurrent misses for one key share a single fetch
// and all observe its result, success or failure alike. A failed fetch
// is never cached.
type Cache struct {
	fetcher Fetcher
	lru     *expirable.LRU[string, *Snapshot]
	group   singleflight.Group
	metrics *telemetry.Metrics
}

// NewCache creates a snapshot cache holding at most maxEntries
// snapshots, each for at most ttl. metrics may be nil.
func NewCache(fetcher Fetcher, maxEntries int, ttl time.Duration, metrics *telemetry.Metrics) *Cache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &Cache{
		fetcher: fetcher,
		lru:     expirable.NewLRU[string, *Snapshot](maxEntries, nil, ttl),
		metrics: metrics,
	}
}

// GetOrFetch returns the cached snapshot for ref, fetching it through
// the source connector on a miss. Concurrent callers for the same key
// block on the one in-flight fetch. A caller whose context is cancelled
// while waiting detaches without cancelling the fetch for the others.
func (c *Cache) GetOrFetch(ctx context.Context, ref RepositoryRef) (*Snapshot, error) {
	key := ref.CacheKey()

	if snap, ok := c.lru.Get(key); ok {
		c.metrics.RecordCacheHit(ctx)
		return snap, nil
	}
	c.metrics.RecordCacheMiss(ctx)

	ch := c.group.DoChan(key, func() (any, error) {
		// Another waiter may have completed the fetch between our miss
		// and joining the flight.
		if snap, ok := c.lru.Get(key); ok {
			return snap, nil
		}

		// The fetch must survive any single waiter's cancellation;
		// other waiters may still want the result.
		fetchCtx := context.WithoutCancel(ctx)

		start := time.Now()
		snap, err := c.fetcher.Fetch(fetchCtx, ref)
		c.metrics.RecordFetch(ctx, time.Since(start), err == nil)
		if err != nil {
			return nil, err
		}

		c.lru.Add(key, snap)
		return snap, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	}
}

// Evict drops the cached snapshot for ref, if present.
func (c *Cache) Evict(ref RepositoryRef) {
	c.lru.Remove(ref.CacheKey())
}

// Len returns the number of cached snapshots.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge drops every cached snapshot.
func (c *Cache) Purge() {
	c.lru.Purge()
}
