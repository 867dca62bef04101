// Package cache memoises read-only query results against the store generation.
package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"unified-planner/internal/telemetry"
)

type entry[V any] struct {
	generation uint64
	value      V
}

// QueryCache maps query keys to results tagged with the generation they were computed
// against. A lookup whose generation differs from the tag recomputes and overwrites the
// entry; stale values are never returned.
//
// Callers must read the store generation before computing. Reading it afterwards could
// tag a pre-write result with a post-write generation.
type QueryCache[V any] struct {
	lru     *expirable.LRU[string, entry[V]]
	metrics *telemetry.Metrics
}

// New returns a cache holding at most size entries, each living at most ttl (0 = no
// expiry). A size of 0 or less disables caching: every lookup computes.
func New[V any](size int, ttl time.Duration, metrics *telemetry.Metrics) *QueryCache[V] {
	c := &QueryCache[V]{metrics: metrics}
	if size > 0 {
		c.lru = expirable.NewLRU[string, entry[V]](size, nil, ttl)
	}
	return c
}

// GetOrCompute returns the cached value for key if it was computed at generation,
// otherwise it calls compute and caches the result. Errors are not cached.
// Two concurrent misses for the same key may both compute; the later write wins and
// both values belong to the same generation.
func (c *QueryCache[V]) GetOrCompute(ctx context.Context, key string, generation uint64, compute func() (V, error)) (V, error) {
	if c.lru == nil {
		c.record(ctx, "bypass")
		return compute()
	}

	if e, ok := c.lru.Get(key); ok {
		if e.generation == generation {
			c.record(ctx, "hit")
			return e.value, nil
		}
		c.record(ctx, "stale")
	} else {
		c.record(ctx, "miss")
	}

	v, err := compute()
	if err != nil {
		var zero V
		return zero, err
	}
	c.lru.Add(key, entry[V]{generation: generation, value: v})
	return v, nil
}

func (c *QueryCache[V]) Invalidate(key string) {
	if c.lru != nil {
		c.lru.Remove(key)
	}
}

func (c *QueryCache[V]) Purge() {
	if c.lru != nil {
		c.lru.Purge()
	}
}

func (c *QueryCache[V]) Len() int {
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}

func (c *QueryCache[V]) record(ctx context.Context, result string) {
	if c.metrics == nil {
		return
	}
	c.metrics.Add(ctx, c.metrics.CacheLookups, "result", result)
}
