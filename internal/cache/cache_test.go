package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"unified-planner/internal/telemetry"
)

func counter(calls *int, v string) func() (string, error) {
	return func() (string, error) {
		*calls++
		return fmt.Sprintf("%s#%d", v, *calls), nil
	}
}

func TestQueryCache_HitAtSameGeneration(t *testing.T) {
	ctx := context.Background()
	c := New[string](8, 0, nil)
	calls := 0

	v1, err := c.GetOrCompute(ctx, "agenda:2024-01", 5, counter(&calls, "x"))
	require.NoError(t, err)
	v2, err := c.GetOrCompute(ctx, "agenda:2024-01", 5, counter(&calls, "x"))
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, calls)
}

func TestQueryCache_NeverReturnsStaleGeneration(t *testing.T) {
	ctx := context.Background()
	c := New[string](8, 0, nil)
	calls := 0

	old, err := c.GetOrCompute(ctx, "k", 5, counter(&calls, "x"))
	require.NoError(t, err)
	fresh, err := c.GetOrCompute(ctx, "k", 6, counter(&calls, "x"))
	require.NoError(t, err)

	assert.NotEqual(t, old, fresh)
	assert.Equal(t, 2, calls)

	again, err := c.GetOrCompute(ctx, "k", 6, counter(&calls, "x"))
	require.NoError(t, err)
	assert.Equal(t, fresh, again)
	assert.Equal(t, 2, calls)
}

func TestQueryCache_ErrorsAreNotCached(t *testing.T) {
	ctx := context.Background()
	c := New[int](8, 0, nil)
	boom := errors.New("boom")

	_, err := c.GetOrCompute(ctx, "k", 1, func() (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	v, err := c.GetOrCompute(ctx, "k", 1, func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestQueryCache_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := New[string](2, 0, nil)
	calls := 0

	_, _ = c.GetOrCompute(ctx, "a", 1, counter(&calls, "a"))
	_, _ = c.GetOrCompute(ctx, "b", 1, counter(&calls, "b"))
	_, _ = c.GetOrCompute(ctx, "a", 1, counter(&calls, "a")) // touch a
	_, _ = c.GetOrCompute(ctx, "c", 1, counter(&calls, "c")) // evicts b
	require.Equal(t, 3, calls)
	assert.Equal(t, 2, c.Len())

	_, _ = c.GetOrCompute(ctx, "a", 1, counter(&calls, "a"))
	assert.Equal(t, 3, calls, "a survived")
	_, _ = c.GetOrCompute(ctx, "b", 1, counter(&calls, "b"))
	assert.Equal(t, 4, calls, "b was evicted")
}

func TestQueryCache_DisabledAlwaysComputes(t *testing.T) {
	ctx := context.Background()
	c := New[string](0, 0, nil)
	calls := 0
	for i := 0; i < 3; i++ {
		_, err := c.GetOrCompute(ctx, "k", 1, counter(&calls, "x"))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)
	assert.Equal(t, 0, c.Len())
	c.Purge()
	c.Invalidate("k")
}

func TestQueryCache_ConcurrentReadersAcrossGenerations(t *testing.T) {
	ctx := context.Background()
	c := New[uint64](16, 0, nil)
	var gen atomic.Uint64
	gen.Store(1)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				g := gen.Load()
				v, err := c.GetOrCompute(ctx, "k", g, func() (uint64, error) { return g, nil })
				if err != nil || v != g {
					t.Errorf("got %d for generation %d (err %v)", v, g, err)
					return
				}
			}
		}()
	}
	for i := 0; i < 50; i++ {
		gen.Add(1)
	}
	wg.Wait()
}

func TestQueryCache_RecordsMetrics(t *testing.T) {
	ctx := context.Background()
	p := telemetry.NewProvider(true)
	m, err := telemetry.NewMetrics(p.Meter)
	require.NoError(t, err)

	c := New[int](4, 0, m)
	compute := func() (int, error) { return 1, nil }
	_, _ = c.GetOrCompute(ctx, "k", 1, compute)
	_, _ = c.GetOrCompute(ctx, "k", 1, compute)
	_, _ = c.GetOrCompute(ctx, "k", 2, compute)

	got, err := p.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got["planner.cache.lookups{result=miss}"])
	assert.Equal(t, int64(1), got["planner.cache.lookups{result=hit}"])
	assert.Equal(t, int64(1), got["planner.cache.lookups{result=stale}"])
}
