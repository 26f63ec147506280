package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestGetOrCompute(t *testing.T) {
	ctx := context.Background()

	t.Run("computes on miss and caches", func(t *testing.T) {
		c := New(10, zap.NewNop())
		calls := 0
		compute := func(ctx context.Context) (any, error) {
			calls++
			return "value", nil
		}

		v, err := c.GetOrCompute(ctx, "k", time.Minute, compute)
		require.NoError(t, err)
		assert.Equal(t, "value", v)

		v, err = c.GetOrCompute(ctx, "k", time.Minute, compute)
		require.NoError(t, err)
		assert.Equal(t, "value", v)
		assert.Equal(t, 1, calls)
	})

	t.Run("collapses concurrent computations per key", func(t *testing.T) {
		c := New(10, zap.NewNop())
		var calls atomic.Int32
		started := make(chan struct{})
		release := make(chan struct{})
		compute := func(ctx context.Context) (any, error) {
			if calls.Add(1) == 1 {
				close(started)
			}
			<-release
			return "shared", nil
		}

		const workers = 8
		var wg sync.WaitGroup
		results := make([]any, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				v, err := c.GetOrCompute(ctx, "hot", time.Minute, compute)
				assert.NoError(t, err)
				results[i] = v
			}(i)
		}

		<-started
		close(release)
		wg.Wait()

		assert.Equal(t, int32(1), calls.Load(), "only one computation should run")
		for _, v := range results {
			assert.Equal(t, "shared", v)
		}
	})

	t.Run("does not cache errors", func(t *testing.T) {
		c := New(10, zap.NewNop())
		boom := errors.New("provider down")
		calls := 0

		_, err := c.GetOrCompute(ctx, "k", time.Minute, func(ctx context.Context) (any, error) {
			calls++
			return nil, boom
		})
		require.ErrorIs(t, err, boom)
		assert.Equal(t, 0, c.Len())

		v, err := c.GetOrCompute(ctx, "k", time.Minute, func(ctx context.Context) (any, error) {
			calls++
			return "recovered", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "recovered", v)
		assert.Equal(t, 2, calls)
	})
}

func TestTTLExpiry(t *testing.T) {
	c := New(10, zap.NewNop())
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }

	c.Put("k", "v", 5*time.Minute)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v", v)

	current = current.Add(5*time.Minute + time.Second)
	_, ok = c.Get("k")
	assert.False(t, ok, "entry should expire after its TTL")
	assert.Equal(t, 0, c.Len())
}

func TestNoTTLMeansNoExpiry(t *testing.T) {
	c := New(10, zap.NewNop())
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }

	c.Put("k", "v", 0)
	current = current.Add(1000 * time.Hour)

	_, ok := c.Get("k")
	assert.True(t, ok)
}

func TestLRUEviction(t *testing.T) {
	c := New(3, zap.NewNop())

	c.Put("a", 1, 0)
	c.Put("b", 2, 0)
	c.Put("c", 3, 0)

	// Касание делает "a" самым свежим
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Put("d", 4, 0)
	assert.Equal(t, 3, c.Len())

	_, ok = c.Get("b")
	assert.False(t, ok, "least recently used entry should be evicted")
	for _, key := range []string{"a", "c", "d"} {
		_, ok := c.Get(key)
		assert.True(t, ok, "key %q should survive", key)
	}
}

func TestUnboundedWhenMaxEntriesZero(t *testing.T) {
	c := New(0, zap.NewNop())
	for i := 0; i < 100; i++ {
		c.Put(fmt.Sprintf("k%d", i), i, 0)
	}
	assert.Equal(t, 100, c.Len())
}

func TestInvalidate(t *testing.T) {
	c := New(10, zap.NewNop())
	c.Put("k", "v", 0)
	c.Invalidate("k")
	_, ok := c.Get("k")
	assert.False(t, ok)
	c.Invalidate("missing") // не должно паниковать
}
