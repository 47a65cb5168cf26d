package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheGetOrLoad(t *testing.T) {
	ctx := context.Background()

	t.Run("loads once and serves from cache", func(t *testing.T) {
		c := NewTTLCache[string](time.Minute)
		loads := 0
		load := func(context.Context) (string, error) {
			loads++
			return "value", nil
		}

		for i := 0; i < 3; i++ {
			v, err := c.GetOrLoad(ctx, "k", load)
			require.NoError(t, err)
			assert.Equal(t, "value", v)
		}
		assert.Equal(t, 1, loads)
	})

	t.Run("expired entry is reloaded", func(t *testing.T) {
		c := NewTTLCache[string](time.Nanosecond)
		loads := 0
		load := func(context.Context) (string, error) {
			loads++
			return "value", nil
		}

		_, err := c.GetOrLoad(ctx, "k", load)
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
		_, err = c.GetOrLoad(ctx, "k", load)
		require.NoError(t, err)
		assert.Equal(t, 2, loads)
	})

	t.Run("load error is not cached", func(t *testing.T) {
		c := NewTTLCache[string](time.Minute)
		boom := errors.New("source down")
		calls := 0

		_, err := c.GetOrLoad(ctx, "k", func(context.Context) (string, error) {
			calls++
			return "", boom
		})
		assert.ErrorIs(t, err, boom)

		v, err := c.GetOrLoad(ctx, "k", func(context.Context) (string, error) {
			calls++
			return "recovered", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "recovered", v)
		assert.Equal(t, 2, calls)
	})

	t.Run("invalidate forces a reload", func(t *testing.T) {
		c := NewTTLCache[string](time.Minute)
		loads := 0
		load := func(context.Context) (string, error) {
			loads++
			return "value", nil
		}

		_, err := c.GetOrLoad(ctx, "k", load)
		require.NoError(t, err)
		c.Invalidate("k")
		_, err = c.GetOrLoad(ctx, "k", load)
		require.NoError(t, err)
		assert.Equal(t, 2, loads)
	})

	t.Run("concurrent misses share one load", func(t *testing.T) {
		c := NewTTLCache[string](time.Minute)
		release := make(chan struct{})
		var loads int32
		load := func(context.Context) (string, error) {
			atomic.AddInt32(&loads, 1)
			<-release
			return "value", nil
		}

		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				v, err := c.GetOrLoad(ctx, "k", load)
				assert.NoError(t, err)
				assert.Equal(t, "value", v)
			}()
		}

		// Give every goroutine time to reach the load before releasing it.
		time.Sleep(50 * time.Millisecond)
		close(release)
		wg.Wait()
		assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
	})
}
