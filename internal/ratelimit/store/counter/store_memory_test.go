package counter

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowWindow(t *testing.T) {
	ctx := context.Background()

	t.Run("admits up to the limit then rejects", func(t *testing.T) {
		store := New()
		for i := 1; i <= 3; i++ {
			allowed, count, err := store.AllowWindow(ctx, "rl:win:ip:1.2.3.4:ask:100", 3, time.Minute)
			require.NoError(t, err)
			assert.True(t, allowed)
			assert.Equal(t, int64(i), count)
		}

		allowed, count, err := store.AllowWindow(ctx, "rl:win:ip:1.2.3.4:ask:100", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, allowed)
		assert.Equal(t, int64(3), count, "rejected requests do not advance the counter")
	})

	t.Run("counter expires with the window ttl", func(t *testing.T) {
		now := time.Unix(1_700_000_000, 0)
		store := New(WithClock(func() time.Time { return now }))

		allowed, _, err := store.AllowWindow(ctx, "k", 1, 2*time.Minute)
		require.NoError(t, err)
		require.True(t, allowed)

		allowed, _, err = store.AllowWindow(ctx, "k", 1, 2*time.Minute)
		require.NoError(t, err)
		require.False(t, allowed)

		now = now.Add(2*time.Minute + time.Second)
		allowed, count, err := store.AllowWindow(ctx, "k", 1, 2*time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
		assert.Equal(t, int64(1), count)
	})

	t.Run("concurrent admissions never exceed the limit", func(t *testing.T) {
		store := New()
		const limit = 30
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			admitted int
		)
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				allowed, _, err := store.AllowWindow(ctx, "hot", limit, time.Minute)
				require.NoError(t, err)
				if allowed {
					mu.Lock()
					admitted++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, limit, admitted)
	})
}

func TestGetSetDelete(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	store := New(WithClock(func() time.Time { return now }))

	_, ok, err := store.Get(ctx, "rl:tier:u-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, "rl:tier:u-1", "pro", 5*time.Minute))

	value, ok, err := store.Get(ctx, "rl:tier:u-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "pro", value)

	t.Run("expired entries read as absent", func(t *testing.T) {
		now = now.Add(6 * time.Minute)
		_, ok, err := store.Get(ctx, "rl:tier:u-1")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete reports existence", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "rl:musage:u-1", "12", time.Minute))

		existed, err := store.Delete(ctx, "rl:musage:u-1")
		require.NoError(t, err)
		assert.True(t, existed)

		existed, err = store.Delete(ctx, "rl:musage:u-1")
		require.NoError(t, err)
		assert.False(t, existed)
	})
}

func TestScanPrefix(t *testing.T) {
	ctx := context.Background()
	store := New()

	require.NoError(t, store.Set(ctx, "rl:win:user:u-1:ask:100", "3", time.Minute))
	require.NoError(t, store.Set(ctx, "rl:win:user:u-1:translate:100", "1", time.Minute))
	require.NoError(t, store.Set(ctx, "rl:win:user:u-2:ask:100", "5", time.Minute))

	keys, err := store.ScanPrefix(ctx, "rl:win:user:u-1:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"rl:win:user:u-1:ask:100",
		"rl:win:user:u-1:translate:100",
	}, keys)
}

func TestFailPing(t *testing.T) {
	ctx := context.Background()
	store := New()

	require.NoError(t, store.Ping(ctx))

	store.FailPing(true)
	assert.Error(t, store.Ping(ctx))

	store.FailPing(false)
	assert.NoError(t, store.Ping(ctx))
}
