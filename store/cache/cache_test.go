package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCache(t *testing.T) {
	t.Run("set and get round-trip", func(t *testing.T) {
		c := New(Config{DefaultTTL: time.Minute})
		defer c.Close()

		c.Set("k", "v")
		got, ok := c.Get("k")
		require.True(t, ok)
		require.Equal(t, "v", got)
	})

	t.Run("miss on absent key", func(t *testing.T) {
		c := New(Config{})
		defer c.Close()

		_, ok := c.Get("nope")
		require.False(t, ok)
	})

	t.Run("expired entries are invisible", func(t *testing.T) {
		c := New(Config{DefaultTTL: 10 * time.Millisecond})
		defer c.Close()

		c.Set("k", "v")
		time.Sleep(30 * time.Millisecond)
		_, ok := c.Get("k")
		require.False(t, ok)
	})

	t.Run("delete removes the entry", func(t *testing.T) {
		c := New(Config{DefaultTTL: time.Minute})
		defer c.Close()

		c.Set("k", 1)
		c.Delete("k")
		_, ok := c.Get("k")
		require.False(t, ok)
		require.Zero(t, c.Len())
	})

	t.Run("max items bound evicts the oldest", func(t *testing.T) {
		evicted := make([]string, 0, 1)
		c := New(Config{
			DefaultTTL: time.Minute,
			MaxItems:   3,
			OnEviction: func(key string, _ any) { evicted = append(evicted, key) },
		})
		defer c.Close()

		c.Set("a", 1)
		time.Sleep(2 * time.Millisecond)
		c.Set("b", 2)
		time.Sleep(2 * time.Millisecond)
		c.Set("c", 3)
		c.Set("d", 4)

		require.Equal(t, 3, c.Len())
		require.Equal(t, []string{"a"}, evicted)
		_, ok := c.Get("a")
		require.False(t, ok)
	})

	t.Run("cleanup loop sweeps expired entries", func(t *testing.T) {
		c := New(Config{
			DefaultTTL:      5 * time.Millisecond,
			CleanupInterval: 10 * time.Millisecond,
		})
		defer c.Close()

		c.Set("k", "v")
		require.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
	})

	t.Run("concurrent access is safe", func(t *testing.T) {
		c := New(Config{DefaultTTL: time.Minute, MaxItems: 100})
		defer c.Close()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				key := fmt.Sprintf("key-%d", i)
				c.Set(key, i)
				c.Get(key)
				c.Delete(key)
			}(i)
		}
		wg.Wait()
	})

	t.Run("close is idempotent", func(t *testing.T) {
		c := New(Config{})
		c.Close()
		c.Close()
	})
}
