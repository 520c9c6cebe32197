package dedup

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyDerivation(t *testing.T) {
	assert.Equal(t, "immediate-cancel-sub_123", ImmediateCancelKey("sub_123"))

	modified := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	key := EventKey("subscription.updated", "sub_123", &modified)
	assert.Equal(t, "subscription.updated-sub_123-1773576000000", key)

	// Without a modified timestamp the key falls back to delivery time and
	// stays unique per call.
	k1 := EventKey("order.paid", "sub_123", nil)
	assert.True(t, strings.HasPrefix(k1, "order.paid-sub_123-"))
}

func TestMemory_FirstWriterWins(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first, err := m.MarkProcessed(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = m.MarkProcessed(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, first)

	first, err = m.MarkProcessed(ctx, "k2")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestMemory_ConcurrentSingleWinner(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	wins := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first, err := m.MarkProcessed(ctx, "same-key")
			assert.NoError(t, err)
			if first {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestMemory_Sweep(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, _ = m.MarkProcessed(ctx, "k1")
	_, _ = m.MarkProcessed(ctx, "k2")
	assert.Equal(t, 2, m.Len())

	assert.Equal(t, 2, m.Sweep())
	assert.Equal(t, 0, m.Len())

	// After a sweep the same key counts as unseen again.
	first, err := m.MarkProcessed(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestRedis_FirstWriterWins(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	d := NewRedis(client, time.Minute)
	ctx := context.Background()

	first, err := d.MarkProcessed(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = d.MarkProcessed(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, first)
}

func TestRedis_TTLExpiry(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	d := NewRedis(client, time.Minute)
	ctx := context.Background()

	first, err := d.MarkProcessed(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, first)

	srv.FastForward(2 * time.Minute)

	first, err = d.MarkProcessed(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, first)
}

func TestRedis_Unavailable(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	d := NewRedis(client, time.Minute)
	srv.Close()

	_, err := d.MarkProcessed(context.Background(), "k1")
	assert.Error(t, err)
}
