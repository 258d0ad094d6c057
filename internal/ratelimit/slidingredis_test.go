package ratelimit

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestLimiterAllowSlidingWindow(t *testing.T) {
	client, _ := newClient(t)
	now := time.Unix(1_700_000_000, 0)
	limiter := Limiter{Client: client, Prefix: "test:", Now: func() time.Time { return now }}
	ctx := context.Background()
	window := 2 * time.Second

	for i := 0; i < 2; i++ {
		d, err := limiter.Allow(ctx, "key", window, 2)
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.Equal(t, 1-i, d.Remaining)
	}

	d, err := limiter.Allow(ctx, "key", window, 2)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Zero(t, d.Remaining)
	require.True(t, now.Add(window).Equal(d.Reset))

	n, err := client.ZCard(ctx, "test:key").Result()
	require.NoError(t, err)
	require.EqualValues(t, 2, n, "rejected hits are not recorded")

	now = now.Add(window + time.Millisecond)
	d, err = limiter.Allow(ctx, "key", window, 2)
	require.NoError(t, err)
	require.True(t, d.Allowed)
}

func TestLimiterJoinsPrefix(t *testing.T) {
	client, mr := newClient(t)
	_, err := Limiter{Client: client, Prefix: "esim"}.Allow(context.Background(), "bulk:user:1", time.Minute, 5)
	require.NoError(t, err)
	require.True(t, mr.Exists("esim:bulk:user:1"))
}

func TestLimiterWithoutClientAllows(t *testing.T) {
	d, err := Limiter{}.Allow(context.Background(), "k", time.Second, 3)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 3, d.Remaining)
}
