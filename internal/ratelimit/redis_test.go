package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func TestRedisLimiter(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)
	opts, err := redis.ParseURL(uri)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })

	l := NewRedis(rdb, Config{Window: 2 * time.Second, Max: 2})

	for i := 1; i <= 2; i++ {
		d, err := l.Admit(ctx, "198.51.100.7")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, i, d.Count)
	}

	d, err := l.Admit(ctx, "198.51.100.7")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.WithinDuration(t, time.Now().Add(2*time.Second), d.ResetAt, 2*time.Second)

	d, err = l.Admit(ctx, "other")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	ttl, err := rdb.PTTL(ctx, DefaultKeyPrefix+"198.51.100.7").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	require.Eventually(t, func() bool {
		d, err := l.Admit(ctx, "198.51.100.7")
		return err == nil && d.Allowed
	}, 5*time.Second, 250*time.Millisecond)
}

func TestRedisLimiterUnavailable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })

	_, err := NewRedis(rdb, DefaultConfig()).Admit(context.Background(), "k")
	assert.Error(t, err)
}
