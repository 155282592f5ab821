package cache

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func TestDisabledCache(t *testing.T) {
	c := NewResultCacheService(nil, time.Minute, 0, quietLogger())
	ctx := context.Background()

	assert.False(t, c.Enabled())
	assert.NoError(t, c.Set(ctx, RunKey("abc"), map[string]int{"a": 1}))

	var out map[string]int
	assert.ErrorIs(t, c.Get(ctx, RunKey("abc"), &out), ErrCacheMiss)
	assert.NoError(t, c.InvalidateRun(ctx, "abc"))
	assert.Equal(t, false, c.GetStatus(ctx)["enabled"])
	assert.NoError(t, c.Close())
}

func TestBreakerOpensOnUnreachableRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	c := NewResultCacheService(client, time.Minute, 3, quietLogger())
	defer c.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := c.Set(ctx, RunKey("abc"), 1)
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}
	assert.ErrorIs(t, c.Set(ctx, RunKey("abc"), 1), gobreaker.ErrOpenState)

	var out int
	err := c.Get(ctx, RunKey("abc"), &out)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "run:r1", RunKey("r1"))
	assert.Equal(t, "gto:r1:draftkings", GTOKey("r1", "draftkings"))

	_, err := NewRedisClient("not a url")
	assert.Error(t, err)
	client, err := NewRedisClient("redis://localhost:6379/2")
	require.NoError(t, err)
	assert.Equal(t, 2, client.Options().DB)
	client.Close()
}
