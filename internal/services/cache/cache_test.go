package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tg-relay-bot/internal/config"
	"github.com/tg-relay-bot/pkg/logger"
)

func TestCache_SetGet(t *testing.T) {
	ctx := context.Background()
	c := NewCache(&config.CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 10}, logger.Discard())

	_, found := c.Get(ctx, "2+2?", "m1")
	require.False(t, found)

	require.NoError(t, c.Set(ctx, "2+2?", "m1", "4"))

	answer, found := c.Get(ctx, "2+2?", "m1")
	require.True(t, found)
	require.Equal(t, "4", answer)

	_, found = c.Get(ctx, "2+2?", "m2")
	require.False(t, found, "answers are cached per model")

	require.NoError(t, c.Clear(ctx))
	_, found = c.Get(ctx, "2+2?", "m1")
	require.False(t, found)
}

func TestCache_MaxSize(t *testing.T) {
	ctx := context.Background()
	c := NewCache(&config.CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 2}, logger.Discard()).(*Cache)

	require.NoError(t, c.Set(ctx, "a", "m", "1"))
	require.NoError(t, c.Set(ctx, "b", "m", "2"))
	require.NoError(t, c.Set(ctx, "c", "m", "3"))

	require.Equal(t, 2, c.Len())
	_, found := c.Get(ctx, "c", "m")
	require.False(t, found)
}

func TestCache_Disabled(t *testing.T) {
	ctx := context.Background()
	c := NewCache(&config.CacheConfig{Enabled: false}, logger.Discard())

	require.NoError(t, c.Set(ctx, "q", "m", "a"))
	_, found := c.Get(ctx, "q", "m")
	require.False(t, found)
}
