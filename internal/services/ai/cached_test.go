package ai

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/tg-relay-bot/internal/config"
	"github.com/tg-relay-bot/internal/services/cache"
	"github.com/tg-relay-bot/pkg/logger"
)

type countingGenerator struct {
	calls  int
	answer string
	err    error
}

func (g *countingGenerator) Generate(context.Context, string) (string, error) {
	g.calls++
	return g.answer, g.err
}

type cacheCounter struct{ hits, misses int }

func (c *cacheCounter) RecordCacheHit()  { c.hits++ }
func (c *cacheCounter) RecordCacheMiss() { c.misses++ }

func TestCachedGenerator(t *testing.T) {
	next := &countingGenerator{answer: "4"}
	counter := &cacheCounter{}
	c := cache.NewCache(&config.CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 10}, logger.Discard())
	gen := WithCache(next, c, "m", counter, logger.Discard())

	for i := 0; i < 3; i++ {
		answer, err := gen.Generate(context.Background(), "2+2?")
		require.NoError(t, err)
		require.Equal(t, "4", answer)
	}

	require.Equal(t, 1, next.calls)
	require.Equal(t, 2, counter.hits)
	require.Equal(t, 1, counter.misses)
}

func TestCachedGenerator_DoesNotCacheFailures(t *testing.T) {
	next := &countingGenerator{err: errors.New("boom")}
	c := cache.NewCache(&config.CacheConfig{Enabled: true, TTL: time.Minute, MaxSize: 10}, logger.Discard())
	gen := WithCache(next, c, "m", nil, logger.Discard())

	for i := 0; i < 2; i++ {
		_, err := gen.Generate(context.Background(), "q")
		require.Error(t, err)
	}
	require.Equal(t, 2, next.calls)
}
