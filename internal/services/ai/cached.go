package ai

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/tg-relay-bot/internal/relay"
	"github.com/tg-relay-bot/internal/services/cache"
)

// CacheObserver receives cache hit/miss counts.
type CacheObserver interface {
	RecordCacheHit()
	RecordCacheMiss()
}

// CachedGenerator answers repeated questions from cache. Failures are never cached.
type CachedGenerator struct {
	next     relay.Generator
	cache    cache.Service
	model    string
	observer CacheObserver
	logger   *logrus.Logger
}

// WithCache wraps next with a response cache keyed by model and question.
func WithCache(next relay.Generator, c cache.Service, model string, observer CacheObserver, logger *logrus.Logger) *CachedGenerator {
	return &CachedGenerator{
		next:     next,
		cache:    c,
		model:    model,
		observer: observer,
		logger:   logger,
	}
}

func (g *CachedGenerator) Generate(ctx context.Context, text string) (string, error) {
	if answer, found := g.cache.Get(ctx, text, g.model); found {
		if g.observer != nil {
			g.observer.RecordCacheHit()
		}
		return answer, nil
	}
	if g.observer != nil {
		g.observer.RecordCacheMiss()
	}

	answer, err := g.next.Generate(ctx, text)
	if err != nil {
		return "", err
	}

	if err := g.cache.Set(ctx, text, g.model, answer); err != nil {
		g.logger.WithError(err).Warn("Failed to cache response")
	}
	return answer, nil
}
