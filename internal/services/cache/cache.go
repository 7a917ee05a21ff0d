package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
	"github.com/tg-relay-bot/internal/config"
	"github.com/tg-relay-bot/internal/models"
)

// Service caches generated answers per question and model.
type Service interface {
	Get(ctx context.Context, question, model string) (string, bool)
	Set(ctx context.Context, question, model, answer string) error
	Clear(ctx context.Context) error
}

// Cache is an in-process answer cache. It is lost on restart, which is fine:
// it only saves backend calls for repeated questions.
type Cache struct {
	cache   *cache.Cache
	logger  *logrus.Logger
	maxSize int
}

// NewCache returns a go-cache backed Service, or a no-op one when disabled.
func NewCache(cfg *config.CacheConfig, logger *logrus.Logger) Service {
	if !cfg.Enabled {
		return disabled{}
	}
	return &Cache{
		cache:   cache.New(cfg.TTL, cfg.TTL*2),
		logger:  logger,
		maxSize: cfg.MaxSize,
	}
}

func (c *Cache) Get(_ context.Context, question, model string) (string, bool) {
	val, found := c.cache.Get(key(question, model))
	if !found {
		return "", false
	}
	entry := val.(*models.CacheEntry)
	c.logger.WithFields(logrus.Fields{
		"model": model,
		"age":   time.Since(entry.CreatedAt).String(),
	}).Debug("Cache hit")
	return entry.Answer, true
}

func (c *Cache) Set(_ context.Context, question, model, answer string) error {
	if c.maxSize > 0 && c.cache.ItemCount() >= c.maxSize {
		c.cache.DeleteExpired()
		if c.cache.ItemCount() >= c.maxSize {
			c.logger.WithField("max_size", c.maxSize).Debug("Cache full, response not cached")
			return nil
		}
	}

	c.cache.SetDefault(key(question, model), &models.CacheEntry{
		Question:  question,
		Answer:    answer,
		Model:     model,
		CreatedAt: time.Now(),
	})
	return nil
}

func (c *Cache) Clear(context.Context) error {
	c.cache.Flush()
	c.logger.Info("Cache cleared")
	return nil
}

// Len returns the number of cached answers, expired ones included.
func (c *Cache) Len() int {
	return c.cache.ItemCount()
}

// key hashes model and question so user text never appears in keys.
func key(question, model string) string {
	hash := sha256.Sum256([]byte(model + ":" + question))
	return hex.EncodeToString(hash[:])
}

type disabled struct{}

func (disabled) Get(context.Context, string, string) (string, bool) { return "", false }
func (disabled) Set(context.Context, string, string, string) error  { return nil }
func (disabled) Clear(context.Context) error                        { return nil }
