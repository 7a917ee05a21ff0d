package storage

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/tg-relay-bot/internal/config"
)

// Admission tracks which users have a request in flight.
type Admission interface {
	Acquire(ctx context.Context, userID int64) (bool, error)
	Release(ctx context.Context, userID int64) error
}

// NewAdmission creates the admission store selected by configuration.
func NewAdmission(cfg *config.Config, logger *logrus.Logger) (Admission, error) {
	switch cfg.Admission.Type {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Admission.Redis.Addr,
			Password: cfg.Admission.Redis.Password,
			DB:       cfg.Admission.Redis.DB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}

		// A lease outlives the longest possible request so a crashed instance
		// cannot lock a user out for good.
		ttl := cfg.Relay.Deadline + time.Minute
		logger.WithFields(logrus.Fields{
			"addr": cfg.Admission.Redis.Addr,
			"ttl":  ttl.String(),
		}).Info("Using redis admission store")
		return NewRedisAdmission(client, cfg.Admission.Redis.KeyPrefix, ttl), nil
	case "memory", "":
		logger.Info("Using in-memory admission store")
		return NewMemoryAdmission(), nil
	default:
		return nil, fmt.Errorf("unsupported admission type: %s", cfg.Admission.Type)
	}
}

// MemoryAdmission is a process-local set of in-flight users.
type MemoryAdmission struct {
	mu       sync.Mutex
	inflight map[int64]struct{}
}

func NewMemoryAdmission() *MemoryAdmission {
	return &MemoryAdmission{inflight: make(map[int64]struct{})}
}

func (m *MemoryAdmission) Acquire(_ context.Context, userID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.inflight[userID]; exists {
		return false, nil
	}
	m.inflight[userID] = struct{}{}
	return true, nil
}

func (m *MemoryAdmission) Release(_ context.Context, userID int64) error {
	m.mu.Lock()
	delete(m.inflight, userID)
	m.mu.Unlock()
	return nil
}

// Contains reports whether userID currently holds a slot.
func (m *MemoryAdmission) Contains(userID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.inflight[userID]
	return exists
}

// Len returns the number of in-flight users.
func (m *MemoryAdmission) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inflight)
}

// RedisAdmission shares the in-flight set between instances using SETNX leases.
type RedisAdmission struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisAdmission(client *redis.Client, prefix string, ttl time.Duration) *RedisAdmission {
	return &RedisAdmission{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (r *RedisAdmission) key(userID int64) string {
	return r.prefix + strconv.FormatInt(userID, 10)
}

func (r *RedisAdmission) Acquire(ctx context.Context, userID int64) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(userID), time.Now().Unix(), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease for user %d: %w", userID, err)
	}
	return ok, nil
}

func (r *RedisAdmission) Release(ctx context.Context, userID int64) error {
	if err := r.client.Del(ctx, r.key(userID)).Err(); err != nil {
		return fmt.Errorf("release lease for user %d: %w", userID, err)
	}
	return nil
}

// Close closes the underlying redis client.
func (r *RedisAdmission) Close() error {
	return r.client.Close()
}
