package middleware

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/tg-relay-bot/internal/config"
	"golang.org/x/time/rate"
)

// RateLimiter interface for rate limiting
type RateLimiter interface {
	Allow(userID int64) bool
	Reset(userID int64)
}

type userLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// UserRateLimiter implements per-user rate limiting
type UserRateLimiter struct {
	enabled  bool
	limiters map[int64]*userLimiter
	mu       sync.Mutex
	rpm      int
	burst    int
	idleTTL  time.Duration
	now      func() time.Time
	logger   *logrus.Logger
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(cfg *config.RateLimitConfig, logger *logrus.Logger) *UserRateLimiter {
	if !cfg.Enabled {
		return &UserRateLimiter{enabled: false}
	}

	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &UserRateLimiter{
		enabled:  true,
		limiters: make(map[int64]*userLimiter),
		rpm:      cfg.RequestsPerMinute,
		burst:    burst,
		idleTTL:  time.Hour,
		now:      time.Now,
		logger:   logger,
	}
}

// Allow checks if a user is allowed to make a request
func (r *UserRateLimiter) Allow(userID int64) bool {
	if !r.enabled {
		return true
	}

	r.mu.Lock()
	now := r.now()
	entry, exists := r.limiters[userID]
	if !exists {
		// Rate per second = RPM / 60
		entry = &userLimiter{limiter: rate.NewLimiter(rate.Limit(float64(r.rpm)/60.0), r.burst)}
		r.limiters[userID] = entry
	}
	entry.lastSeen = now
	allowed := entry.limiter.AllowN(now, 1)
	r.mu.Unlock()

	if !allowed {
		r.logger.WithField("user_id", userID).Warn("Rate limit exceeded")
	}
	return allowed
}

// Reset resets the rate limiter for a user
func (r *UserRateLimiter) Reset(userID int64) {
	if !r.enabled {
		return
	}

	r.mu.Lock()
	delete(r.limiters, userID)
	r.mu.Unlock()
}

// Sweep drops limiters of users idle for longer than the idle TTL and
// returns how many were removed.
func (r *UserRateLimiter) Sweep() int {
	if !r.enabled {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-r.idleTTL)
	removed := 0
	for userID, entry := range r.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(r.limiters, userID)
			removed++
		}
	}
	return removed
}

// maxInputRunes matches Telegram's own message length limit, which counts characters.
const maxInputRunes = 4096

var (
	ErrEmptyInput   = errors.New("message is empty")
	ErrInputTooLong = errors.New("message too long")
	ErrInvalidUTF8  = errors.New("message is not valid UTF-8")
)

// ValidateInput performs input validation
func ValidateInput(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyInput
	}
	if !utf8.ValidString(text) {
		return ErrInvalidUTF8
	}
	if n := utf8.RuneCountInString(text); n > maxInputRunes {
		return fmt.Errorf("%w: %d characters", ErrInputTooLong, n)
	}
	return nil
}
