package models

import (
	"time"
)

// Request is a decoded inbound text message awaiting a generated reply.
type Request struct {
	UserID    int64
	ChatID    int64
	MessageID int // reply-to target
	Text      string
	Language  string
}

// MessageRef addresses a message previously sent by the bot.
type MessageRef struct {
	ChatID    int64
	MessageID int
}

// IsZero reports whether the reference points at nothing.
func (r MessageRef) IsZero() bool {
	return r.ChatID == 0 && r.MessageID == 0
}

// CacheEntry represents a cached response
type CacheEntry struct {
	Question  string
	Answer    string
	Model     string
	CreatedAt time.Time
}
