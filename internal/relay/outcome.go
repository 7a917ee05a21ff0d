package relay

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTimeout marks a generation call that ran past its deadline.
	ErrTimeout = errors.New("generation deadline exceeded")
	// ErrMessageGone is returned by Messenger.Edit when the target message no longer exists.
	ErrMessageGone = errors.New("message to edit not found")
	// ErrNotModified is returned by Messenger.Edit when the new text equals the current one.
	ErrNotModified = errors.New("message is not modified")

	errTransportStalled = errors.New("messenger call timed out")
)

// BackendError is returned by a Generator when the backend rejected, throttled
// or failed the call, including safety filter blocks.
type BackendError struct {
	Code    string
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Code == "" {
		return "backend error: " + e.Message
	}
	return fmt.Sprintf("backend error %s: %s", e.Code, e.Message)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Kind tags an Outcome.
type Kind int

const (
	KindSuccess Kind = iota
	KindTimeout
	KindBackendError
	KindUnknownError
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindTimeout:
		return "timeout"
	case KindBackendError:
		return "backend_error"
	default:
		return "unknown_error"
	}
}

// Outcome is the result of a generation: Text on success, Detail otherwise.
type Outcome struct {
	Kind   Kind
	Text   string
	Detail string
}

const maxDetailRunes = 200

// Success wraps generated text.
func Success(text string) Outcome {
	return Outcome{Kind: KindSuccess, Text: text}
}

// Classify maps a generation error onto a failure Outcome.
func Classify(err error) Outcome {
	var backendErr *BackendError
	switch {
	case err == nil:
		return Outcome{Kind: KindUnknownError, Detail: "no error"}
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return Outcome{Kind: KindTimeout, Detail: truncate(err.Error())}
	case errors.As(err, &backendErr):
		return Outcome{Kind: KindBackendError, Detail: truncate(backendErr.Error())}
	default:
		return Outcome{Kind: KindUnknownError, Detail: truncate(err.Error())}
	}
}

func truncate(s string) string {
	runes := []rune(s)
	if len(runes) <= maxDetailRunes {
		return s
	}
	return string(runes[:maxDetailRunes-1]) + "…"
}
