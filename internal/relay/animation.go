package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tg-relay-bot/internal/models"
)

var hourglassFrames = []string{"⏳", "⌛"}

// animator rewrites the placeholder with an hourglass and elapsed seconds until stopped.
type animator struct {
	messenger   Messenger
	ref         models.MessageRef
	notice      string
	interval    time.Duration
	editTimeout time.Duration
	log         logrus.FieldLogger

	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	abandoned atomic.Bool
}

func startAnimator(ctx context.Context, messenger Messenger, ref models.MessageRef, notice string, interval, editTimeout time.Duration, log logrus.FieldLogger) *animator {
	a := &animator{
		messenger:   messenger,
		ref:         ref,
		notice:      notice,
		interval:    interval,
		editTimeout: editTimeout,
		log:         log,
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}
	go a.run(ctx)
	return a
}

func (a *animator) run(ctx context.Context) {
	defer close(a.done)
	defer func() {
		if r := recover(); r != nil {
			a.log.WithField("panic", r).Error("Recovered from panic in progress animation")
		}
	}()

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	started := time.Now()
	for frame := 0; ; frame++ {
		select {
		case <-a.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Stop may have been called while the ticker fired.
		select {
		case <-a.stop:
			return
		default:
		}

		text := fmt.Sprintf("%s %s %ds", a.notice, hourglassFrames[frame%len(hourglassFrames)], int(time.Since(started).Seconds()))
		err := callBounded(ctx, a.editTimeout, func(ctx context.Context) error {
			if a.abandoned.Load() {
				return nil
			}
			return a.messenger.Edit(ctx, a.ref, text)
		})
		if err != nil {
			if errors.Is(err, ErrMessageGone) || errors.Is(err, ErrNotModified) {
				return
			}
			a.log.WithError(err).Debug("Failed to update progress placeholder")
		}
	}
}

// Stop signals the animation to end and waits for its goroutine to exit, so no
// frame can land after the caller's next edit. A frame still stuck in the
// transport after wait is abandoned: the goroutine is left to finish on its own
// and sends no further frames.
func (a *animator) Stop(wait time.Duration) bool {
	a.stopOnce.Do(func() { close(a.stop) })

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-a.done:
		return true
	case <-timer.C:
		a.abandoned.Store(true)
		return false
	}
}
