package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tg-relay-bot/internal/i18n"
	"github.com/tg-relay-bot/internal/models"
	"github.com/tg-relay-bot/pkg/logger"
)

// Messenger is the reply-target capability offered by the chat transport.
type Messenger interface {
	Send(ctx context.Context, chatID int64, text string, replyTo int) (models.MessageRef, error)
	Edit(ctx context.Context, ref models.MessageRef, text string) error
	Typing(ctx context.Context, chatID int64) error
}

// Generator produces a reply for a single message. Errors should wrap ErrTimeout
// or be a *BackendError where the cause is known.
type Generator interface {
	Generate(ctx context.Context, text string) (string, error)
}

// Admission tracks users with an in-flight request.
type Admission interface {
	Acquire(ctx context.Context, userID int64) (bool, error)
	Release(ctx context.Context, userID int64) error
}

// Localizer renders user-facing notices.
type Localizer interface {
	Get(lang, messageID string, data map[string]interface{}) string
}

// Observer receives lifecycle metrics.
type Observer interface {
	RecordOutcome(kind string, duration time.Duration)
	RecordAdmissionRejected()
	IncInFlight()
	DecInFlight()
}

type noopObserver struct{}

func (noopObserver) RecordOutcome(string, time.Duration) {}
func (noopObserver) RecordAdmissionRejected()            {}
func (noopObserver) IncInFlight()                        {}
func (noopObserver) DecInFlight()                        {}

// Options tunes the request lifecycle.
type Options struct {
	Deadline          time.Duration
	Animate           bool
	AnimationInterval time.Duration
	// EditTimeout bounds every messenger call, including animation frames.
	EditTimeout       time.Duration
}

const (
	DefaultDeadline          = 9 * time.Second
	DefaultAnimationInterval = 1200 * time.Millisecond
	DefaultEditTimeout       = 2 * time.Second

	cleanupTimeout = 5 * time.Second
)

// Result reports what happened to a request.
type Result struct {
	Admitted    bool
	Placeholder models.MessageRef
	Outcome     Outcome
	Delivered   bool
}

// Controller runs the inbound message to generated reply round trip.
type Controller struct {
	opts      Options
	messenger Messenger
	generator Generator
	admission Admission
	localizer Localizer
	observer  Observer
	logger    *logrus.Logger
}

// NewController creates a new controller. A nil observer disables metrics.
func NewController(
	opts Options,
	messenger Messenger,
	generator Generator,
	admission Admission,
	localizer Localizer,
	observer Observer,
	logger *logrus.Logger,
) *Controller {
	if opts.Deadline <= 0 {
		opts.Deadline = DefaultDeadline
	}
	if opts.AnimationInterval <= 0 {
		opts.AnimationInterval = DefaultAnimationInterval
	}
	if opts.EditTimeout <= 0 {
		opts.EditTimeout = DefaultEditTimeout
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &Controller{
		opts:      opts,
		messenger: messenger,
		generator: generator,
		admission: admission,
		localizer: localizer,
		observer:  observer,
		logger:    logger,
	}
}

// Handle processes one request. It never panics and never returns an error:
// every failure ends up as a classified edit of the placeholder.
func (c *Controller) Handle(ctx context.Context, req models.Request) (result Result) {
	log := logger.WithChat(c.logger, req.ChatID, req.UserID)
	// Delivery and cleanup must outlive a cancelled inbound request.
	bg := context.WithoutCancel(ctx)

	acquired, err := c.admission.Acquire(ctx, req.UserID)
	if err != nil {
		log.WithError(err).Error("Failed to acquire admission")
		result.Outcome = Classify(fmt.Errorf("admission: %w", err))
		c.reply(bg, req, c.failureText(req.Language, result.Outcome), log)
		return result
	}
	if !acquired {
		log.Info("Request rejected, previous one still in flight")
		c.observer.RecordAdmissionRejected()
		c.reply(bg, req, c.localizer.Get(req.Language, i18n.MsgPleaseWait, nil), log)
		return result
	}

	result.Admitted = true
	c.observer.IncInFlight()
	started := time.Now()

	var anim *animator
	// settled is set once deliver has returned; a panic before that gets one
	// more delivery attempt with the unknown-error apology.
	settled := false

	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Recovered from panic in request lifecycle")
			result.Outcome = Classify(fmt.Errorf("panic: %v", r))
			if anim != nil {
				anim.Stop(c.opts.EditTimeout)
			}
			if !settled {
				result.Delivered = c.safeDeliver(bg, result.Placeholder, req.Language, result.Outcome, log)
			}
		}

		releaseCtx, cancel := context.WithTimeout(bg, cleanupTimeout)
		defer cancel()
		if err := c.admission.Release(releaseCtx, req.UserID); err != nil {
			log.WithError(err).Error("Failed to release admission")
		}

		c.observer.DecInFlight()
		c.observer.RecordOutcome(result.Outcome.Kind.String(), time.Since(started))
		log.WithFields(logrus.Fields{
			"outcome":   result.Outcome.Kind.String(),
			"elapsed":   time.Since(started).String(),
			"delivered": result.Delivered,
		}).Info("Request finished")
	}()

	if err := callBounded(bg, c.opts.EditTimeout, func(ctx context.Context) error {
		return c.messenger.Typing(ctx, req.ChatID)
	}); err != nil {
		log.WithError(err).Debug("Failed to send typing indicator")
	}

	notice := c.localizer.Get(req.Language, i18n.MsgProcessing, nil)
	placeholder, err := c.send(bg, req.ChatID, notice, req.MessageID)
	if err != nil {
		log.WithError(err).Error("Failed to send placeholder")
		result.Outcome = Classify(fmt.Errorf("send placeholder: %w", err))
		return result
	}
	result.Placeholder = placeholder

	if c.opts.Animate {
		anim = startAnimator(bg, c.messenger, placeholder, notice, c.opts.AnimationInterval, c.opts.EditTimeout, log)
	}

	result.Outcome = c.generate(ctx, req.Text, log)

	if anim != nil && !anim.Stop(c.opts.EditTimeout) {
		log.Warn("Progress animation stuck in transport, abandoned")
	}

	result.Delivered = c.deliver(bg, placeholder, req.Language, result.Outcome, log)
	settled = true
	return result
}

type generation struct {
	text string
	err  error
}

// generate runs the generator under the deadline. The generator goroutine is
// abandoned if it ignores its context; its result channel is buffered.
func (c *Controller) generate(ctx context.Context, text string, log logrus.FieldLogger) Outcome {
	genCtx, cancel := context.WithTimeout(ctx, c.opts.Deadline)
	defer cancel()

	results := make(chan generation, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				results <- generation{err: fmt.Errorf("generator panic: %v", r)}
			}
		}()
		answer, err := c.generator.Generate(genCtx, text)
		results <- generation{text: answer, err: err}
	}()

	select {
	case res := <-results:
		if res.err != nil {
			log.WithError(res.err).Warn("Generation failed")
			return Classify(res.err)
		}
		if strings.TrimSpace(res.text) == "" {
			return Classify(errors.New("empty response from generator"))
		}
		return Success(res.text)
	case <-genCtx.Done():
		err := genCtx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrTimeout, c.opts.Deadline)
		}
		log.WithError(err).Warn("Generation did not finish in time")
		return Classify(err)
	}
}

// deliver writes the terminal content into the placeholder. If the answer itself
// cannot be written, one attempt is made to leave an apology instead.
func (c *Controller) deliver(ctx context.Context, ref models.MessageRef, lang string, outcome Outcome, log logrus.FieldLogger) bool {
	if ref.IsZero() {
		return false
	}

	text := outcome.Text
	if outcome.Kind != KindSuccess {
		text = c.failureText(lang, outcome)
	}

	err := c.edit(ctx, ref, text)
	if err == nil || errors.Is(err, ErrNotModified) {
		return true
	}
	if errors.Is(err, ErrMessageGone) {
		log.WithError(err).Warn("Placeholder disappeared before delivery")
		return false
	}
	log.WithError(err).Error("Failed to deliver reply")

	// A stalled transport would stall the fallback too.
	if outcome.Kind == KindSuccess && !errors.Is(err, errTransportStalled) {
		fallback := c.failureText(lang, Classify(fmt.Errorf("deliver reply: %w", err)))
		if err := c.edit(ctx, ref, fallback); err != nil {
			log.WithError(err).Error("Failed to deliver error notice")
			return false
		}
		return true
	}
	return false
}

// safeDeliver is deliver for the panic path, where the messenger itself may be at fault.
func (c *Controller) safeDeliver(ctx context.Context, ref models.MessageRef, lang string, outcome Outcome, log logrus.FieldLogger) (delivered bool) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Recovered from panic while delivering error notice")
			delivered = false
		}
	}()
	return c.deliver(ctx, ref, lang, outcome, log)
}

func (c *Controller) failureText(lang string, outcome Outcome) string {
	messageID := i18n.MsgErrorUnknown
	switch outcome.Kind {
	case KindTimeout:
		messageID = i18n.MsgErrorTimeout
	case KindBackendError:
		messageID = i18n.MsgErrorBackend
	}
	return c.localizer.Get(lang, messageID, map[string]interface{}{"Detail": outcome.Detail})
}

func (c *Controller) reply(ctx context.Context, req models.Request, text string, log logrus.FieldLogger) {
	if _, err := c.send(ctx, req.ChatID, text, req.MessageID); err != nil {
		log.WithError(err).Error("Failed to send reply")
	}
}

func (c *Controller) send(ctx context.Context, chatID int64, text string, replyTo int) (models.MessageRef, error) {
	var ref models.MessageRef
	err := callBounded(ctx, c.opts.EditTimeout, func(ctx context.Context) error {
		sent, err := c.messenger.Send(ctx, chatID, text, replyTo)
		if err != nil {
			return err
		}
		ref = sent
		return nil
	})
	if err != nil {
		return models.MessageRef{}, err
	}
	return ref, nil
}

func (c *Controller) edit(ctx context.Context, ref models.MessageRef, text string) error {
	return callBounded(ctx, c.opts.EditTimeout, func(ctx context.Context) error {
		return c.messenger.Edit(ctx, ref, text)
	})
}

// callBounded runs fn under timeout and stops waiting once it expires, even if
// fn ignores its context. A panic in fn comes back as an error.
func callBounded(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				errc <- fmt.Errorf("messenger panic: %v", r)
			}
		}()
		errc <- fn(ctx)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w after %s: %v", errTransportStalled, timeout, ctx.Err())
	}
}
