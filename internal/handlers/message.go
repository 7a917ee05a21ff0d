package handlers

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/tg-relay-bot/internal/i18n"
	"github.com/tg-relay-bot/internal/middleware"
	"github.com/tg-relay-bot/internal/models"
	"github.com/tg-relay-bot/internal/relay"
	"github.com/tg-relay-bot/internal/services/telegram"
	"github.com/tg-relay-bot/pkg/logger"
)

// Relay runs one request lifecycle.
type Relay interface {
	Handle(ctx context.Context, req models.Request) relay.Result
}

// MessageHandler handles regular messages
type MessageHandler struct {
	bot         telegram.BotClient
	relay       Relay
	rateLimiter middleware.RateLimiter
	metrics     *middleware.Metrics
	localizer   *i18n.Localizer
	logger      *logrus.Logger
}

// NewMessageHandler creates a new message handler
func NewMessageHandler(
	bot telegram.BotClient,
	relay Relay,
	rateLimiter middleware.RateLimiter,
	metrics *middleware.Metrics,
	localizer *i18n.Localizer,
	logger *logrus.Logger,
) *MessageHandler {
	return &MessageHandler{
		bot:         bot,
		relay:       relay,
		rateLimiter: rateLimiter,
		metrics:     metrics,
		localizer:   localizer,
		logger:      logger,
	}
}

// HandleMessage processes regular messages. It blocks until the reply has been
// delivered, which webhook mode relies on.
func (h *MessageHandler) HandleMessage(ctx context.Context, message *tgbotapi.Message) error {
	if message == nil || message.From == nil || message.IsCommand() || message.Text == "" {
		return nil
	}
	if message.From.IsBot {
		return nil
	}

	chatID := message.Chat.ID
	userID := message.From.ID
	lang := h.localizer.Resolve(message.From.LanguageCode)
	log := logger.WithChat(h.logger, chatID, userID)

	switch {
	case h.localizer.Matches(i18n.MsgButtonGreet, message.Text):
		return h.reply(message, h.localizer.Get(lang, i18n.MsgGreetReply, nil))
	case h.localizer.Matches(i18n.MsgButtonAsk, message.Text):
		return h.reply(message, h.localizer.Get(lang, i18n.MsgAskReply, nil))
	}

	if !h.rateLimiter.Allow(userID) {
		h.metrics.RecordRateLimitExceeded()
		return h.reply(message, h.localizer.Get(lang, i18n.MsgRateLimitExceeded, nil))
	}

	if err := middleware.ValidateInput(message.Text); err != nil {
		log.WithError(err).Warn("Input validation failed")
		return h.reply(message, h.localizer.Get(lang, i18n.MsgInvalidInput, map[string]interface{}{"Detail": err.Error()}))
	}

	result := h.relay.Handle(ctx, models.Request{
		UserID:    userID,
		ChatID:    chatID,
		MessageID: message.MessageID,
		Text:      message.Text,
		Language:  lang,
	})

	log.WithFields(logrus.Fields{
		"admitted": result.Admitted,
		"outcome":  result.Outcome.Kind.String(),
	}).Debug("Message relayed")
	return nil
}

func (h *MessageHandler) reply(message *tgbotapi.Message, text string) error {
	msg := tgbotapi.NewMessage(message.Chat.ID, text)
	msg.ReplyToMessageID = message.MessageID
	if _, err := h.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send reply: %w", err)
	}
	return nil
}
