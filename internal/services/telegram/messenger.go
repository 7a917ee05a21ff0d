package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/tg-relay-bot/internal/models"
	"github.com/tg-relay-bot/internal/relay"
	"github.com/tg-relay-bot/pkg/markdown"
)

// MaxMessageRunes is Telegram's limit for message text.
const MaxMessageRunes = 4096

// BotClient is the subset of *tgbotapi.BotAPI used by the bot.
type BotClient interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Messenger implements relay.Messenger on the Telegram Bot API.
type Messenger struct {
	bot            BotClient
	renderMarkdown bool
	logger         *logrus.Logger
}

func NewMessenger(bot BotClient, renderMarkdown bool, logger *logrus.Logger) *Messenger {
	return &Messenger{
		bot:            bot,
		renderMarkdown: renderMarkdown,
		logger:         logger,
	}
}

// Send posts text as a reply. The Bot API client has no context support, so
// ctx is only checked before the call; the client's own timeout bounds the rest.
func (m *Messenger) Send(ctx context.Context, chatID int64, text string, replyTo int) (models.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return models.MessageRef{}, fmt.Errorf("send message: %w", err)
	}
	msg := tgbotapi.NewMessage(chatID, Truncate(text))
	msg.ReplyToMessageID = replyTo
	msg.AllowSendingWithoutReply = true

	sent, err := m.bot.Send(msg)
	if err != nil {
		return models.MessageRef{}, fmt.Errorf("send message: %w", classifyError(err))
	}
	return models.MessageRef{ChatID: chatID, MessageID: sent.MessageID}, nil
}

// Edit replaces the text of ref. With markdown rendering enabled the text is
// first sent as HTML and, if Telegram rejects the markup, again as plain text.
func (m *Messenger) Edit(ctx context.Context, ref models.MessageRef, text string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("edit message: %w", err)
	}
	if m.renderMarkdown {
		if html := markdown.ToTelegramHTML(text); html != "" && len([]rune(html)) <= MaxMessageRunes {
			edit := tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, html)
			edit.ParseMode = tgbotapi.ModeHTML
			_, err := m.bot.Send(edit)
			if err == nil {
				return nil
			}
			if ctx.Err() != nil {
				return fmt.Errorf("edit message: %w", classifyError(err))
			}
			err = classifyError(err)
			if errors.Is(err, relay.ErrMessageGone) || errors.Is(err, relay.ErrNotModified) {
				return fmt.Errorf("edit message: %w", err)
			}
			m.logger.WithError(err).Debug("Failed to send HTML edit, trying plain text")
		}
	}

	edit := tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, Truncate(text))
	if _, err := m.bot.Send(edit); err != nil {
		return fmt.Errorf("edit message: %w", classifyError(err))
	}
	return nil
}

func (m *Messenger) Typing(_ context.Context, chatID int64) error {
	if _, err := m.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		return fmt.Errorf("send chat action: %w", err)
	}
	return nil
}

// classifyError maps Bot API descriptions onto relay sentinels. Telegram only
// reports these conditions as text.
func classifyError(err error) error {
	description := err.Error()
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		description = apiErr.Message
	}
	description = strings.ToLower(description)

	switch {
	case strings.Contains(description, "message is not modified"):
		return fmt.Errorf("%w: %v", relay.ErrNotModified, err)
	case strings.Contains(description, "message to edit not found"),
		strings.Contains(description, "message can't be edited"):
		return fmt.Errorf("%w: %v", relay.ErrMessageGone, err)
	default:
		return err
	}
}

// Truncate shortens text to Telegram's message limit.
func Truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= MaxMessageRunes {
		return text
	}
	return string(runes[:MaxMessageRunes-1]) + "…"
}
