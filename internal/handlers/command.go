package handlers

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/tg-relay-bot/internal/i18n"
	"github.com/tg-relay-bot/internal/services/telegram"
)

// CommandHandler handles telegram commands
type CommandHandler struct {
	bot       telegram.BotClient
	localizer *i18n.Localizer
	logger    *logrus.Logger
}

// NewCommandHandler creates a new command handler
func NewCommandHandler(bot telegram.BotClient, localizer *i18n.Localizer, logger *logrus.Logger) *CommandHandler {
	return &CommandHandler{
		bot:       bot,
		localizer: localizer,
		logger:    logger,
	}
}

// HandleCommand answers commands with static replies; none of them reach the model.
func (h *CommandHandler) HandleCommand(ctx context.Context, message *tgbotapi.Message) error {
	chatID := message.Chat.ID
	lang := h.localizer.Resolve(languageCode(message))

	switch message.Command() {
	case "start":
		return h.handleStart(chatID, lang)
	case "help":
		return h.send(tgbotapi.NewMessage(chatID, h.localizer.Get(lang, i18n.MsgHelp, nil)))
	default:
		h.logger.WithField("command", message.Command()).Debug("Unknown command")
		return h.send(tgbotapi.NewMessage(chatID, h.localizer.Get(lang, i18n.MsgUnknownCommand, nil)))
	}
}

func (h *CommandHandler) handleStart(chatID int64, lang string) error {
	msg := tgbotapi.NewMessage(chatID, h.localizer.Get(lang, i18n.MsgWelcome, nil))
	keyboard := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(h.localizer.Get(lang, i18n.MsgButtonGreet, nil)),
			tgbotapi.NewKeyboardButton(h.localizer.Get(lang, i18n.MsgButtonAsk, nil)),
		),
	)
	keyboard.ResizeKeyboard = true
	msg.ReplyMarkup = keyboard
	return h.send(msg)
}

func (h *CommandHandler) send(msg tgbotapi.MessageConfig) error {
	if _, err := h.bot.Send(msg); err != nil {
		return fmt.Errorf("failed to send command reply: %w", err)
	}
	return nil
}

func languageCode(message *tgbotapi.Message) string {
	if message.From == nil {
		return ""
	}
	return message.From.LanguageCode
}
