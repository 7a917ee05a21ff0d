package handlers

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
	"github.com/tg-relay-bot/internal/middleware"
)

// Dispatcher routes decoded updates to the command and message handlers.
type Dispatcher struct {
	commands *CommandHandler
	messages *MessageHandler
	metrics  *middleware.Metrics
	logger   *logrus.Logger
}

func NewDispatcher(commands *CommandHandler, messages *MessageHandler, metrics *middleware.Metrics, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		commands: commands,
		messages: messages,
		metrics:  metrics,
		logger:   logger,
	}
}

// Dispatch handles one update synchronously. Errors are logged and counted,
// never returned: Telegram would otherwise redeliver the update.
func (d *Dispatcher) Dispatch(ctx context.Context, update tgbotapi.Update) {
	message := update.Message
	if message == nil || message.Chat == nil {
		return
	}

	chatType := "private"
	if message.Chat.IsGroup() || message.Chat.IsSuperGroup() {
		chatType = "group"
	}
	d.metrics.RecordMessageReceived(chatType)

	var err error
	if message.IsCommand() {
		d.metrics.RecordCommandExecuted(message.Command())
		err = d.commands.HandleCommand(ctx, message)
	} else {
		err = d.messages.HandleMessage(ctx, message)
	}

	if err != nil {
		d.logger.WithError(err).WithField("update_id", update.UpdateID).Error("Failed to handle update")
		d.metrics.RecordMessageProcessed("error")
		return
	}
	d.metrics.RecordMessageProcessed("success")
}
