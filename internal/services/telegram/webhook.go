package telegram

import (
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// WebhookInstaller registers the bot's webhook with Telegram.
type WebhookInstaller struct {
	bot   BotClient
	token string
}

func NewWebhookInstaller(bot BotClient, token string) *WebhookInstaller {
	return &WebhookInstaller{bot: bot, token: token}
}

// WebhookURL is the public URL Telegram posts updates to.
func WebhookURL(baseURL, token string) string {
	return strings.TrimSuffix(baseURL, "/") + "/" + token
}

// Install points Telegram at baseURL/<token>.
func (w *WebhookInstaller) Install(baseURL string) error {
	webhook, err := tgbotapi.NewWebhook(WebhookURL(baseURL, w.token))
	if err != nil {
		return fmt.Errorf("create webhook: %w", err)
	}
	if _, err := w.bot.Request(webhook); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

// Remove deletes the webhook so the bot can fall back to long polling.
func (w *WebhookInstaller) Remove() error {
	if _, err := w.bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	return nil
}
