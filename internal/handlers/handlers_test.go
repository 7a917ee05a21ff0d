package handlers

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"
	"github.com/tg-relay-bot/internal/config"
	"github.com/tg-relay-bot/internal/i18n"
	"github.com/tg-relay-bot/internal/middleware"
	"github.com/tg-relay-bot/internal/models"
	"github.com/tg-relay-bot/internal/relay"
	"github.com/tg-relay-bot/pkg/logger"
)

type fakeBot struct {
	mu      sync.Mutex
	sent    []tgbotapi.MessageConfig
	sendErr error
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent = append(b.sent, msg)
	}
	if b.sendErr != nil {
		return tgbotapi.Message{}, b.sendErr
	}
	return tgbotapi.Message{MessageID: len(b.sent)}, nil
}

func (b *fakeBot) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) Sent() []tgbotapi.MessageConfig {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]tgbotapi.MessageConfig(nil), b.sent...)
}

type fakeRelay struct {
	mu       sync.Mutex
	requests []models.Request
}

func (r *fakeRelay) Handle(_ context.Context, req models.Request) relay.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req)
	return relay.Result{Admitted: true, Outcome: relay.Success("ok"), Delivered: true}
}

type fakeLimiter struct{ allow bool }

func (l fakeLimiter) Allow(int64) bool { return l.allow }
func (l fakeLimiter) Reset(int64)      {}

type fixture struct {
	bot        *fakeBot
	relay      *fakeRelay
	localizer  *i18n.Localizer
	dispatcher *Dispatcher
}

func newFixture(t *testing.T, limiter middleware.RateLimiter) *fixture {
	t.Helper()
	localizer, err := i18n.NewLocalizer(&config.I18nConfig{DefaultLanguage: "ru", Languages: []string{"ru", "en"}})
	require.NoError(t, err)

	f := &fixture{bot: &fakeBot{}, relay: &fakeRelay{}, localizer: localizer}
	metrics := middleware.NewMetrics()
	log := logger.Discard()
	f.dispatcher = NewDispatcher(
		NewCommandHandler(f.bot, localizer, log),
		NewMessageHandler(f.bot, f.relay, limiter, metrics, localizer, log),
		metrics,
		log,
	)
	return f
}

func textMessage(text, lang string) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		MessageID: 77,
		Text:      text,
		Chat:      &tgbotapi.Chat{ID: 10, Type: "private"},
		From:      &tgbotapi.User{ID: 5, LanguageCode: lang},
	}
	if strings.HasPrefix(text, "/") {
		length := len(text)
		if i := strings.IndexByte(text, ' '); i >= 0 {
			length = i
		}
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}}
	}
	return msg
}

func TestStartCommandSendsKeyboard(t *testing.T) {
	f := newFixture(t, fakeLimiter{allow: true})

	f.dispatcher.Dispatch(context.Background(), tgbotapi.Update{UpdateID: 1, Message: textMessage("/start", "ru")})

	sent := f.bot.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, int64(10), sent[0].ChatID)
	require.Equal(t, f.localizer.Get("ru", i18n.MsgWelcome, nil), sent[0].Text)

	keyboard, ok := sent[0].ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, keyboard.Keyboard, 1)
	require.Equal(t, "👋 Поздороваться", keyboard.Keyboard[0][0].Text)
	require.Equal(t, "❓ Задать вопрос", keyboard.Keyboard[0][1].Text)
	require.Empty(t, f.relay.requests)
}

func TestHelpAndUnknownCommands(t *testing.T) {
	f := newFixture(t, fakeLimiter{allow: true})

	f.dispatcher.Dispatch(context.Background(), tgbotapi.Update{Message: textMessage("/help", "en")})
	f.dispatcher.Dispatch(context.Background(), tgbotapi.Update{Message: textMessage("/frobnicate now", "en")})

	sent := f.bot.Sent()
	require.Len(t, sent, 2)
	require.Equal(t, f.localizer.Get("en", i18n.MsgHelp, nil), sent[0].Text)
	require.Equal(t, f.localizer.Get("en", i18n.MsgUnknownCommand, nil), sent[1].Text)
	require.Empty(t, f.relay.requests)
}

func TestButtonPressesAreAnsweredLocally(t *testing.T) {
	f := newFixture(t, fakeLimiter{allow: true})

	f.dispatcher.Dispatch(context.Background(), tgbotapi.Update{Message: textMessage("👋 Поздороваться", "ru")})
	f.dispatcher.Dispatch(context.Background(), tgbotapi.Update{Message: textMessage("❓ Ask a question", "en")})

	sent := f.bot.Sent()
	require.Len(t, sent, 2)
	require.Equal(t, f.localizer.Get("ru", i18n.MsgGreetReply, nil), sent[0].Text)
	require.Equal(t, 77, sent[0].ReplyToMessageID)
	require.Equal(t, f.localizer.Get("en", i18n.MsgAskReply, nil), sent[1].Text)
	require.Empty(t, f.relay.requests)
}

func TestFreeTextIsRelayed(t *testing.T) {
	f := newFixture(t, fakeLimiter{allow: true})

	f.dispatcher.Dispatch(context.Background(), tgbotapi.Update{Message: textMessage("2+2?", "en-US")})

	require.Empty(t, f.bot.Sent())
	require.Equal(t, []models.Request{{
		UserID:    5,
		ChatID:    10,
		MessageID: 77,
		Text:      "2+2?",
		Language:  "en",
	}}, f.relay.requests)
}

func TestRateLimitedMessageIsNotRelayed(t *testing.T) {
	f := newFixture(t, fakeLimiter{allow: false})

	f.dispatcher.Dispatch(context.Background(), tgbotapi.Update{Message: textMessage("hello", "en")})

	sent := f.bot.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, f.localizer.Get("en", i18n.MsgRateLimitExceeded, nil), sent[0].Text)
	require.Empty(t, f.relay.requests)
}

func TestInvalidInputIsNotRelayed(t *testing.T) {
	f := newFixture(t, fakeLimiter{allow: true})

	f.dispatcher.Dispatch(context.Background(), tgbotapi.Update{Message: textMessage(strings.Repeat("a", 5000), "en")})

	sent := f.bot.Sent()
	require.Len(t, sent, 1)
	require.Contains(t, sent[0].Text, "message too long")
	require.Empty(t, f.relay.requests)
}

func TestIgnoredUpdates(t *testing.T) {
	f := newFixture(t, fakeLimiter{allow: true})
	ctx := context.Background()

	f.dispatcher.Dispatch(ctx, tgbotapi.Update{})
	f.dispatcher.Dispatch(ctx, tgbotapi.Update{Message: textMessage("", "en")})

	fromBot := textMessage("hi", "en")
	fromBot.From.IsBot = true
	f.dispatcher.Dispatch(ctx, tgbotapi.Update{Message: fromBot})

	noSender := textMessage("hi", "en")
	noSender.From = nil
	f.dispatcher.Dispatch(ctx, tgbotapi.Update{Message: noSender})

	require.Empty(t, f.bot.Sent())
	require.Empty(t, f.relay.requests)
}

func TestCommandSendFailureIsReturned(t *testing.T) {
	f := newFixture(t, fakeLimiter{allow: true})
	f.bot.sendErr = errors.New("network down")

	h := NewCommandHandler(f.bot, f.localizer, logger.Discard())
	err := h.HandleCommand(context.Background(), textMessage("/help", "en"))
	require.ErrorContains(t, err, "network down")

	// Dispatch swallows the error so the update is not redelivered.
	f.dispatcher.Dispatch(context.Background(), tgbotapi.Update{Message: textMessage("/help", "en")})
}
