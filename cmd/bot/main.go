package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/tg-relay-bot/internal/config"
	"github.com/tg-relay-bot/internal/handlers"
	"github.com/tg-relay-bot/internal/i18n"
	"github.com/tg-relay-bot/internal/middleware"
	"github.com/tg-relay-bot/internal/relay"
	"github.com/tg-relay-bot/internal/server"
	"github.com/tg-relay-bot/internal/services/ai"
	"github.com/tg-relay-bot/internal/services/cache"
	"github.com/tg-relay-bot/internal/services/storage"
	"github.com/tg-relay-bot/internal/services/telegram"
	"github.com/tg-relay-bot/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to .env file")
	flag.Parse()

	// Hosted deployments pass everything through the environment.
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Printf("Warning: failed to load %s: %v\n", *envFile, err)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info("Starting Telegram relay bot...")
	log.WithField("token_length", len(cfg.Bot.Token)).Info("Bot token loaded")

	// Every Bot API call made while answering must end within the host timeout.
	bot, err := newBotAPI(cfg.Bot.Token, cfg.Relay.HostTimeout, cfg.Logging.Level == "debug")
	if err != nil {
		log.WithError(err).Fatal("Failed to create bot")
	}
	log.WithField("username", bot.Self.UserName).Info("Bot authorized")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize i18n")
	}

	metrics := middleware.NewMetrics()

	admission, err := storage.NewAdmission(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize admission store")
	}
	if closer, ok := admission.(io.Closer); ok {
		defer closer.Close()
	}

	var generator relay.Generator = ai.NewClient(&cfg.Generation, log)
	if cfg.Cache.Enabled {
		generator = ai.WithCache(generator, cache.NewCache(&cfg.Cache, log), cfg.Generation.Model, metrics, log)
	}

	messenger := telegram.NewMessenger(bot, cfg.Bot.RenderMarkdown, log)
	controller := relay.NewController(relay.Options{
		Deadline:          cfg.Relay.Deadline,
		Animate:           cfg.Relay.Animate,
		AnimationInterval: cfg.Relay.AnimationInterval,
		EditTimeout:       cfg.Relay.EditTimeout,
	}, messenger, generator, admission, localizer, metrics, log)

	rateLimiter := middleware.NewRateLimiter(&cfg.RateLimit, log)
	dispatcher := handlers.NewDispatcher(
		handlers.NewCommandHandler(bot, localizer, log),
		handlers.NewMessageHandler(bot, controller, rateLimiter, metrics, localizer, log),
		metrics,
		log,
	)

	go startPeriodicTasks(ctx, rateLimiter, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if cfg.Bot.Webhook.Enabled {
		runWebhook(cfg, bot, dispatcher, log, sigChan)
	} else {
		runPolling(ctx, cfg, bot, dispatcher, log, sigChan)
	}

	cancel()
	log.Info("Bot stopped")
}

// runWebhook serves webhook deliveries until a shutdown signal arrives.
func runWebhook(cfg *config.Config, bot *tgbotapi.BotAPI, dispatcher *handlers.Dispatcher, log *logrus.Logger, sigChan <-chan os.Signal) {
	installer := telegram.NewWebhookInstaller(bot, cfg.Bot.Token)
	if cfg.Bot.Webhook.URL != "" {
		if err := installer.Install(cfg.Bot.Webhook.URL); err != nil {
			log.WithError(err).Error("Failed to set webhook")
		} else {
			log.Info("Webhook set")
		}
	}

	opts := server.Options{Token: cfg.Bot.Token, WebhookURL: cfg.Bot.Webhook.URL}
	if cfg.Monitoring.Metrics.Enabled {
		opts.MetricsPath = cfg.Monitoring.Metrics.Path
	}
	handler := server.New(opts, dispatcher, installer, log)
	srv := server.NewHTTPServer(cfg.Bot.Webhook.Port, handler.Router(), cfg.Relay.HostTimeout)

	go func() {
		log.WithField("port", cfg.Bot.Webhook.Port).Info("Starting webhook server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Webhook server failed")
		}
	}()

	<-sigChan
	log.Info("Shutdown signal received")

	// In-flight deliveries finish within the host timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Relay.HostTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Webhook server shutdown failed")
	}
}

// runPolling long-polls for updates and handles each in its own goroutine so
// one slow generation never delays other users.
func runPolling(ctx context.Context, cfg *config.Config, bot *tgbotapi.BotAPI, dispatcher *handlers.Dispatcher, log *logrus.Logger, sigChan <-chan os.Signal) {
	if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		log.WithError(err).Warn("Failed to delete webhook before polling")
	}

	var metricsSrv *http.Server
	if cfg.Monitoring.Metrics.Enabled {
		metricsSrv = server.NewHTTPServer(cfg.Monitoring.Metrics.Port, server.MetricsRouter(cfg.Monitoring.Metrics.Path), cfg.Relay.HostTimeout)
		go func() {
			log.WithFields(logrus.Fields{
				"port": cfg.Monitoring.Metrics.Port,
				"path": cfg.Monitoring.Metrics.Path,
			}).Info("Starting metrics server")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
	}

	// getUpdates holds the connection open for UpdateTimeout seconds, longer than
	// the client used for replies allows.
	pollTimeout := time.Duration(cfg.Bot.UpdateTimeout)*time.Second + 10*time.Second
	poller, err := newBotAPI(cfg.Bot.Token, pollTimeout, bot.Debug)
	if err != nil {
		log.WithError(err).Error("Failed to create polling client")
		return
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = cfg.Bot.UpdateTimeout
	updates := poller.GetUpdatesChan(u)
	log.Info("Using long polling")

	var wg sync.WaitGroup
	done := make(chan struct{})
	go func() {
		for update := range updates {
			wg.Add(1)
			go func(update tgbotapi.Update) {
				defer wg.Done()
				dispatcher.Dispatch(ctx, update)
			}(update)
		}
		wg.Wait()
		close(done)
	}()

	<-sigChan
	log.Info("Shutdown signal received")
	poller.StopReceivingUpdates()

	select {
	case <-done:
	case <-time.After(cfg.Relay.HostTimeout):
		log.Warn("Timed out waiting for in-flight requests")
	}

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
}

// startPeriodicTasks starts periodic background tasks
func startPeriodicTasks(ctx context.Context, rateLimiter *middleware.UserRateLimiter, log *logrus.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := rateLimiter.Sweep(); removed > 0 {
				log.WithField("removed", removed).Debug("Evicted idle rate limiters")
			}
		}
	}
}

func newBotAPI(token string, timeout time.Duration, debug bool) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, tgbotapi.APIEndpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, err
	}
	bot.Debug = debug
	return bot, nil
}
