package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Dispatcher handles one decoded update to completion.
type Dispatcher interface {
	Dispatch(ctx context.Context, update tgbotapi.Update)
}

// WebhookInstaller registers or removes the bot webhook with Telegram.
type WebhookInstaller interface {
	Install(baseURL string) error
	Remove() error
}

// Options configures the HTTP surface.
type Options struct {
	Token       string
	WebhookURL  string
	MetricsPath string // empty disables the metrics endpoint
}

// Handler serves Telegram webhook deliveries.
type Handler struct {
	opts       Options
	dispatcher Dispatcher
	installer  WebhookInstaller
	logger     *logrus.Logger
}

func New(opts Options, dispatcher Dispatcher, installer WebhookInstaller, logger *logrus.Logger) *Handler {
	return &Handler{
		opts:       opts,
		dispatcher: dispatcher,
		installer:  installer,
		logger:     logger,
	}
}

// Router builds the webhook router.
func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(h.loggingMiddleware)

	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	if h.opts.MetricsPath != "" {
		router.Handle(h.opts.MetricsPath, promhttp.Handler()).Methods(http.MethodGet)
	}
	router.HandleFunc("/", h.SetupWebhook).Methods(http.MethodGet)
	router.HandleFunc("/{token}", h.Update).Methods(http.MethodPost)
	return router
}

// Update decodes a webhook delivery and processes it before responding.
// Serverless hosts may freeze the process once the response is written, so
// nothing is left running in the background.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.opts.Token)) != 1 {
		http.NotFound(w, r)
		return
	}

	var update tgbotapi.Update
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		h.logger.WithError(err).Warn("Failed to decode update")
		http.Error(w, "bad update", http.StatusBadRequest)
		return
	}

	h.dispatcher.Dispatch(r.Context(), update)
	writeText(w, http.StatusOK, "!")
}

// SetupWebhook installs the webhook when a public URL is configured and removes
// it otherwise.
func (h *Handler) SetupWebhook(w http.ResponseWriter, r *http.Request) {
	var err error
	if h.opts.WebhookURL != "" {
		err = h.installer.Install(h.opts.WebhookURL)
	} else {
		err = h.installer.Remove()
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to configure webhook")
		http.Error(w, "webhook setup failed", http.StatusBadGateway)
		return
	}
	writeText(w, http.StatusOK, "!")
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		// The path carries the bot token on webhook deliveries.
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}
		h.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     path,
			"duration": time.Since(start).String(),
		}).Debug("HTTP request")
	})
}

// MetricsRouter serves only the metrics endpoint, for long-polling mode.
func MetricsRouter(path string) *mux.Router {
	router := mux.NewRouter()
	router.Handle(path, promhttp.Handler()).Methods(http.MethodGet)
	return router
}

// NewHTTPServer wraps handler in a server whose write timeout outlasts one
// full request lifecycle.
func NewHTTPServer(port int, handler http.Handler, hostTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: hostTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
