package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/converse-ai-platform/internal/api/handlers"
	"github.com/wolfman30/converse-ai-platform/internal/api/middleware"
	"github.com/wolfman30/converse-ai-platform/internal/webhook"
	"github.com/wolfman30/converse-ai-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger         *logging.Logger
	Webhook        *webhook.Handler
	Messages       *handlers.MessagesHandler
	MetricsHandler http.Handler
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	if cfg.Logger != nil {
		r.Use(middleware.RequestLogger(cfg.Logger))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if cfg.Webhook != nil {
		r.Get("/webhook", cfg.Webhook.Handshake)
		r.Post("/webhook", cfg.Webhook.Receive)
	}

	if cfg.Messages != nil {
		r.Route("/conversations/{conversationID}", func(conv chi.Router) {
			conv.Get("/messages", cfg.Messages.History)
			conv.Post("/messages", cfg.Messages.Send)
			conv.Post("/open", cfg.Messages.MarkOpen)
		})
	}

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	return r
}
