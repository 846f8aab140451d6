package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/converse-ai-platform/cmd/mainconfig"
	"github.com/wolfman30/converse-ai-platform/internal/api/handlers"
	"github.com/wolfman30/converse-ai-platform/internal/api/router"
	"github.com/wolfman30/converse-ai-platform/internal/app/bootstrap"
	appconfig "github.com/wolfman30/converse-ai-platform/internal/config"
	"github.com/wolfman30/converse-ai-platform/internal/webhook"
	"github.com/wolfman30/converse-ai-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting converse-ai-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx := context.Background()
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	pipeline, err := bootstrap.Build(ctx, cfg, awsCfg, logger)
	if err != nil {
		logger.Error("failed to build pipeline", "error", err)
		os.Exit(1)
	}
	defer pipeline.Close()

	webhookHandler := webhook.NewHandler(webhook.HandlerConfig{
		Store:       pipeline.RawEvents,
		Verifier:    webhook.NewVerifier(cfg.WebhookSecret, cfg.VerificationPolicy),
		Publisher:   pipeline.Publisher,
		VerifyToken: cfg.WebhookVerifyToken,
		Logger:      logger,
	})

	messagesHandler := handlers.NewMessagesHandler(handlers.MessagesConfig{
		Store:      pipeline.Chat,
		Dispatcher: pipeline.Dispatcher,
		Logger:     logger,
	})

	r := router.New(&router.Config{
		Logger:         logger,
		Webhook:        webhookHandler,
		Messages:       messagesHandler,
		MetricsHandler: promhttp.Handler(),
	})

	// With the in-memory queue the consumer has to live in this process.
	if cfg.UseMemoryQueue {
		worker := pipeline.Worker(cfg.WorkerCount)
		worker.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = worker.Shutdown(shutdownCtx)
		}()
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
