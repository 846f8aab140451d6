package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/converse-ai-platform/cmd/mainconfig"
	"github.com/wolfman30/converse-ai-platform/internal/app/bootstrap"
	appconfig "github.com/wolfman30/converse-ai-platform/internal/config"
	"github.com/wolfman30/converse-ai-platform/internal/dispatch"
	"github.com/wolfman30/converse-ai-platform/pkg/logging"
)

const flowExpiryInterval = time.Minute

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting converse-ai-platform worker", "env", cfg.Env)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	worker := pipeline.Worker(cfg.WorkerCount)
	worker.Start()

	retrySender := dispatch.NewRetrySender(pipeline.Chat, pipeline.Dispatcher, logger)
	go retrySender.Run(ctx)

	go runFlowExpiry(ctx, pipeline, cfg.FlowTTL, logger)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down worker...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := worker.Shutdown(shutdownCtx); err != nil {
		logger.Error("worker forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("worker stopped")
}

func runFlowExpiry(ctx context.Context, pipeline *bootstrap.Pipeline, ttl time.Duration, logger *logging.Logger) {
	ticker := time.NewTicker(flowExpiryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleared, err := pipeline.Flows.ExpireStale(ctx, ttl)
			if err != nil {
				logger.Error("flow expiry failed", "error", err)
				continue
			}
			if cleared > 0 {
				logger.Info("expired stale flows", "count", cleared)
			}
		}
	}
}
