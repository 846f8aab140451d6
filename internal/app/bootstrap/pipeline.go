// Package bootstrap wires the event pipeline once so the api and worker
// binaries share the same construction code.
package bootstrap

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/converse-ai-platform/internal/ai"
	"github.com/wolfman30/converse-ai-platform/internal/calls"
	"github.com/wolfman30/converse-ai-platform/internal/chat"
	appconfig "github.com/wolfman30/converse-ai-platform/internal/config"
	"github.com/wolfman30/converse-ai-platform/internal/dispatch"
	"github.com/wolfman30/converse-ai-platform/internal/flow"
	"github.com/wolfman30/converse-ai-platform/internal/ingest"
	"github.com/wolfman30/converse-ai-platform/internal/notify"
	observemetrics "github.com/wolfman30/converse-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/converse-ai-platform/internal/provider"
	"github.com/wolfman30/converse-ai-platform/internal/queue"
	"github.com/wolfman30/converse-ai-platform/internal/tools"
	"github.com/wolfman30/converse-ai-platform/internal/webhook"
	"github.com/wolfman30/converse-ai-platform/pkg/logging"
)

// Pipeline holds every long-lived component of the event pipeline.
type Pipeline struct {
	Logger *logging.Logger

	Pool  *pgxpool.Pool
	Redis *redis.Client

	Gateway   provider.Gateway
	RawEvents *webhook.Store
	Chat      *chat.Store

	Queue      queue.Client
	Publisher  *queue.Publisher
	Dispatcher *dispatch.Dispatcher
	Normalizer *ingest.Normalizer
	Calls      *calls.Manager
	Flows      *flow.Engine
	Registry   *tools.Registry

	// Orchestrator is nil when AI is disabled.
	Orchestrator *ai.Orchestrator

	gemini *ai.GeminiLLMClient
}

// Build constructs the pipeline from configuration. AWS config is passed in
// so the binaries keep control over credential loading.
func Build(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = logging.Default()
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}

	redisOpts := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	rdb := redis.NewClient(redisOpts)

	gateway, err := provider.New(provider.Config{
		BaseURL: cfg.ProviderBaseURL,
		APIKey:  cfg.ProviderAPIKey,
		Timeout: cfg.ProviderTimeout,
		Logger:  logger.Logger,
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: provider client: %w", err)
	}

	p := &Pipeline{
		Logger:    logger,
		Pool:      pool,
		Redis:     rdb,
		Gateway:   gateway,
		RawEvents: webhook.NewStore(pool),
		Chat:      chat.NewStore(pool),
	}

	if cfg.UseMemoryQueue {
		p.Queue = queue.NewMemoryQueue(256)
	} else {
		if cfg.EventQueueURL == "" {
			p.Close()
			return nil, fmt.Errorf("bootstrap: EVENT_QUEUE_URL required without memory queue")
		}
		p.Queue = queue.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.EventQueueURL)
	}
	p.Publisher = queue.NewPublisher(p.Queue, logger)

	p.Dispatcher = dispatch.New(dispatch.Config{
		Store:         p.Chat,
		Gateway:       gateway,
		Logger:        logger,
		Metrics:       observemetrics.NewDispatchMetrics(prometheus.DefaultRegisterer),
		SessionWindow: cfg.SessionWindow,
		MaxAttempts:   cfg.DispatchMaxAttempts,
		Backoff:       cfg.DispatchBackoff,
	})

	p.Registry = tools.NewRegistry()
	emailSender := buildEmailSender(cfg, awsCfg, logger)
	if err := registerTools(cfg, p.Registry, emailSender, p.Dispatcher, logger); err != nil {
		p.Close()
		return nil, err
	}
	p.Flows = flow.NewEngine(p.Chat, p.Registry, logger)

	var llm ai.LLMClient
	if cfg.AIEnabled {
		client, gemini, err := buildLLM(ctx, cfg, awsCfg, logger)
		if err != nil {
			p.Close()
			return nil, err
		}
		llm = client
		p.gemini = gemini
		p.Orchestrator = ai.NewOrchestrator(ai.OrchestratorConfig{
			LLM:             llm,
			Registry:        p.Registry,
			Flows:           p.Flows,
			Store:           p.Chat,
			Sender:          p.Dispatcher,
			Logger:          logger,
			Model:           cfg.BedrockModelID,
			Persona:         cfg.AssistantPersona,
			IncidentContext: cfg.IncidentContext,
			ModelTimeout:    cfg.ModelTimeout,
		})
	}

	p.Calls = calls.NewManager(calls.ManagerConfig{
		Transcripts: calls.NewTranscriptStore(rdb),
		Store:       calls.NewStore(pool),
		Classifier:  calls.NewClassifier(llm, cfg.BedrockModelID, logger),
		Gateway:     gateway,
		Publisher:   p.Publisher,
		Logger:      logger,
	})

	normalizerCfg := ingest.NormalizerConfig{
		RawEvents: p.RawEvents,
		ChatStore: p.Chat,
		Gateway:   gateway,
		Calls:     p.Calls,
		Logger:    logger,
		Metrics:   observemetrics.NewIngressMetrics(prometheus.DefaultRegisterer),
	}
	if p.Orchestrator != nil {
		normalizerCfg.Responder = p.Orchestrator
	}
	p.Normalizer = ingest.NewNormalizer(normalizerCfg)

	return p, nil
}

// Worker builds the queue consumer over the pipeline's components.
func (p *Pipeline) Worker(workers int) *queue.Worker {
	return queue.NewWorker(queue.WorkerConfig{
		Queue:      p.Queue,
		Normalizer: p.Normalizer,
		Messages:   p.Chat,
		Dispatcher: p.Dispatcher,
		Classifier: p.Calls,
		Logger:     p.Logger,
	}, queue.WithWorkerCount(workers))
}

// Close releases held connections.
func (p *Pipeline) Close() {
	if p.gemini != nil {
		_ = p.gemini.Close()
	}
	if p.Redis != nil {
		_ = p.Redis.Close()
	}
	if p.Pool != nil {
		p.Pool.Close()
	}
}

func buildLLM(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (ai.LLMClient, *ai.GeminiLLMClient, error) {
	if cfg.BedrockModelID == "" {
		return nil, nil, fmt.Errorf("bootstrap: BEDROCK_MODEL_ID required when AI is enabled")
	}
	primary := ai.NewBedrockLLMClient(bedrockruntime.NewFromConfig(awsCfg))
	if cfg.GeminiAPIKey == "" {
		return primary, nil, nil
	}
	gemini, err := ai.NewGeminiLLMClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
	if err != nil {
		return nil, nil, fmt.Errorf("bootstrap: gemini client: %w", err)
	}
	return ai.NewFallbackLLMClient(primary, gemini, logger), gemini, nil
}

func buildEmailSender(cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) notify.EmailSender {
	if cfg.SendGridAPIKey != "" {
		return notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
	}
	if cfg.SESFromEmail != "" {
		return notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
	}
	return notify.NewStubEmailSender(logger)
}

// registerTools installs the predefined executors and any tool definitions
// from the tools file.
func registerTools(cfg *appconfig.Config, registry *tools.Registry, emailSender notify.EmailSender, dispatcher *dispatch.Dispatcher, logger *logging.Logger) error {
	defs := []tools.Definition{
		{
			Shortcode:     "notify_email",
			Description:   "Notify the operations team by email when a contact needs human attention.",
			Kind:          tools.KindPredefined,
			Action:        "notify_email",
			ParameterHint: `{"subject": "...", "body": "..."}`,
		},
		{
			Shortcode:     "send_template",
			Description:   "Send an approved template message to the contact.",
			Kind:          tools.KindPredefined,
			Action:        "send_template",
			ParameterHint: `{"template_name": "..."}`,
		},
	}

	if cfg.ToolsFile != "" {
		loaded, err := loadToolsFile(cfg.ToolsFile)
		if err != nil {
			return err
		}
		defs = append(defs, loaded...)
	}

	for _, def := range defs {
		exec, err := executorFor(def, emailSender, dispatcher, cfg, logger)
		if err != nil {
			return err
		}
		if err := registry.Register(def, exec); err != nil {
			return fmt.Errorf("bootstrap: register tool %s: %w", def.Shortcode, err)
		}
	}
	return nil
}

func loadToolsFile(path string) ([]tools.Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: read tools file: %w", err)
	}
	var defs []tools.Definition
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("bootstrap: parse tools file: %w", err)
	}
	return defs, nil
}

func executorFor(def tools.Definition, emailSender notify.EmailSender, dispatcher *dispatch.Dispatcher, cfg *appconfig.Config, logger *logging.Logger) (tools.ExecutorFunc, error) {
	switch def.Kind {
	case tools.KindHTTPCall:
		return tools.NewHTTPExecutor(def, nil, logger), nil
	case tools.KindPredefined:
		switch def.Action {
		case "notify_email":
			return tools.NewNotifyEmailExecutor(emailSender, cfg.NotifyEmail, logger), nil
		case "send_template":
			return tools.NewSendTemplateExecutor(dispatcher, logger), nil
		default:
			return nil, fmt.Errorf("bootstrap: unknown predefined action %q", def.Action)
		}
	default:
		return nil, fmt.Errorf("bootstrap: unknown tool kind %q", def.Kind)
	}
}
