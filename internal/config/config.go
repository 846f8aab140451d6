package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// VerificationPolicy controls how webhook signature failures are treated.
type VerificationPolicy string

const (
	// VerificationStrict rejects any request whose signature does not verify.
	VerificationStrict VerificationPolicy = "strict"
	// VerificationPermissiveIfUnconfigured accepts unsigned requests only
	// when no webhook secret is configured, logging a warning.
	VerificationPermissiveIfUnconfigured VerificationPolicy = "permissive_if_unconfigured"
	// VerificationLogOnly logs signature failures but never rejects.
	VerificationLogOnly VerificationPolicy = "log_only"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	UseMemoryQueue bool
	WorkerCount    int
	DatabaseURL    string

	ProviderBaseURL     string
	ProviderAPIKey      string
	WebhookSecret       string
	WebhookVerifyToken  string
	VerificationPolicy  VerificationPolicy
	ProviderTimeout     time.Duration
	SessionWindow       time.Duration
	DispatchMaxAttempts int
	DispatchBackoff     []time.Duration

	AIEnabled        bool
	BedrockModelID   string
	GeminiAPIKey     string
	GeminiModelID    string
	ModelTimeout     time.Duration
	FlowTTL          time.Duration
	IncidentContext  string
	AssistantPersona string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	EventQueueURL       string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	ToolsFile string

	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	NotifyEmail       string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		UseMemoryQueue: getEnvAsBool("USE_MEMORY_QUEUE", false),
		WorkerCount:    getEnvAsInt("WORKER_COUNT", 2),
		DatabaseURL:    getEnv("DATABASE_URL", ""),

		ProviderBaseURL:     getEnv("PROVIDER_BASE_URL", ""),
		ProviderAPIKey:      getEnv("PROVIDER_API_KEY", ""),
		WebhookSecret:       getEnv("WEBHOOK_SECRET", ""),
		WebhookVerifyToken:  getEnv("WEBHOOK_VERIFY_TOKEN", ""),
		VerificationPolicy:  parsePolicy(getEnv("WEBHOOK_VERIFICATION_POLICY", "strict")),
		ProviderTimeout:     getEnvAsDuration("PROVIDER_TIMEOUT", 30*time.Second),
		SessionWindow:       getEnvAsDuration("SESSION_WINDOW", 24*time.Hour),
		DispatchMaxAttempts: getEnvAsInt("DISPATCH_MAX_ATTEMPTS", 3),
		DispatchBackoff:     parseBackoff(getEnv("DISPATCH_BACKOFF", "60s,300s,900s")),

		AIEnabled:        getEnvAsBool("AI_ENABLED", false),
		BedrockModelID:   getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:     getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:    getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),
		ModelTimeout:     getEnvAsDuration("MODEL_TIMEOUT", 60*time.Second),
		FlowTTL:          getEnvAsDuration("FLOW_TTL", 30*time.Minute),
		IncidentContext:  getEnv("INCIDENT_CONTEXT", ""),
		AssistantPersona: getEnv("ASSISTANT_PERSONA", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		EventQueueURL:       getEnv("EVENT_QUEUE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		ToolsFile: getEnv("TOOLS_FILE", ""),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Converse AI"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		NotifyEmail:       getEnv("NOTIFY_EMAIL", ""),
	}
}

func parsePolicy(raw string) VerificationPolicy {
	switch VerificationPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case VerificationPermissiveIfUnconfigured:
		return VerificationPermissiveIfUnconfigured
	case VerificationLogOnly:
		return VerificationLogOnly
	default:
		return VerificationStrict
	}
}

func parseBackoff(raw string) []time.Duration {
	parts := strings.Split(raw, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(p))
		if err != nil || d <= 0 {
			continue
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		out = []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}
	}
	return out
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
