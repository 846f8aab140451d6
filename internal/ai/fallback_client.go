package ai

import (
	"context"
	"strings"

	"github.com/wolfman30/converse-ai-platform/pkg/logging"
)

// FallbackLLMClient wraps a primary LLM client with a secondary backend.
// Any primary failure, rate limiting included, is retried once against the
// fallback with the same request; both failing surfaces the last error.
type FallbackLLMClient struct {
	primary  LLMClient
	fallback LLMClient
	logger   *logging.Logger
}

func NewFallbackLLMClient(primary, fallback LLMClient, logger *logging.Logger) *FallbackLLMClient {
	if primary == nil {
		panic("ai: primary LLM client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackLLMClient{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (c *FallbackLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	resp, err := c.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}

	c.logger.Warn("primary LLM failed, attempting fallback",
		"error", err.Error(),
		"rate_limited", IsRateLimited(err),
		"fallback_available", c.fallback != nil,
	)
	if c.fallback == nil {
		return LLMResponse{}, err
	}

	fallbackResp, fallbackErr := c.fallback.Complete(ctx, req)
	if fallbackErr != nil {
		c.logger.Error("fallback LLM also failed",
			"primary_error", err.Error(),
			"fallback_error", fallbackErr.Error(),
		)
		return LLMResponse{}, fallbackErr
	}

	c.logger.Info("fallback LLM succeeded after primary failure")
	return fallbackResp, nil
}

// rateLimitMarkers are matched case-insensitively against error text. The
// backends surface throttling either as an HTTP 429 embedded in the
// message or as a provider-specific phrase.
var rateLimitMarkers = []string{
	"429",
	"rate limit",
	"too many requests",
	"throttl",
	"quota exceeded",
	"resource exhausted",
}

// IsRateLimited reports whether an error looks like backend throttling.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
