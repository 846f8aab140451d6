package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wolfman30/converse-ai-platform/pkg/logging"
)

const httpToolTimeout = 20 * time.Second

// NewHTTPExecutor builds an executor for an http_call tool. URL, headers
// and body are interpolated from the merged variable set at call time.
func NewHTTPExecutor(def Definition, client *http.Client, logger *logging.Logger) ExecutorFunc {
	if client == nil {
		client = &http.Client{Timeout: httpToolTimeout}
	}
	if logger == nil {
		logger = logging.Default()
	}
	method := strings.ToUpper(def.Method)
	if method == "" {
		method = http.MethodPost
	}

	return func(ctx context.Context, _, vars map[string]string) (string, error) {
		url := Interpolate(def.URL, vars)
		if url == "" {
			return "", fmt.Errorf("tools: %s: empty url after interpolation", def.Shortcode)
		}

		var body io.Reader
		if def.Body != "" {
			body = strings.NewReader(Interpolate(def.Body, vars))
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return "", fmt.Errorf("tools: %s: build request: %w", def.Shortcode, err)
		}
		if def.Body != "" && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}
		for k, v := range InterpolateMap(def.Headers, vars) {
			req.Header.Set(k, v)
		}

		resp, err := client.Do(req)
		if err != nil {
			return "", fmt.Errorf("tools: %s: call failed: %w", def.Shortcode, err)
		}
		defer resp.Body.Close()

		out, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if err != nil {
			return "", fmt.Errorf("tools: %s: read response: %w", def.Shortcode, err)
		}
		if resp.StatusCode >= 400 {
			return "", fmt.Errorf("tools: %s: endpoint returned %d", def.Shortcode, resp.StatusCode)
		}
		logger.Info("http tool executed", "tool", def.Shortcode, "status", resp.StatusCode)
		return string(out), nil
	}
}
