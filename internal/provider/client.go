package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"log/slog"
)

const defaultUserAgent = "converse-ai-platform/0.1"

// Config controls how the provider client behaves.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	Backoff    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
	UserAgent  string
}

// Client implements Gateway against the provider's REST API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	maxRetries int
	backoff    time.Duration
	logger     *slog.Logger
	userAgent  string
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("provider: API key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("provider: base URL is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = 250 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
		userAgent:  userAgent,
	}, nil
}

// SendMessage transmits one outbound message.
func (c *Client) SendMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	body, err := json.Marshal(struct {
		To             string   `json:"to"`
		Type           string   `json:"type"`
		Body           string   `json:"body,omitempty"`
		MediaURL       string   `json:"media_url,omitempty"`
		Caption        string   `json:"caption,omitempty"`
		TemplateName   string   `json:"template_name,omitempty"`
		TemplateParams []string `json:"template_params,omitempty"`
	}{
		To:             req.To,
		Type:           req.Type,
		Body:           req.Body,
		MediaURL:       req.MediaURL,
		Caption:        req.Caption,
		TemplateName:   req.TemplateName,
		TemplateParams: req.TemplateParams,
	})
	if err != nil {
		return nil, fmt.Errorf("provider: marshal send body: %w", err)
	}
	data, err := c.invoke(ctx, http.MethodPost, "/messages", nil, body)
	if err != nil {
		return nil, err
	}
	return decodeDataWrapper[SendResult](data)
}

// MarkRead reports an inbound message as read to the provider.
func (c *Client) MarkRead(ctx context.Context, providerMessageID string) error {
	if strings.TrimSpace(providerMessageID) == "" {
		return errors.New("provider: message id required")
	}
	body, err := json.Marshal(map[string]string{"status": "read"})
	if err != nil {
		return fmt.Errorf("provider: marshal mark-read payload: %w", err)
	}
	_, err = c.invoke(ctx, http.MethodPost, fmt.Sprintf("/messages/%s/status", url.PathEscape(providerMessageID)), nil, body)
	return err
}

// FetchConversation retrieves the provider-side conversation thread.
func (c *Client) FetchConversation(ctx context.Context, id string) (*ConversationSnapshot, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.New("provider: conversation id required")
	}
	data, err := c.invoke(ctx, http.MethodGet, fmt.Sprintf("/conversations/%s", url.PathEscape(id)), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeDataWrapper[ConversationSnapshot](data)
}

// FetchTranscript retrieves the transcript for a finished voice call.
func (c *Client) FetchTranscript(ctx context.Context, callID string) (*Transcript, error) {
	if strings.TrimSpace(callID) == "" {
		return nil, errors.New("provider: call id required")
	}
	data, err := c.invoke(ctx, http.MethodGet, fmt.Sprintf("/calls/%s/transcript", url.PathEscape(callID)), nil, nil)
	if err != nil {
		return nil, err
	}
	return decodeDataWrapper[Transcript](data)
}

func (c *Client) invoke(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	fullURL := c.buildURL(path, query)
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
		if err != nil {
			return nil, fmt.Errorf("provider: build request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		req.Header.Set("User-Agent", c.userAgent)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !shouldRetry(0, err) || attempt == c.maxRetries {
				return nil, fmt.Errorf("provider: http error: %w", err)
			}
			lastErr = err
			c.logRetry(path, attempt, 0, err)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		data, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return nil, fmt.Errorf("provider: read response: %w", readErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return data, nil
		}
		apiErr := decodeAPIError(resp.StatusCode, data)
		if attempt < c.maxRetries && shouldRetry(resp.StatusCode, nil) {
			lastErr = apiErr
			c.logRetry(path, attempt, resp.StatusCode, apiErr)
			if sleepErr := c.sleep(ctx, attempt); sleepErr != nil {
				return nil, sleepErr
			}
			continue
		}
		return nil, apiErr
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, errors.New("provider: request failed without response")
}

func (c *Client) buildURL(path string, query url.Values) string {
	trimmedPath := "/" + strings.TrimLeft(path, "/")
	full := c.baseURL + trimmedPath
	if len(query) > 0 {
		full = full + "?" + query.Encode()
	}
	return full
}

func (c *Client) sleep(ctx context.Context, attempt int) error {
	delay := c.backoff * time.Duration(1<<attempt)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) logRetry(path string, attempt int, status int, err error) {
	if c.logger == nil {
		return
	}
	c.logger.Warn("provider retry",
		"path", path,
		"attempt", attempt+1,
		"status", status,
		"error", err,
	)
}

func shouldRetry(status int, err error) bool {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return !errors.Is(err, context.Canceled)
	}
	if status == http.StatusTooManyRequests {
		return true
	}
	if status >= 500 && status <= 599 {
		return true
	}
	return false
}

// APIError is the provider's structured error response.
type APIError struct {
	StatusCode int    `json:"-"`
	Title      string `json:"title,omitempty"`
	Detail     string `json:"detail,omitempty"`
}

func (e *APIError) Error() string {
	if e.Title != "" {
		return fmt.Sprintf("provider: %s (status=%d)", e.Title, e.StatusCode)
	}
	if e.Detail != "" {
		return fmt.Sprintf("provider: %s (status=%d)", e.Detail, e.StatusCode)
	}
	return fmt.Sprintf("provider: http status %d", e.StatusCode)
}

// Transient reports whether the failure is worth retrying later.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests || (e.StatusCode >= 500 && e.StatusCode <= 599)
}

func decodeAPIError(status int, body []byte) error {
	var parsed APIError
	if err := json.Unmarshal(body, &parsed); err != nil {
		return &APIError{StatusCode: status, Detail: string(body)}
	}
	parsed.StatusCode = status
	return &parsed
}

func decodeDataWrapper[T any](body []byte) (*T, error) {
	var wrapper struct {
		Data T `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("provider: decode response: %w", err)
	}
	return &wrapper.Data, nil
}
