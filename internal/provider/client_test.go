package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, server *httptest.Server, cfg Config) *Client {
	t.Helper()
	cfg.BaseURL = server.URL
	if cfg.APIKey == "" {
		cfg.APIKey = "test-key"
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Millisecond
	}
	client, err := New(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}

func TestSendMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method %s", r.Method)
		}
		if got := r.Header.Get("Authorization"); !strings.HasPrefix(got, "Bearer ") {
			t.Fatalf("missing auth header")
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if !strings.Contains(string(body), `"to":"34600111222"`) {
			t.Fatalf("expected recipient in body, got %s", string(body))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"data":{"id":"wamid.XYZ","status":"accepted"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	resp, err := client.SendMessage(context.Background(), SendRequest{
		To:   "34600111222",
		Type: "text",
		Body: "hello there",
	})
	if err != nil {
		t.Fatalf("send message: %v", err)
	}
	if resp.ProviderMessageID != "wamid.XYZ" {
		t.Fatalf("unexpected response: %#v", resp)
	}
}

func TestSendMessageValidation(t *testing.T) {
	client, err := New(Config{APIKey: "k", BaseURL: "http://example.invalid"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.SendMessage(context.Background(), SendRequest{Type: "text"}); err == nil {
		t.Fatal("expected recipient validation error")
	}
	if _, err := client.SendMessage(context.Background(), SendRequest{To: "+1"}); err == nil {
		t.Fatal("expected type validation error")
	}
	if _, err := client.SendMessage(context.Background(), SendRequest{To: "+1", Type: "template"}); err == nil {
		t.Fatal("expected template name validation error")
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := New(Config{BaseURL: "http://x"}); err == nil {
		t.Fatal("expected api key validation error")
	}
	if _, err := New(Config{APIKey: "k"}); err == nil {
		t.Fatal("expected base url validation error")
	}
	client, err := New(Config{APIKey: "k", BaseURL: "http://x/"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if client.httpClient == nil || client.httpClient.Timeout != 30*time.Second {
		t.Fatal("expected default timeout")
	}
}

func TestInvokeRetriesOn5xx(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"title":"upstream down"}`))
			return
		}
		w.Write([]byte(`{"data":{"id":"wamid.OK"}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{MaxRetries: 3})
	resp, err := client.SendMessage(context.Background(), SendRequest{To: "+1", Type: "text", Body: "hi"})
	if err != nil {
		t.Fatalf("expected eventual success: %v", err)
	}
	if resp.ProviderMessageID != "wamid.OK" {
		t.Fatalf("unexpected id %s", resp.ProviderMessageID)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestInvokeDoesNotRetryOn4xx(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"title":"bad recipient","detail":"unknown number"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{MaxRetries: 3})
	_, err := client.SendMessage(context.Background(), SendRequest{To: "+1", Type: "text", Body: "hi"})
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected APIError 400, got %v", err)
	}
	if apiErr.Transient() {
		t.Fatal("400 must not be transient")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected single attempt, got %d", got)
	}
}

func TestRateLimitIsTransient(t *testing.T) {
	err := decodeAPIError(http.StatusTooManyRequests, []byte(`{"title":"rate limited"}`))
	var apiErr *APIError
	if !errors.As(err, &apiErr) || !apiErr.Transient() {
		t.Fatalf("expected transient 429, got %v", err)
	}
}

func TestMarkRead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages/wamid.AAA/status" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(body), `"read"`) {
			t.Fatalf("expected read status, got %s", body)
		}
		w.Write([]byte(`{"data":{}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	if err := client.MarkRead(context.Background(), "wamid.AAA"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if err := client.MarkRead(context.Background(), ""); err == nil {
		t.Fatal("expected id validation error")
	}
}

func TestFetchTranscript(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/calls/call-9/transcript" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"data":{"id":"call-9","phone_number":"+34600111222","turns":[{"role":"caller","message":"the water main burst"}],"duration_seconds":42}}`))
	}))
	defer server.Close()

	client := newTestClient(t, server, Config{})
	tr, err := client.FetchTranscript(context.Background(), "call-9")
	if err != nil {
		t.Fatalf("fetch transcript: %v", err)
	}
	if tr.CallID != "call-9" || len(tr.Turns) != 1 || tr.Turns[0].Role != "caller" {
		t.Fatalf("unexpected transcript: %#v", tr)
	}
}
