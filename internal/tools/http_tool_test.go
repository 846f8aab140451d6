package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPExecutorInterpolatesRequest(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{"ticket":"T-42"}`))
	}))
	defer srv.Close()

	def := Definition{
		Shortcode: "open_ticket",
		Kind:      KindHTTPCall,
		Method:    http.MethodPost,
		URL:       srv.URL + "/tickets/{{contact_phone}}",
		Headers:   map[string]string{"Authorization": "Bearer {{api_token}}"},
		Body:      `{"issue":"{{issue}}"}`,
	}
	exec := NewHTTPExecutor(def, srv.Client(), nil)

	out, err := exec(context.Background(), nil, map[string]string{
		"contact_phone": "34600111222",
		"api_token":     "tok",
		"issue":         "no water",
	})
	if err != nil {
		t.Fatalf("executor failed: %v", err)
	}
	if gotPath != "/tickets/34600111222" {
		t.Errorf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("unexpected auth header %q", gotAuth)
	}
	if gotBody["issue"] != "no water" {
		t.Errorf("unexpected body %v", gotBody)
	}
	if out != `{"ticket":"T-42"}` {
		t.Errorf("unexpected output %q", out)
	}
}

func TestHTTPExecutorErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	exec := NewHTTPExecutor(Definition{Shortcode: "flaky", URL: srv.URL}, srv.Client(), nil)
	if _, err := exec(context.Background(), nil, nil); err == nil {
		t.Fatal("expected error for 502 response")
	}
}
