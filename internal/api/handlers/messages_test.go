package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/wolfman30/converse-ai-platform/internal/chat"
	"github.com/wolfman30/converse-ai-platform/internal/dispatch"
	"github.com/wolfman30/converse-ai-platform/internal/provider"
)

type stubGateway struct {
	result *provider.SendResult
	err    error
}

func (g *stubGateway) SendMessage(context.Context, provider.SendRequest) (*provider.SendResult, error) {
	return g.result, g.err
}

func (g *stubGateway) MarkRead(context.Context, string) error { return nil }

func (g *stubGateway) FetchConversation(context.Context, string) (*provider.ConversationSnapshot, error) {
	return nil, nil
}

func (g *stubGateway) FetchTranscript(context.Context, string) (*provider.Transcript, error) {
	return nil, nil
}

func newTestHandler(t *testing.T, gateway provider.Gateway) (*MessagesHandler, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("pgxmock: %v", err)
	}
	t.Cleanup(mock.Close)

	store := chat.NewStore(mock)
	dispatcher := dispatch.New(dispatch.Config{Store: store, Gateway: gateway})
	return NewMessagesHandler(MessagesConfig{Store: store, Dispatcher: dispatcher}), mock
}

func serve(h http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	switch method {
	case http.MethodGet:
		r.Get("/conversations/{conversationID}/messages", h)
	default:
		r.Post("/conversations/{conversationID}/messages", h)
		r.Post("/conversations/{conversationID}/open", h)
	}
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestSend_SuccessReturnsCreated(t *testing.T) {
	gateway := &stubGateway{result: &provider.SendResult{ProviderMessageID: "wamid.OUT"}}
	h, mock := newTestHandler(t, gateway)
	conversationID := uuid.New()
	msgID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, conversation_id, provider_message_id`).
		WithArgs(conversationID, "text", "hello there", "30 seconds").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "conversation_id", "provider_message_id", "direction", "type", "body", "status", "created_at",
		}))
	lastInbound := time.Now().Add(-time.Hour)
	mock.ExpectQuery(`SELECT created_at FROM messages`).
		WithArgs(conversationID).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(lastInbound))
	mock.ExpectQuery(`INSERT INTO messages`).
		WithArgs(pgxmock.AnyArg(), conversationID, "", chat.DirectionOutbound, chat.TypeText,
			"hello there", "", "", 0.0, 0.0, chat.StatusPending, "", 0,
			(*time.Time)(nil), (*time.Time)(nil), (*time.Time)(nil), (*time.Time)(nil)).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(msgID))
	mock.ExpectCommit()
	mock.ExpectExec(`UPDATE messages`).
		WithArgs(msgID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`SELECT c.id, c.provider_id`).
		WithArgs(conversationID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "provider_id", "display_name", "phone_number"}).
			AddRow(uuid.New(), "34600111222", "Ana", "+34600111222"))
	mock.ExpectExec(`UPDATE messages`).
		WithArgs(msgID, "wamid.OUT", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE conversations`).
		WithArgs(conversationID, pgxmock.AnyArg(), 0).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	rec := serve(h.Send, http.MethodPost,
		"/conversations/"+conversationID.String()+"/messages",
		`{"type":"text","body":"hello there"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp messageResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != string(chat.StatusSent) || resp.ProviderMessageID != "wamid.OUT" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSend_DuplicateReturnsConflict(t *testing.T) {
	h, mock := newTestHandler(t, &stubGateway{})
	conversationID := uuid.New()
	existingID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, conversation_id, provider_message_id`).
		WithArgs(conversationID, "text", "hello there", "30 seconds").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "conversation_id", "provider_message_id", "direction", "type", "body", "status", "created_at",
		}).AddRow(existingID, conversationID, (*string)(nil), "outbound", "text", "hello there",
			chat.StatusSent, time.Now()))
	mock.ExpectRollback()

	rec := serve(h.Send, http.MethodPost,
		"/conversations/"+conversationID.String()+"/messages",
		`{"type":"text","body":"hello there"}`)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), existingID.String()) {
		t.Fatal("expected existing message in conflict payload")
	}
}

func TestSend_ExpiredWindowReturnsUnprocessable(t *testing.T) {
	h, mock := newTestHandler(t, &stubGateway{})
	conversationID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, conversation_id, provider_message_id`).
		WithArgs(conversationID, "text", "hello there", "30 seconds").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "conversation_id", "provider_message_id", "direction", "type", "body", "status", "created_at",
		}))
	mock.ExpectQuery(`SELECT created_at FROM messages`).
		WithArgs(conversationID).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}))
	mock.ExpectRollback()

	rec := serve(h.Send, http.MethodPost,
		"/conversations/"+conversationID.String()+"/messages",
		`{"type":"text","body":"hello there"}`)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSend_InvalidConversationID(t *testing.T) {
	h, _ := newTestHandler(t, &stubGateway{})
	rec := serve(h.Send, http.MethodPost, "/conversations/not-a-uuid/messages", `{}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHistory_ReturnsMessages(t *testing.T) {
	h, mock := newTestHandler(t, &stubGateway{})
	conversationID := uuid.New()

	mock.ExpectQuery(`SELECT id, direction, type, body, created_at`).
		WithArgs(conversationID, 50).
		WillReturnRows(pgxmock.NewRows([]string{"id", "direction", "type", "body", "created_at"}).
			AddRow(uuid.New(), "inbound", "text", "hola", time.Now().Add(-time.Minute)).
			AddRow(uuid.New(), "outbound", "text", "hello", time.Now()))

	rec := serve(h.History, http.MethodGet,
		"/conversations/"+conversationID.String()+"/messages", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Messages []messageResponse `json:"messages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Messages) != 2 || resp.Messages[0].Body != "hola" {
		t.Fatalf("unexpected messages: %+v", resp.Messages)
	}
}

func TestMarkOpen_ZeroesUnread(t *testing.T) {
	h, mock := newTestHandler(t, &stubGateway{})
	conversationID := uuid.New()

	mock.ExpectExec(`UPDATE conversations`).
		WithArgs(conversationID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	rec := serve(h.MarkOpen, http.MethodPost,
		"/conversations/"+conversationID.String()+"/open", "")

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
