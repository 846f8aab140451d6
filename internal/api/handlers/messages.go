package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/converse-ai-platform/internal/chat"
	"github.com/wolfman30/converse-ai-platform/internal/dispatch"
	"github.com/wolfman30/converse-ai-platform/internal/provider"
	"github.com/wolfman30/converse-ai-platform/pkg/logging"
)

const defaultHistoryLimit = 50

// MessagesHandler exposes the conversation message surface: reading recent
// history and sending outbound messages through the dispatcher.
type MessagesHandler struct {
	store      *chat.Store
	dispatcher *dispatch.Dispatcher
	logger     *logging.Logger
}

type MessagesConfig struct {
	Store      *chat.Store
	Dispatcher *dispatch.Dispatcher
	Logger     *logging.Logger
}

func NewMessagesHandler(cfg MessagesConfig) *MessagesHandler {
	if cfg.Store == nil {
		panic("handlers: chat store required")
	}
	if cfg.Dispatcher == nil {
		panic("handlers: dispatcher required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &MessagesHandler{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		logger:     cfg.Logger,
	}
}

type sendMessageRequest struct {
	Type           string   `json:"type"`
	Body           string   `json:"body"`
	MediaURL       string   `json:"media_url"`
	Caption        string   `json:"caption"`
	TemplateName   string   `json:"template_name"`
	TemplateParams []string `json:"template_params"`
}

type messageResponse struct {
	ID                uuid.UUID  `json:"id"`
	ConversationID    uuid.UUID  `json:"conversation_id"`
	ProviderMessageID string     `json:"provider_message_id,omitempty"`
	Direction         string     `json:"direction"`
	Type              string     `json:"type"`
	Body              string     `json:"body,omitempty"`
	MediaURL          string     `json:"media_url,omitempty"`
	Caption           string     `json:"caption,omitempty"`
	Status            string     `json:"status"`
	Error             string     `json:"error,omitempty"`
	SendAttempts      int        `json:"send_attempts,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
}

func toMessageResponse(m chat.Message) messageResponse {
	return messageResponse{
		ID:                m.ID,
		ConversationID:    m.ConversationID,
		ProviderMessageID: m.ProviderMessageID,
		Direction:         m.Direction,
		Type:              m.Type,
		Body:              m.Body,
		MediaURL:          m.MediaURL,
		Caption:           m.Caption,
		Status:            string(m.Status),
		Error:             m.Error,
		SendAttempts:      m.SendAttempts,
		CreatedAt:         m.CreatedAt,
		SentAt:            m.SentAt,
	}
}

// Send handles POST /conversations/{conversationID}/messages.
func (h *MessagesHandler) Send(w http.ResponseWriter, r *http.Request) {
	conversationID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		req.Type = chat.TypeText
	}

	msg, err := h.dispatcher.Send(r.Context(), conversationID, provider.SendRequest{
		Type:           req.Type,
		Body:           req.Body,
		MediaURL:       req.MediaURL,
		Caption:        req.Caption,
		TemplateName:   req.TemplateName,
		TemplateParams: req.TemplateParams,
	})
	if err != nil {
		var dup *dispatch.DuplicateRequestError
		switch {
		case errors.As(err, &dup):
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":   "duplicate request",
				"message": toMessageResponse(*dup.Existing),
			})
		case errors.Is(err, dispatch.ErrWindowExpired):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			h.logger.Error("send failed", "conversation_id", conversationID, "error", err)
			writeError(w, http.StatusInternalServerError, "send failed")
		}
		return
	}

	// A failed first attempt still returns the persisted message, with its
	// retry already scheduled.
	status := http.StatusCreated
	if msg.Status == chat.StatusFailed {
		status = http.StatusAccepted
	}
	writeJSON(w, status, toMessageResponse(*msg))
}

// History handles GET /conversations/{conversationID}/messages.
func (h *MessagesHandler) History(w http.ResponseWriter, r *http.Request) {
	conversationID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 200 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	messages, err := h.store.RecentHistory(r.Context(), conversationID, limit)
	if err != nil {
		h.logger.Error("history load failed", "conversation_id", conversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	out := make([]messageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, toMessageResponse(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": out})
}

// MarkOpen handles POST /conversations/{conversationID}/open, zeroing the
// unread counter.
func (h *MessagesHandler) MarkOpen(w http.ResponseWriter, r *http.Request) {
	conversationID, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid conversation id")
		return
	}
	if err := h.store.OpenConversation(r.Context(), conversationID); err != nil {
		h.logger.Error("open conversation failed", "conversation_id", conversationID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to open conversation")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
