package provider

import (
	"context"
	"errors"
	"strings"
	"time"
)

// SendRequest describes one outbound message hand-off to the provider.
type SendRequest struct {
	To             string
	Type           string
	Body           string
	MediaURL       string
	Caption        string
	TemplateName   string
	TemplateParams []string
}

func (r SendRequest) validate() error {
	if strings.TrimSpace(r.To) == "" {
		return errors.New("provider: recipient required")
	}
	if strings.TrimSpace(r.Type) == "" {
		return errors.New("provider: message type required")
	}
	if r.Type == "template" && strings.TrimSpace(r.TemplateName) == "" {
		return errors.New("provider: template name required")
	}
	return nil
}

// SendResult carries the provider-assigned message id.
type SendResult struct {
	ProviderMessageID string `json:"id"`
	Status            string `json:"status"`
}

// TranscriptTurn is one utterance in a voice-call transcript.
type TranscriptTurn struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

// Transcript is the provider's record of a finished voice call.
type Transcript struct {
	CallID      string           `json:"id"`
	PhoneNumber string           `json:"phone_number"`
	Status      string           `json:"status"`
	Turns       []TranscriptTurn `json:"turns"`
	StartedAt   time.Time        `json:"started_at"`
	EndedAt     time.Time        `json:"ended_at"`
	DurationSec int              `json:"duration_seconds"`
}

// ConversationSnapshot is the provider-side view of a conversation thread.
type ConversationSnapshot struct {
	ID       string            `json:"id"`
	Contact  string            `json:"contact"`
	Messages []SnapshotMessage `json:"messages"`
}

type SnapshotMessage struct {
	ID        string    `json:"id"`
	Direction string    `json:"direction"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// Gateway abstracts the provider REST API consumed by the pipeline. It is a
// pure I/O adapter with no state of its own.
type Gateway interface {
	SendMessage(ctx context.Context, req SendRequest) (*SendResult, error)
	MarkRead(ctx context.Context, providerMessageID string) error
	FetchConversation(ctx context.Context, id string) (*ConversationSnapshot, error)
	FetchTranscript(ctx context.Context, callID string) (*Transcript, error)
}
