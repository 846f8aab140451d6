package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Client is the transport the job queue runs on. Send/Receive/Delete
// mirror the SQS shape so LocalStack SQS in development and AWS SQS in
// production share the worker code with the in-memory queue used in tests.
type Client interface {
	Send(ctx context.Context, body string) error
	Receive(ctx context.Context, maxMessages int, waitSeconds int) ([]Message, error)
	Delete(ctx context.Context, receiptHandle string) error
}

// Message is one raw queue entry.
type Message struct {
	ID            string
	Body          string
	ReceiptHandle string
}

type jobKind string

const (
	kindNormalizeEvent  jobKind = "normalize_event"
	kindDispatchMessage jobKind = "dispatch_message"
	kindClassifyCall    jobKind = "classify_call"
)

type jobPayload struct {
	ID             string    `json:"id"`
	Kind           jobKind   `json:"kind"`
	RawEventID     uuid.UUID `json:"raw_event_id,omitempty"`
	MessageID      uuid.UUID `json:"message_id,omitempty"`
	ProviderCallID string    `json:"provider_call_id,omitempty"`
}

func encodePayload(payload jobPayload) (jobPayload, string, error) {
	if payload.ID == "" {
		payload.ID = uuid.NewString()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return jobPayload{}, "", fmt.Errorf("queue: encode payload: %w", err)
	}
	return payload, string(body), nil
}
