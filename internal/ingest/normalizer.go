package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wolfman30/converse-ai-platform/internal/chat"
	observemetrics "github.com/wolfman30/converse-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/converse-ai-platform/internal/provider"
	"github.com/wolfman30/converse-ai-platform/internal/webhook"
	"github.com/wolfman30/converse-ai-platform/pkg/logging"
)

// CallSink receives voice-call events. Implemented by the calls package.
type CallSink interface {
	RecordTurn(ctx context.Context, callID string, turn provider.TranscriptTurn) error
	CompleteCall(ctx context.Context, ev CallEvent) error
}

// Responder is invoked after an inbound text message is durably stored,
// when the assistant is enabled. Implemented by the ai package.
type Responder interface {
	HandleInbound(ctx context.Context, conversationID uuid.UUID, contact chat.Contact, text string) error
}

// Normalizer turns raw webhook payloads into canonical chat records. Each
// event unit runs in its own transaction; re-deliveries are absorbed by the
// provider_message_id dedup guard, so processing is idempotent.
type Normalizer struct {
	rawEvents *webhook.Store
	chatStore *chat.Store
	gateway   provider.Gateway
	calls     CallSink
	responder Responder
	logger    *logging.Logger
	metrics   *observemetrics.IngressMetrics
}

type NormalizerConfig struct {
	RawEvents *webhook.Store
	ChatStore *chat.Store
	Gateway   provider.Gateway
	Calls     CallSink
	Responder Responder // optional, nil disables assistant replies
	Logger    *logging.Logger
	Metrics   *observemetrics.IngressMetrics
}

func NewNormalizer(cfg NormalizerConfig) *Normalizer {
	if cfg.RawEvents == nil {
		panic("ingest: raw event store required")
	}
	if cfg.ChatStore == nil {
		panic("ingest: chat store required")
	}
	if cfg.Gateway == nil {
		panic("ingest: provider gateway required")
	}
	if cfg.Calls == nil {
		panic("ingest: call sink required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Normalizer{
		rawEvents: cfg.RawEvents,
		chatStore: cfg.ChatStore,
		gateway:   cfg.Gateway,
		calls:     cfg.Calls,
		responder: cfg.Responder,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}
}

type inboundText struct {
	conversationID uuid.UUID
	contact        chat.Contact
	text           string
}

// Normalize processes one stored raw event. The event is marked processed
// exactly once, with the error recorded on failure; the pipeline never
// retries a processed event and relies on provider redelivery instead.
func (n *Normalizer) Normalize(ctx context.Context, rawEventID uuid.UUID) error {
	evt, err := n.rawEvents.Get(ctx, rawEventID)
	if err != nil {
		return err
	}
	if evt.Processed {
		n.logger.Info("raw event already processed", "raw_event_id", rawEventID)
		return nil
	}

	units, decodeErr := DecodeEvents(evt.Payload)
	if decodeErr != nil {
		n.logger.Error("failed to decode raw event", "raw_event_id", rawEventID, "error", decodeErr)
		n.observe("unknown", "invalid")
		return n.rawEvents.MarkProcessed(ctx, rawEventID, decodeErr.Error())
	}

	var (
		procErr  error
		markRead []string
		respond  []inboundText
	)
	for _, unit := range units {
		switch ev := unit.(type) {
		case MessageEvent:
			created, err := n.applyMessage(ctx, ev)
			if err != nil {
				procErr = err
			} else if created.conversationID != uuid.Nil {
				markRead = append(markRead, ev.ProviderMessageID)
				if ev.Type == chat.TypeText {
					respond = append(respond, created)
				}
			}
		case StatusEvent:
			if err := n.applyStatus(ctx, ev); err != nil {
				procErr = err
			}
		case CallEvent:
			if err := n.applyCall(ctx, ev); err != nil {
				procErr = err
			}
		}
		if procErr != nil {
			break
		}
	}

	errText := ""
	if procErr != nil {
		errText = procErr.Error()
		n.logger.Error("normalization failed", "raw_event_id", rawEventID, "error", procErr)
	}
	if err := n.rawEvents.MarkProcessed(ctx, rawEventID, errText); err != nil {
		return err
	}

	// Side effects after the durable writes. Neither is part of the
	// correctness invariant, so failures are logged and dropped.
	for _, id := range markRead {
		if err := n.gateway.MarkRead(ctx, id); err != nil {
			n.logger.Warn("mark read failed", "provider_message_id", id, "error", err)
		}
	}
	if n.responder != nil {
		for _, in := range respond {
			if err := n.responder.HandleInbound(ctx, in.conversationID, in.contact, in.text); err != nil {
				n.logger.Error("assistant response failed", "conversation_id", in.conversationID, "error", err)
			}
		}
	}
	return nil
}

// applyMessage creates the contact, conversation and inbound message in one
// transaction. A dedup hit returns a zero inboundText and no error.
func (n *Normalizer) applyMessage(ctx context.Context, ev MessageEvent) (inboundText, error) {
	tx, err := n.chatStore.Begin(ctx)
	if err != nil {
		return inboundText{}, err
	}
	defer tx.Rollback(ctx)

	contact, err := n.chatStore.UpsertContact(ctx, tx, ev.From, ev.ProfileName, ev.From)
	if err != nil {
		return inboundText{}, err
	}
	conv, err := n.chatStore.GetOrCreateConversation(ctx, tx, contact.ID)
	if err != nil {
		return inboundText{}, err
	}

	exists, err := n.chatStore.HasProviderMessage(ctx, tx, ev.ProviderMessageID)
	if err != nil {
		return inboundText{}, err
	}
	if exists {
		n.logger.Info("duplicate message delivery skipped", "provider_message_id", ev.ProviderMessageID)
		n.observe("message", "duplicate")
		return inboundText{}, tx.Commit(ctx)
	}

	now := ev.Timestamp
	msg := chat.Message{
		ConversationID:    conv.ID,
		ProviderMessageID: ev.ProviderMessageID,
		Direction:         chat.DirectionInbound,
		Type:              ev.Type,
		Body:              ev.Body,
		MediaURL:          ev.MediaURL,
		Caption:           ev.Caption,
		Latitude:          ev.Latitude,
		Longitude:         ev.Longitude,
		Status:            chat.StatusDelivered,
		DeliveredAt:       &now,
	}
	if _, err := n.chatStore.InsertMessage(ctx, tx, msg); err != nil {
		return inboundText{}, err
	}
	if err := n.chatStore.TouchConversation(ctx, tx, conv.ID, now, true); err != nil {
		return inboundText{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return inboundText{}, fmt.Errorf("ingest: commit message event: %w", err)
	}
	n.observe("message", "created")
	return inboundText{conversationID: conv.ID, contact: contact, text: ev.Body}, nil
}

// applyStatus moves an outbound message forward in the status machine.
// Updates for unknown provider ids are dropped, not failed: the message may
// predate the retained window.
func (n *Normalizer) applyStatus(ctx context.Context, ev StatusEvent) error {
	if !chat.ValidStatus(ev.Status) {
		n.logger.Warn("unknown status value dropped",
			"provider_message_id", ev.ProviderMessageID, "status", string(ev.Status))
		n.observe("status", "dropped")
		return nil
	}

	tx, err := n.chatStore.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	id, convID, current, err := n.chatStore.GetMessageStatus(ctx, tx, ev.ProviderMessageID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			n.logger.Info("status update for unknown message dropped", "provider_message_id", ev.ProviderMessageID)
			n.observe("status", "dropped")
			return nil
		}
		return err
	}

	at := ev.Timestamp
	if at.IsZero() {
		at = time.Now().UTC()
	}
	applied, err := n.chatStore.ApplyStatus(ctx, tx, id, current, ev.Status, at)
	if err != nil {
		return err
	}
	if !applied {
		n.logger.Info("out-of-order status update ignored",
			"provider_message_id", ev.ProviderMessageID, "from", current, "to", ev.Status)
		n.observe("status", "ignored")
		return tx.Commit(ctx)
	}
	if err := n.chatStore.TouchConversation(ctx, tx, convID, at, false); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("ingest: commit status event: %w", err)
	}
	n.observe("status", "applied")
	return nil
}

func (n *Normalizer) applyCall(ctx context.Context, ev CallEvent) error {
	if ev.Turn != nil {
		n.observe("call", "turn")
		return n.calls.RecordTurn(ctx, ev.ProviderCallID, *ev.Turn)
	}
	if ev.Ended {
		n.observe("call", "completed")
		return n.calls.CompleteCall(ctx, ev)
	}
	return nil
}

func (n *Normalizer) observe(eventType, outcome string) {
	if n.metrics != nil {
		n.metrics.ObserveEvent(eventType, outcome)
	}
}
