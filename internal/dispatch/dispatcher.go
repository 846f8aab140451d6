package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/converse-ai-platform/internal/chat"
	observemetrics "github.com/wolfman30/converse-ai-platform/internal/observability/metrics"
	"github.com/wolfman30/converse-ai-platform/internal/provider"
	"github.com/wolfman30/converse-ai-platform/pkg/logging"
)

// ErrWindowExpired rejects a session message when the contact has not
// written within the session window. The caller must use a template
// message instead.
var ErrWindowExpired = errors.New("dispatch: session window expired, use a template message")

// DuplicateRequestError rejects a send that matches a recent outbound
// message in the same conversation. It carries the existing message so the
// caller can return it instead of creating a double-send.
type DuplicateRequestError struct {
	Existing *chat.Message
}

func (e *DuplicateRequestError) Error() string {
	return fmt.Sprintf("dispatch: duplicate of recent message %s", e.Existing.ID)
}

// Dispatcher drives outbound messages through the status machine:
// pending, sending, then sent on success or failed with a scheduled retry.
type Dispatcher struct {
	store           *chat.Store
	gateway         provider.Gateway
	logger          *logging.Logger
	metrics         *observemetrics.DispatchMetrics
	sessionWindow   time.Duration
	duplicateWindow time.Duration
	maxAttempts     int
	backoff         []time.Duration
}

type Config struct {
	Store           *chat.Store
	Gateway         provider.Gateway
	Logger          *logging.Logger
	Metrics         *observemetrics.DispatchMetrics
	SessionWindow   time.Duration
	DuplicateWindow time.Duration
	MaxAttempts     int
	Backoff         []time.Duration
}

func New(cfg Config) *Dispatcher {
	if cfg.Store == nil {
		panic("dispatch: chat store required")
	}
	if cfg.Gateway == nil {
		panic("dispatch: provider gateway required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.SessionWindow <= 0 {
		cfg.SessionWindow = 24 * time.Hour
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if len(cfg.Backoff) == 0 {
		cfg.Backoff = []time.Duration{60 * time.Second, 300 * time.Second, 900 * time.Second}
	}
	return &Dispatcher{
		store:           cfg.Store,
		gateway:         cfg.Gateway,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		sessionWindow:   cfg.SessionWindow,
		duplicateWindow: cfg.DuplicateWindow,
		maxAttempts:     cfg.MaxAttempts,
		backoff:         cfg.Backoff,
	}
}

// Send validates the dispatch preconditions, records a pending outbound
// message and performs the first send attempt. The guard checks and the
// insert share one transaction, so two racing identical requests cannot
// both pass the duplicate guard. The returned message reflects the
// post-attempt state.
func (d *Dispatcher) Send(ctx context.Context, conversationID uuid.UUID, req provider.SendRequest) (*chat.Message, error) {
	tx, err := d.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("dispatch: begin send: %w", err)
	}
	defer tx.Rollback(ctx)

	dup, err := d.store.FindRecentDuplicate(ctx, tx, conversationID, req.Type, req.Body, d.duplicateWindow)
	if err != nil {
		return nil, err
	}
	if dup != nil {
		return nil, &DuplicateRequestError{Existing: dup}
	}

	if req.Type != chat.TypeTemplate {
		last, err := d.store.LastInboundAt(ctx, tx, conversationID)
		if err != nil {
			return nil, err
		}
		if last == nil || time.Since(*last) > d.sessionWindow {
			return nil, ErrWindowExpired
		}
	}

	msg := chat.Message{
		ConversationID: conversationID,
		Direction:      chat.DirectionOutbound,
		Type:           req.Type,
		Body:           req.Body,
		MediaURL:       req.MediaURL,
		Caption:        req.Caption,
		Status:         chat.StatusPending,
	}
	if req.Type == chat.TypeTemplate {
		msg.Body = req.TemplateName
	}
	id, err := d.store.InsertMessage(ctx, tx, msg)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("dispatch: commit send: %w", err)
	}
	msg.ID = id

	if err := d.Attempt(ctx, &msg); err != nil {
		d.logger.Error("initial send attempt failed", "message_id", id, "error", err)
	}
	if err := d.store.TouchConversation(ctx, nil, conversationID, time.Now().UTC(), false); err != nil {
		d.logger.Warn("conversation bump failed", "conversation_id", conversationID, "error", err)
	}
	return &msg, nil
}

// Attempt performs one send against the provider and advances the status
// machine. Transient failures schedule a retry at the next backoff step;
// the final failure leaves the message failed permanently.
func (d *Dispatcher) Attempt(ctx context.Context, msg *chat.Message) error {
	if err := d.store.MarkSending(ctx, msg.ID); err != nil {
		return err
	}
	msg.SendAttempts++
	msg.Status = chat.StatusSending

	req, err := d.buildRequest(ctx, *msg)
	if err != nil {
		return d.fail(ctx, msg, err)
	}

	res, err := d.gateway.SendMessage(ctx, req)
	if err != nil {
		return d.fail(ctx, msg, err)
	}

	now := time.Now().UTC()
	if err := d.store.MarkSent(ctx, msg.ID, res.ProviderMessageID, now); err != nil {
		return err
	}
	msg.Status = chat.StatusSent
	msg.ProviderMessageID = res.ProviderMessageID
	msg.SentAt = &now
	if d.metrics != nil {
		d.metrics.ObserveOutbound("sent")
	}
	d.logger.Info("message sent",
		"message_id", msg.ID, "provider_message_id", res.ProviderMessageID, "attempt", msg.SendAttempts)
	return nil
}

func (d *Dispatcher) fail(ctx context.Context, msg *chat.Message, sendErr error) error {
	var nextRetry *time.Time
	if msg.SendAttempts < d.maxAttempts {
		next := time.Now().UTC().Add(d.backoffFor(msg.SendAttempts))
		nextRetry = &next
		if d.metrics != nil {
			d.metrics.ObserveRetry()
		}
	} else if d.metrics != nil {
		d.metrics.ObserveOutbound("failed")
	}

	if err := d.store.MarkFailed(ctx, msg.ID, sendErr.Error(), nextRetry); err != nil {
		return err
	}
	msg.Status = chat.StatusFailed
	msg.Error = sendErr.Error()
	msg.NextRetryAt = nextRetry
	d.logger.Warn("send attempt failed",
		"message_id", msg.ID, "attempt", msg.SendAttempts, "retry_scheduled", nextRetry != nil, "error", sendErr)
	return sendErr
}

// backoffFor maps the attempt count to its delay: the first failure waits
// backoff[0], the second backoff[1], capped at the last step.
func (d *Dispatcher) backoffFor(attempts int) time.Duration {
	idx := attempts - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(d.backoff) {
		idx = len(d.backoff) - 1
	}
	return d.backoff[idx]
}

func (d *Dispatcher) buildRequest(ctx context.Context, msg chat.Message) (provider.SendRequest, error) {
	contact, err := d.store.ContactForConversation(ctx, msg.ConversationID)
	if err != nil {
		return provider.SendRequest{}, err
	}
	req := provider.SendRequest{
		To:       contact.ProviderID,
		Type:     msg.Type,
		Body:     msg.Body,
		MediaURL: msg.MediaURL,
		Caption:  msg.Caption,
	}
	if msg.Type == chat.TypeTemplate {
		req.TemplateName = msg.Body
		req.Body = ""
	}
	return req, nil
}

// MaxAttempts is the retry budget per message, exposed for the retry worker.
func (d *Dispatcher) MaxAttempts() int {
	return d.maxAttempts
}
