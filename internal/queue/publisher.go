package queue

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/wolfman30/converse-ai-platform/pkg/logging"
)

// Publisher enqueues pipeline jobs for asynchronous processing.
type Publisher struct {
	queue  Client
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher.
func NewPublisher(queue Client, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("queue: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{
		queue:  queue,
		logger: logger,
	}
}

// EnqueueNormalize publishes a job to normalize a stored raw event.
func (p *Publisher) EnqueueNormalize(ctx context.Context, rawEventID uuid.UUID) error {
	return p.enqueue(ctx, jobPayload{Kind: kindNormalizeEvent, RawEventID: rawEventID})
}

// EnqueueDispatch publishes a send attempt for a persisted outbound message.
func (p *Publisher) EnqueueDispatch(ctx context.Context, messageID uuid.UUID) error {
	return p.enqueue(ctx, jobPayload{Kind: kindDispatchMessage, MessageID: messageID})
}

// EnqueueClassify publishes the advisory classification for a finished call.
func (p *Publisher) EnqueueClassify(ctx context.Context, providerCallID string) error {
	return p.enqueue(ctx, jobPayload{Kind: kindClassifyCall, ProviderCallID: providerCallID})
}

func (p *Publisher) enqueue(ctx context.Context, payload jobPayload) error {
	if ctx == nil {
		ctx = context.Background()
	}

	payload, body, err := encodePayload(payload)
	if err != nil {
		return err
	}

	if err := p.queue.Send(ctx, body); err != nil {
		return fmt.Errorf("queue: enqueue job: %w", err)
	}

	p.logger.Debug("job enqueued", "job_id", payload.ID, "kind", payload.Kind)
	return nil
}
