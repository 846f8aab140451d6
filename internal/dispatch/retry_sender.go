package dispatch

import (
	"context"
	"time"

	"github.com/wolfman30/converse-ai-platform/internal/chat"
	"github.com/wolfman30/converse-ai-platform/pkg/logging"
)

type retryStore interface {
	ListRetryCandidates(ctx context.Context, limit, maxAttempts int) ([]chat.Message, error)
}

type attempter interface {
	Attempt(ctx context.Context, msg *chat.Message) error
	MaxAttempts() int
}

// RetrySender re-attempts failed outbound messages whose backoff delay has
// elapsed, until the per-message attempt budget is spent.
type RetrySender struct {
	store      retryStore
	dispatcher attempter
	logger     *logging.Logger
	interval   time.Duration
	batchSize  int
}

func NewRetrySender(store retryStore, dispatcher attempter, logger *logging.Logger) *RetrySender {
	if logger == nil {
		logger = logging.Default()
	}
	return &RetrySender{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		interval:   30 * time.Second,
		batchSize:  25,
	}
}

func (r *RetrySender) WithInterval(d time.Duration) *RetrySender {
	if d > 0 {
		r.interval = d
	}
	return r
}

func (r *RetrySender) WithBatchSize(n int) *RetrySender {
	if n > 0 {
		r.batchSize = n
	}
	return r
}

func (r *RetrySender) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	r.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}

func (r *RetrySender) drain(ctx context.Context) {
	if r.store == nil || r.dispatcher == nil {
		return
	}
	msgs, err := r.store.ListRetryCandidates(ctx, r.batchSize, r.dispatcher.MaxAttempts())
	if err != nil {
		r.logger.Error("retry fetch failed", "error", err)
		return
	}
	for _, m := range msgs {
		m := m
		if err := r.dispatcher.Attempt(ctx, &m); err != nil {
			r.logger.Warn("retry attempt failed", "message_id", m.ID, "attempt", m.SendAttempts, "error", err)
		}
	}
}
