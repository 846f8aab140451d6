package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// RawEvent is the immutable audit record of one inbound webhook delivery.
// It is created before any parsing and mutated only to flip processed and
// record a processing error.
type RawEvent struct {
	ID         uuid.UUID
	ReceivedAt time.Time
	Payload    []byte
	Processed  bool
	Error      string
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists raw webhook deliveries in Postgres.
type Store struct {
	pool rowQuerier
}

func NewStore(pool rowQuerier) *Store {
	if pool == nil {
		panic("webhook: pgx pool required")
	}
	return &Store{pool: pool}
}

// Insert durably records a delivery before any parsing happens. The HTTP
// handler answers 200 as soon as this returns.
func (s *Store) Insert(ctx context.Context, payload []byte) (uuid.UUID, error) {
	id := uuid.New()
	query := `
		INSERT INTO raw_events (id, payload)
		VALUES ($1, $2)
	`
	if _, err := s.pool.Exec(ctx, query, id, payload); err != nil {
		return uuid.Nil, fmt.Errorf("webhook: insert raw event: %w", err)
	}
	return id, nil
}

// Get loads one raw event for processing.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (RawEvent, error) {
	query := `
		SELECT id, received_at, payload, processed, error
		FROM raw_events
		WHERE id = $1
	`
	var evt RawEvent
	if err := s.pool.QueryRow(ctx, query, id).Scan(&evt.ID, &evt.ReceivedAt, &evt.Payload, &evt.Processed, &evt.Error); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return RawEvent{}, fmt.Errorf("webhook: raw event %s not found", id)
		}
		return RawEvent{}, fmt.Errorf("webhook: get raw event: %w", err)
	}
	return evt, nil
}

// MarkProcessed records the single processing attempt. procErr is stored
// verbatim when non-empty; the event is never retried by the pipeline.
func (s *Store) MarkProcessed(ctx context.Context, id uuid.UUID, procErr string) error {
	query := `
		UPDATE raw_events
		SET processed = true, error = $2
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, id, procErr); err != nil {
		return fmt.Errorf("webhook: mark processed: %w", err)
	}
	return nil
}
