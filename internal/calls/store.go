package calls

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Category values produced by the classifier.
const (
	CategoryIncident = "incident"
	CategoryInquiry  = "inquiry"
	CategoryPayment  = "payment"
	CategoryUnknown  = "unknown"
)

// Call is the durable record of one finished voice call.
type Call struct {
	ID              uuid.UUID
	ProviderCallID  string
	PhoneNumber     string
	Status          string
	Transcript      string
	Category        string
	Summary         string
	StartedAt       *time.Time
	EndedAt         *time.Time
	DurationSeconds int
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists calls in Postgres, keyed by the provider call id.
type Store struct {
	pool rowQuerier
}

func NewStore(pool rowQuerier) *Store {
	if pool == nil {
		panic("calls: pgx pool required")
	}
	return &Store{pool: pool}
}

// Upsert creates or replaces the call row for a provider call id. The
// latest processed payload wins, so re-processing the same call never
// duplicates it.
func (s *Store) Upsert(ctx context.Context, c Call) (uuid.UUID, error) {
	if c.ProviderCallID == "" {
		return uuid.Nil, fmt.Errorf("calls: upsert: provider call id required")
	}
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Category == "" {
		c.Category = CategoryUnknown
	}
	query := `
		INSERT INTO calls (
			id, provider_call_id, phone_number, status, transcript,
			category, summary, started_at, ended_at, duration_seconds
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (provider_call_id) DO UPDATE
		SET phone_number = EXCLUDED.phone_number,
			status = EXCLUDED.status,
			transcript = EXCLUDED.transcript,
			category = EXCLUDED.category,
			summary = EXCLUDED.summary,
			started_at = EXCLUDED.started_at,
			ended_at = EXCLUDED.ended_at,
			duration_seconds = EXCLUDED.duration_seconds,
			updated_at = now()
		RETURNING id
	`
	var id uuid.UUID
	if err := s.pool.QueryRow(ctx, query,
		c.ID, c.ProviderCallID, c.PhoneNumber, c.Status, c.Transcript,
		c.Category, c.Summary, c.StartedAt, c.EndedAt, c.DurationSeconds,
	).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("calls: upsert: %w", err)
	}
	return id, nil
}

// SetClassification updates category and summary after the advisory
// classification pass.
func (s *Store) SetClassification(ctx context.Context, providerCallID, category, summary string) error {
	query := `
		UPDATE calls
		SET category = $2, summary = $3, updated_at = now()
		WHERE provider_call_id = $1
	`
	if _, err := s.pool.Exec(ctx, query, providerCallID, category, summary); err != nil {
		return fmt.Errorf("calls: set classification: %w", err)
	}
	return nil
}

// Get loads one call by provider call id.
func (s *Store) Get(ctx context.Context, providerCallID string) (Call, error) {
	query := `
		SELECT id, provider_call_id, phone_number, status, transcript,
			category, summary, started_at, ended_at, duration_seconds
		FROM calls
		WHERE provider_call_id = $1
	`
	var c Call
	if err := s.pool.QueryRow(ctx, query, providerCallID).Scan(
		&c.ID, &c.ProviderCallID, &c.PhoneNumber, &c.Status, &c.Transcript,
		&c.Category, &c.Summary, &c.StartedAt, &c.EndedAt, &c.DurationSeconds,
	); err != nil {
		return Call{}, fmt.Errorf("calls: get %s: %w", providerCallID, err)
	}
	return c, nil
}
