package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx used by store methods, satisfied by both a
// pool and a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists contacts, conversations, and messages in Postgres.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		return nil
	}
	return &Store{pool: pool}
}

func (s *Store) Begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.Begin(ctx)
}

// UpsertContact creates or refreshes a contact keyed by provider_id. The
// display name is only overwritten when the new profile carries one.
func (s *Store) UpsertContact(ctx context.Context, q Querier, providerID, displayName, phone string) (Contact, error) {
	if q == nil {
		q = s.pool
	}
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return Contact{}, errors.New("chat: provider id required")
	}
	query := `
		INSERT INTO contacts (id, provider_id, display_name, phone_number)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider_id) DO UPDATE
		SET display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), contacts.display_name),
			phone_number = COALESCE(NULLIF(EXCLUDED.phone_number, ''), contacts.phone_number),
			updated_at = now()
		RETURNING id, provider_id, display_name, phone_number
	`
	var c Contact
	if err := q.QueryRow(ctx, query, uuid.New(), providerID, displayName, phone).Scan(&c.ID, &c.ProviderID, &c.DisplayName, &c.PhoneNumber); err != nil {
		return Contact{}, fmt.Errorf("chat: upsert contact: %w", err)
	}
	return c, nil
}

// GetOrCreateConversation returns the single conversation for a contact,
// creating it open with zero unread on first inbound message.
func (s *Store) GetOrCreateConversation(ctx context.Context, q Querier, contactID uuid.UUID) (Conversation, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		INSERT INTO conversations (id, contact_id, status, last_activity_at)
		VALUES ($1, $2, 'open', now())
		ON CONFLICT (contact_id) DO UPDATE
		SET contact_id = EXCLUDED.contact_id
		RETURNING id, contact_id, status, last_activity_at, unread_count
	`
	var conv Conversation
	if err := q.QueryRow(ctx, query, uuid.New(), contactID).Scan(&conv.ID, &conv.ContactID, &conv.Status, &conv.LastActivityAt, &conv.UnreadCount); err != nil {
		return Conversation{}, fmt.Errorf("chat: get or create conversation: %w", err)
	}
	return conv, nil
}

// HasProviderMessage checks whether a message with the provider message id
// already exists. This is the webhook re-delivery guard.
func (s *Store) HasProviderMessage(ctx context.Context, q Querier, providerMessageID string) (bool, error) {
	if q == nil {
		q = s.pool
	}
	providerMessageID = strings.TrimSpace(providerMessageID)
	if providerMessageID == "" {
		return false, nil
	}
	query := `
		SELECT 1 FROM messages
		WHERE provider_message_id = $1
		LIMIT 1
	`
	var exists int
	if err := q.QueryRow(ctx, query, providerMessageID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("chat: check provider message: %w", err)
	}
	return true, nil
}

func (s *Store) InsertMessage(ctx context.Context, q Querier, m Message) (uuid.UUID, error) {
	if q == nil {
		q = s.pool
	}
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	query := `
		INSERT INTO messages (
			id, conversation_id, provider_message_id, direction, type,
			body, media_url, caption, latitude, longitude,
			status, error, send_attempts, next_retry_at,
			sent_at, delivered_at, read_at
		)
		VALUES ($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		RETURNING id
	`
	var id uuid.UUID
	if err := q.QueryRow(ctx, query,
		m.ID, m.ConversationID, m.ProviderMessageID, m.Direction, m.Type,
		m.Body, m.MediaURL, m.Caption, m.Latitude, m.Longitude,
		m.Status, m.Error, m.SendAttempts, m.NextRetryAt,
		m.SentAt, m.DeliveredAt, m.ReadAt,
	).Scan(&id); err != nil {
		return uuid.Nil, fmt.Errorf("chat: insert message: %w", err)
	}
	return id, nil
}

// TouchConversation bumps last_activity_at and optionally the unread count.
func (s *Store) TouchConversation(ctx context.Context, q Querier, conversationID uuid.UUID, at time.Time, incrementUnread bool) error {
	if q == nil {
		q = s.pool
	}
	inc := 0
	if incrementUnread {
		inc = 1
	}
	query := `
		UPDATE conversations
		SET last_activity_at = GREATEST(last_activity_at, $2),
			unread_count = unread_count + $3
		WHERE id = $1
	`
	if _, err := q.Exec(ctx, query, conversationID, at, inc); err != nil {
		return fmt.Errorf("chat: touch conversation: %w", err)
	}
	return nil
}

// OpenConversation marks the conversation open and zeroes its unread count.
func (s *Store) OpenConversation(ctx context.Context, conversationID uuid.UUID) error {
	query := `
		UPDATE conversations
		SET status = 'open', unread_count = 0
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, conversationID); err != nil {
		return fmt.Errorf("chat: open conversation: %w", err)
	}
	return nil
}

// GetMessageStatus returns the message id, conversation id, and current
// status for a provider message id.
func (s *Store) GetMessageStatus(ctx context.Context, q Querier, providerMessageID string) (uuid.UUID, uuid.UUID, Status, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		SELECT id, conversation_id, status FROM messages
		WHERE provider_message_id = $1
	`
	var id, convID uuid.UUID
	var status Status
	if err := q.QueryRow(ctx, query, providerMessageID).Scan(&id, &convID, &status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, uuid.Nil, "", pgx.ErrNoRows
		}
		return uuid.Nil, uuid.Nil, "", fmt.Errorf("chat: get message status: %w", err)
	}
	return id, convID, status, nil
}

// ApplyStatus moves a message forward in the status machine. The update is
// conditional on the status we read, so interleaved workers cannot regress
// it. Returns false when the transition table rejects the change.
func (s *Store) ApplyStatus(ctx context.Context, q Querier, id uuid.UUID, from, to Status, at time.Time) (bool, error) {
	if q == nil {
		q = s.pool
	}
	if !CanTransition(from, to) {
		return false, nil
	}
	var column string
	switch to {
	case StatusSent:
		column = "sent_at"
	case StatusDelivered:
		column = "delivered_at"
	case StatusRead:
		column = "read_at"
	default:
		column = ""
	}
	query := `
		UPDATE messages
		SET status = $2
		WHERE id = $1 AND status = $3
	`
	if column != "" {
		query = fmt.Sprintf(`
		UPDATE messages
		SET status = $2, %s = $4
		WHERE id = $1 AND status = $3
	`, column)
	}
	var ct pgconn.CommandTag
	var err error
	if column != "" {
		ct, err = q.Exec(ctx, query, id, to, from, at)
	} else {
		ct, err = q.Exec(ctx, query, id, to, from)
	}
	if err != nil {
		return false, fmt.Errorf("chat: apply status: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// FindRecentDuplicate looks for another outbound message in the same
// conversation with the same type and body, created within the window, in
// a non-terminal status. Used by the dispatcher's duplicate-send guard,
// which runs it in the same transaction as the insert.
func (s *Store) FindRecentDuplicate(ctx context.Context, q Querier, conversationID uuid.UUID, msgType, body string, window time.Duration) (*Message, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		SELECT id, conversation_id, provider_message_id, direction, type, body, status, created_at
		FROM messages
		WHERE conversation_id = $1
			AND direction = 'outbound'
			AND type = $2
			AND body = $3
			AND created_at > now() - $4::interval
			AND status NOT IN ('failed', 'read')
		ORDER BY created_at DESC
		LIMIT 1
	`
	interval := fmt.Sprintf("%d seconds", int(window.Seconds()))
	var m Message
	var providerID *string
	err := q.QueryRow(ctx, query, conversationID, msgType, body, interval).Scan(
		&m.ID, &m.ConversationID, &providerID, &m.Direction, &m.Type, &m.Body, &m.Status, &m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("chat: find recent duplicate: %w", err)
	}
	if providerID != nil {
		m.ProviderMessageID = *providerID
	}
	return &m, nil
}

// LastInboundAt returns the creation time of the most recent inbound
// message in the conversation, or nil when none exists.
func (s *Store) LastInboundAt(ctx context.Context, q Querier, conversationID uuid.UUID) (*time.Time, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		SELECT created_at FROM messages
		WHERE conversation_id = $1 AND direction = 'inbound'
		ORDER BY created_at DESC
		LIMIT 1
	`
	var at time.Time
	if err := q.QueryRow(ctx, query, conversationID).Scan(&at); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("chat: last inbound at: %w", err)
	}
	return &at, nil
}

// MarkSending flips a pending or retryable message to sending and counts
// the attempt. Messages already past 'sending' are left alone.
func (s *Store) MarkSending(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE messages
		SET status = 'sending', send_attempts = send_attempts + 1, next_retry_at = NULL
		WHERE id = $1 AND status IN ('pending', 'sending', 'failed')
	`
	if _, err := s.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("chat: mark sending: %w", err)
	}
	return nil
}

// MarkSent records the provider message id and the sent timestamp.
func (s *Store) MarkSent(ctx context.Context, id uuid.UUID, providerMessageID string, at time.Time) error {
	query := `
		UPDATE messages
		SET status = 'sent', provider_message_id = $2, sent_at = $3, error = '', next_retry_at = NULL
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, id, providerMessageID, at); err != nil {
		return fmt.Errorf("chat: mark sent: %w", err)
	}
	return nil
}

// MarkFailed records the error and schedules the next retry when one is due.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, sendErr string, nextRetry *time.Time) error {
	query := `
		UPDATE messages
		SET status = 'failed', error = $2, next_retry_at = $3
		WHERE id = $1
	`
	if _, err := s.pool.Exec(ctx, query, id, sendErr, nextRetry); err != nil {
		return fmt.Errorf("chat: mark failed: %w", err)
	}
	return nil
}

// ListRetryCandidates returns failed outbound messages whose retry is due
// and whose attempt budget is not exhausted.
// GetMessage loads one message by id.
func (s *Store) GetMessage(ctx context.Context, id uuid.UUID) (Message, error) {
	query := `
		SELECT id, conversation_id, direction, type, body, media_url, caption, status, send_attempts
		FROM messages
		WHERE id = $1
	`
	var m Message
	if err := s.pool.QueryRow(ctx, query, id).Scan(
		&m.ID, &m.ConversationID, &m.Direction, &m.Type, &m.Body,
		&m.MediaURL, &m.Caption, &m.Status, &m.SendAttempts,
	); err != nil {
		return Message{}, fmt.Errorf("chat: get message %s: %w", id, err)
	}
	return m, nil
}

func (s *Store) ListRetryCandidates(ctx context.Context, limit, maxAttempts int) ([]Message, error) {
	query := `
		SELECT id, conversation_id, type, body, media_url, caption, status, send_attempts
		FROM messages
		WHERE direction = 'outbound'
			AND status = 'failed'
			AND send_attempts < $1
			AND next_retry_at IS NOT NULL
			AND next_retry_at <= now()
		ORDER BY next_retry_at
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("chat: list retry candidates: %w", err)
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Type, &m.Body, &m.MediaURL, &m.Caption, &m.Status, &m.SendAttempts); err != nil {
			return nil, fmt.Errorf("chat: scan retry candidate: %w", err)
		}
		m.Direction = DirectionOutbound
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: iterate retry candidates: %w", err)
	}
	return out, nil
}

// RecentHistory returns the most recent messages in chronological order,
// used to build the AI prompt.
func (s *Store) RecentHistory(ctx context.Context, conversationID uuid.UUID, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, direction, type, body, created_at
		FROM (
			SELECT id, direction, type, body, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at
	`
	rows, err := s.pool.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("chat: recent history: %w", err)
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Direction, &m.Type, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("chat: scan history row: %w", err)
		}
		m.ConversationID = conversationID
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat: iterate history: %w", err)
	}
	return out, nil
}

// ContactForConversation resolves the contact that owns a conversation.
func (s *Store) ContactForConversation(ctx context.Context, conversationID uuid.UUID) (Contact, error) {
	query := `
		SELECT c.id, c.provider_id, c.display_name, c.phone_number
		FROM contacts c
		JOIN conversations v ON v.contact_id = c.id
		WHERE v.id = $1
	`
	var c Contact
	if err := s.pool.QueryRow(ctx, query, conversationID).Scan(&c.ID, &c.ProviderID, &c.DisplayName, &c.PhoneNumber); err != nil {
		return Contact{}, fmt.Errorf("chat: contact for conversation: %w", err)
	}
	return c, nil
}

// GetFlowState returns the raw flow state JSON for a conversation, nil when
// no flow is active.
func (s *Store) GetFlowState(ctx context.Context, conversationID uuid.UUID) (json.RawMessage, error) {
	query := `SELECT flow_state FROM conversations WHERE id = $1`
	var raw []byte
	if err := s.pool.QueryRow(ctx, query, conversationID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("chat: get flow state: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}
	return json.RawMessage(raw), nil
}

// SetFlowState stores (or clears, when raw is nil) the flow state JSON.
func (s *Store) SetFlowState(ctx context.Context, conversationID uuid.UUID, raw json.RawMessage) error {
	query := `UPDATE conversations SET flow_state = $2 WHERE id = $1`
	var arg any
	if len(raw) > 0 {
		arg = []byte(raw)
	}
	if _, err := s.pool.Exec(ctx, query, conversationID, arg); err != nil {
		return fmt.Errorf("chat: set flow state: %w", err)
	}
	return nil
}

// ExpireStaleFlows clears flow states whose started_at is older than the
// TTL. Returns the number of conversations cleared.
func (s *Store) ExpireStaleFlows(ctx context.Context, ttl time.Duration) (int64, error) {
	query := `
		UPDATE conversations
		SET flow_state = NULL
		WHERE flow_state IS NOT NULL
			AND (flow_state->>'started_at')::timestamptz < now() - $1::interval
	`
	interval := fmt.Sprintf("%d seconds", int(ttl.Seconds()))
	ct, err := s.pool.Exec(ctx, query, interval)
	if err != nil {
		return 0, fmt.Errorf("chat: expire stale flows: %w", err)
	}
	return ct.RowsAffected(), nil
}
