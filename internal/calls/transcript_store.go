package calls

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/converse-ai-platform/internal/provider"
)

const (
	transcriptKeyPrefix = "call:transcript:"
	transcriptTTL       = 24 * time.Hour
)

// TranscriptStore accumulates transcript turns in Redis while a call is
// live. Turns arrive one webhook at a time; the full list is read once the
// call ends and handed to the classifier.
type TranscriptStore struct {
	rdb *redis.Client
}

func NewTranscriptStore(rdb *redis.Client) *TranscriptStore {
	if rdb == nil {
		panic("calls: redis client required")
	}
	return &TranscriptStore{rdb: rdb}
}

func transcriptKey(callID string) string {
	return transcriptKeyPrefix + callID
}

// Append adds one turn. The key TTL is refreshed on every write so a live
// call never expires mid-stream.
func (s *TranscriptStore) Append(ctx context.Context, callID string, turn provider.TranscriptTurn) error {
	if callID == "" {
		return fmt.Errorf("calls: transcript append: call id required")
	}
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("calls: transcript append: marshal: %w", err)
	}
	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, transcriptKey(callID), data)
	pipe.Expire(ctx, transcriptKey(callID), transcriptTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("calls: transcript append: %w", err)
	}
	return nil
}

// Turns returns the accumulated transcript in arrival order. Entries that
// fail to decode are skipped.
func (s *TranscriptStore) Turns(ctx context.Context, callID string) ([]provider.TranscriptTurn, error) {
	data, err := s.rdb.LRange(ctx, transcriptKey(callID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("calls: transcript read: %w", err)
	}
	turns := make([]provider.TranscriptTurn, 0, len(data))
	for _, d := range data {
		var turn provider.TranscriptTurn
		if err := json.Unmarshal([]byte(d), &turn); err != nil {
			continue
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

// Clear drops the accumulated transcript after the call is persisted.
func (s *TranscriptStore) Clear(ctx context.Context, callID string) error {
	return s.rdb.Del(ctx, transcriptKey(callID)).Err()
}
