package calls

import (
	"context"

	"github.com/wolfman30/converse-ai-platform/internal/ingest"
	"github.com/wolfman30/converse-ai-platform/internal/provider"
	"github.com/wolfman30/converse-ai-platform/pkg/logging"
)

type classifyPublisher interface {
	EnqueueClassify(ctx context.Context, providerCallID string) error
}

// Manager receives voice-call events from the normalizer: it accumulates
// live transcript turns in Redis and, when the call ends, persists the
// Call row and schedules the advisory classification.
type Manager struct {
	transcripts *TranscriptStore
	store       *Store
	classifier  *Classifier
	gateway     provider.Gateway
	publisher   classifyPublisher
	logger      *logging.Logger
}

type ManagerConfig struct {
	Transcripts *TranscriptStore
	Store       *Store
	Classifier  *Classifier
	Gateway     provider.Gateway
	Publisher   classifyPublisher // optional, nil classifies inline
	Logger      *logging.Logger
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Transcripts == nil {
		panic("calls: transcript store required")
	}
	if cfg.Store == nil {
		panic("calls: call store required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Manager{
		transcripts: cfg.Transcripts,
		store:       cfg.Store,
		classifier:  cfg.Classifier,
		gateway:     cfg.Gateway,
		publisher:   cfg.Publisher,
		logger:      cfg.Logger,
	}
}

// RecordTurn appends one live transcription turn.
func (m *Manager) RecordTurn(ctx context.Context, callID string, turn provider.TranscriptTurn) error {
	return m.transcripts.Append(ctx, callID, turn)
}

// CompleteCall persists the finished call. The upsert is keyed by the
// provider call id, so re-processing the same call updates the existing
// row instead of duplicating it. Classification runs after the upsert and
// never blocks it.
func (m *Manager) CompleteCall(ctx context.Context, ev ingest.CallEvent) error {
	turns, err := m.transcripts.Turns(ctx, ev.ProviderCallID)
	if err != nil {
		m.logger.Warn("transcript read failed, trying provider fetch", "call_id", ev.ProviderCallID, "error", err)
	}
	if len(turns) == 0 && m.gateway != nil {
		if fetched, ferr := m.gateway.FetchTranscript(ctx, ev.ProviderCallID); ferr == nil && fetched != nil {
			turns = fetched.Turns
		} else if ferr != nil {
			m.logger.Warn("provider transcript fetch failed", "call_id", ev.ProviderCallID, "error", ferr)
		}
	}

	call := Call{
		ProviderCallID:  ev.ProviderCallID,
		PhoneNumber:     ev.PhoneNumber,
		Status:          "completed",
		Transcript:      FormatTranscript(turns),
		Category:        CategoryUnknown,
		Summary:         placeholderSummary,
		StartedAt:       ev.StartedAt,
		EndedAt:         ev.EndedAt,
		DurationSeconds: ev.DurationSeconds,
	}
	if _, err := m.store.Upsert(ctx, call); err != nil {
		return err
	}

	if err := m.transcripts.Clear(ctx, ev.ProviderCallID); err != nil {
		m.logger.Warn("transcript cleanup failed", "call_id", ev.ProviderCallID, "error", err)
	}

	if m.publisher != nil {
		if err := m.publisher.EnqueueClassify(ctx, ev.ProviderCallID); err != nil {
			m.logger.Error("classification enqueue failed", "call_id", ev.ProviderCallID, "error", err)
		}
		return nil
	}
	m.ClassifyStored(ctx, ev.ProviderCallID)
	return nil
}

// ClassifyStored runs the advisory classification for a persisted call.
// Errors are logged, never returned: the Call row already exists with its
// defaults and a classification failure must not fail the job.
func (m *Manager) ClassifyStored(ctx context.Context, providerCallID string) {
	if m.classifier == nil {
		return
	}
	call, err := m.store.Get(ctx, providerCallID)
	if err != nil {
		m.logger.Error("classification load failed", "call_id", providerCallID, "error", err)
		return
	}
	category, summary := m.classifier.Classify(ctx, call.Transcript)
	if err := m.store.SetClassification(ctx, providerCallID, category, summary); err != nil {
		m.logger.Error("classification write failed", "call_id", providerCallID, "error", err)
	}
}
