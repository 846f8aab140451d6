package flow

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/converse-ai-platform/internal/tools"
)

type memoryStateStore struct {
	states map[uuid.UUID]json.RawMessage
}

func newMemoryStateStore() *memoryStateStore {
	return &memoryStateStore{states: map[uuid.UUID]json.RawMessage{}}
}

func (m *memoryStateStore) GetFlowState(_ context.Context, id uuid.UUID) (json.RawMessage, error) {
	return m.states[id], nil
}

func (m *memoryStateStore) SetFlowState(_ context.Context, id uuid.UUID, raw json.RawMessage) error {
	if raw == nil {
		delete(m.states, id)
		return nil
	}
	m.states[id] = raw
	return nil
}

func (m *memoryStateStore) ExpireStaleFlows(_ context.Context, ttl time.Duration) (int64, error) {
	var n int64
	for id, raw := range m.states {
		s, _ := DecodeState(raw)
		if s != nil && time.Since(s.StartedAt) > ttl {
			delete(m.states, id)
			n++
		}
	}
	return n, nil
}

type staticResolver map[string]tools.Definition

func (r staticResolver) Resolve(code string) (tools.Definition, bool) {
	d, ok := r[code]
	return d, ok
}

func incidentTool() tools.Definition {
	return tools.Definition{
		Shortcode: "report_incident",
		Steps: []tools.Step{
			{
				Prompt:         "What is the issue and at which address?",
				RequiredFields: []string{"issue", "zip"},
				FieldMappings: []tools.FieldMapping{
					{Field: "issue", Extractor: ExtractorKeyword, Keywords: map[string]string{"leak": "water_leak", "outage": "power_outage"}},
					{Field: "zip", Extractor: ExtractorRegex, Pattern: `\b(\d{5})\b`},
				},
			},
			{
				Prompt:         "How many people are affected?",
				RequiredFields: []string{"affected"},
				FieldMappings: []tools.FieldMapping{
					{Field: "affected", Extractor: ExtractorInteger},
				},
			},
		},
	}
}

func newTestEngine() (*Engine, *memoryStateStore) {
	store := newMemoryStateStore()
	resolver := staticResolver{"report_incident": incidentTool()}
	return NewEngine(store, resolver, nil), store
}

func TestFlowCompletesAcrossTurns(t *testing.T) {
	e, store := newTestEngine()
	convID := uuid.New()
	ctx := context.Background()

	prompt, err := e.Start(ctx, convID, incidentTool())
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if prompt != "What is the issue and at which address?" {
		t.Errorf("unexpected first prompt %q", prompt)
	}

	// Partial answer: issue matched, zip still missing, step repeats.
	res, err := e.HandleMessage(ctx, convID, "there is a big leak")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if !res.Active || res.Completed || res.Reply == "" {
		t.Fatalf("expected repeat of step prompt, got %+v", res)
	}

	res, err = e.HandleMessage(ctx, convID, "we are in 28013")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if res.Reply != "How many people are affected?" {
		t.Fatalf("expected advance to second step, got %+v", res)
	}

	res, err = e.HandleMessage(ctx, convID, "about 4 of us")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if !res.Completed {
		t.Fatalf("expected completion, got %+v", res)
	}
	if res.Fields["issue"] != "water_leak" || res.Fields["zip"] != "28013" || res.Fields["affected"] != "4" {
		t.Errorf("unexpected collected fields: %v", res.Fields)
	}
	if len(store.states) != 0 {
		t.Error("state must be cleared on completion")
	}
}

func TestNoActiveFlow(t *testing.T) {
	e, _ := newTestEngine()
	res, err := e.HandleMessage(context.Background(), uuid.New(), "hello")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if res.Active {
		t.Error("no flow was started, result must be inactive")
	}
}

func TestUnknownToolClearsState(t *testing.T) {
	e, store := newTestEngine()
	convID := uuid.New()
	state := &State{ActiveTool: "deleted_tool", CollectedFields: map[string]string{}, StartedAt: time.Now()}
	raw, _ := state.Encode()
	store.states[convID] = raw

	res, err := e.HandleMessage(context.Background(), convID, "hi")
	if err != nil {
		t.Fatalf("HandleMessage failed: %v", err)
	}
	if res.Active {
		t.Error("dangling flow must be treated as inactive")
	}
	if len(store.states) != 0 {
		t.Error("dangling flow state must be cleared")
	}
}

func TestAbandonClearsState(t *testing.T) {
	e, store := newTestEngine()
	convID := uuid.New()
	if _, err := e.Start(context.Background(), convID, incidentTool()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := e.Abandon(context.Background(), convID); err != nil {
		t.Fatalf("Abandon failed: %v", err)
	}
	if len(store.states) != 0 {
		t.Error("abandoned flow state must be cleared")
	}
}

func TestExpireStale(t *testing.T) {
	e, store := newTestEngine()
	old := &State{ActiveTool: "report_incident", CollectedFields: map[string]string{}, StartedAt: time.Now().Add(-2 * time.Hour)}
	fresh := &State{ActiveTool: "report_incident", CollectedFields: map[string]string{}, StartedAt: time.Now()}
	oldRaw, _ := old.Encode()
	freshRaw, _ := fresh.Encode()
	store.states[uuid.New()] = oldRaw
	freshID := uuid.New()
	store.states[freshID] = freshRaw

	n, err := e.ExpireStale(context.Background(), 30*time.Minute)
	if err != nil {
		t.Fatalf("ExpireStale failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired flow, got %d", n)
	}
	if _, ok := store.states[freshID]; !ok {
		t.Error("fresh flow must survive expiry")
	}
}

func TestExtractors(t *testing.T) {
	tests := []struct {
		name    string
		mapping tools.FieldMapping
		text    string
		want    string
		wantOK  bool
	}{
		{"text takes all", tools.FieldMapping{Extractor: ExtractorText}, "  Calle Mayor 1  ", "Calle Mayor 1", true},
		{"first integer", tools.FieldMapping{Extractor: ExtractorInteger}, "around 12 or 15 people", "12", true},
		{"integer absent", tools.FieldMapping{Extractor: ExtractorInteger}, "many people", "", false},
		{"regex capture", tools.FieldMapping{Extractor: ExtractorRegex, Pattern: `ref-(\w+)`}, "my case is ref-AB12", "AB12", true},
		{"regex invalid pattern", tools.FieldMapping{Extractor: ExtractorRegex, Pattern: `(`}, "anything", "", false},
		{"keyword hit", tools.FieldMapping{Extractor: ExtractorKeyword, Keywords: map[string]string{"factura": "billing"}}, "tengo una duda con la FACTURA", "billing", true},
		{"keyword miss", tools.FieldMapping{Extractor: ExtractorKeyword, Keywords: map[string]string{"factura": "billing"}}, "hola", "", false},
		{"empty input", tools.FieldMapping{Extractor: ExtractorText}, "   ", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extract(tt.mapping, tt.text)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("extract() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
