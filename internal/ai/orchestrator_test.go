package ai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/converse-ai-platform/internal/chat"
	"github.com/wolfman30/converse-ai-platform/internal/flow"
	"github.com/wolfman30/converse-ai-platform/internal/provider"
	"github.com/wolfman30/converse-ai-platform/internal/tools"
)

// scriptedLLM returns queued responses in order.
type scriptedLLM struct {
	responses []LLMResponse
	errs      []error
	requests  []LLMRequest
}

func (s *scriptedLLM) Complete(_ context.Context, req LLMRequest) (LLMResponse, error) {
	s.requests = append(s.requests, req)
	i := len(s.requests) - 1
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	var resp LLMResponse
	if i < len(s.responses) {
		resp = s.responses[i]
	}
	return resp, err
}

type capturingSender struct {
	sent []provider.SendRequest
}

func (c *capturingSender) Send(_ context.Context, _ uuid.UUID, req provider.SendRequest) (*chat.Message, error) {
	c.sent = append(c.sent, req)
	return &chat.Message{ID: uuid.New(), Status: chat.StatusSent}, nil
}

type memFlowStore struct {
	states map[uuid.UUID]json.RawMessage
}

func (m *memFlowStore) GetFlowState(_ context.Context, id uuid.UUID) (json.RawMessage, error) {
	return m.states[id], nil
}

func (m *memFlowStore) SetFlowState(_ context.Context, id uuid.UUID, raw json.RawMessage) error {
	if raw == nil {
		delete(m.states, id)
	} else {
		m.states[id] = raw
	}
	return nil
}

func (m *memFlowStore) ExpireStaleFlows(context.Context, time.Duration) (int64, error) { return 0, nil }

func newEchoRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	r.MustRegister(tools.Definition{Shortcode: "echo", Description: "echoes parameters"},
		func(_ context.Context, params, _ map[string]string) (string, error) {
			b, _ := json.Marshal(params)
			return string(b), nil
		})
	return r
}

func TestToolRoundTrip(t *testing.T) {
	llm := &scriptedLLM{responses: []LLMResponse{
		{Text: `Checking that for you. [USE_TOOL:echo:{"x":"1"}]`},
		{Text: `All sorted, the value is 1.`},
	}}
	o := NewOrchestrator(OrchestratorConfig{
		LLM:      llm,
		Registry: newEchoRegistry(t),
	})

	final, err := o.Respond(context.Background(), uuid.New(), "check x", nil)
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if strings.Contains(final, "[USE_TOOL") {
		t.Errorf("final response leaks directive markup: %q", final)
	}
	if final != "All sorted, the value is 1." {
		t.Errorf("unexpected final text %q", final)
	}
	if len(llm.requests) != 2 {
		t.Fatalf("expected 2 model calls, got %d", len(llm.requests))
	}
	secondInput := llm.requests[1].Messages[len(llm.requests[1].Messages)-1].Content
	if !strings.Contains(secondInput, `{"x":"1"}`) {
		t.Errorf("second call must carry the tool result, got %q", secondInput)
	}
	if !strings.Contains(secondInput, "never mention tools") {
		t.Errorf("second call must instruct phrasing, got %q", secondInput)
	}
}

func TestNoDirectiveSingleCall(t *testing.T) {
	llm := &scriptedLLM{responses: []LLMResponse{{Text: "Just an answer."}}}
	o := NewOrchestrator(OrchestratorConfig{LLM: llm, Registry: tools.NewRegistry()})

	final, err := o.Respond(context.Background(), uuid.New(), "hi", nil)
	if err != nil || final != "Just an answer." {
		t.Fatalf("unexpected result %q err=%v", final, err)
	}
	if len(llm.requests) != 1 {
		t.Errorf("expected 1 model call, got %d", len(llm.requests))
	}
}

func TestToolFailureDegradesToFirstResponse(t *testing.T) {
	llm := &scriptedLLM{responses: []LLMResponse{
		{Text: `I will notify the team. [USE_TOOL:failing:{}]`},
	}}
	r := tools.NewRegistry()
	r.MustRegister(tools.Definition{Shortcode: "failing"},
		func(context.Context, map[string]string, map[string]string) (string, error) {
			return "", errors.New("endpoint unreachable")
		})
	o := NewOrchestrator(OrchestratorConfig{LLM: llm, Registry: r})

	final, err := o.Respond(context.Background(), uuid.New(), "help", nil)
	if err != nil {
		t.Fatalf("tool failure must not fail the turn: %v", err)
	}
	if final != "I will notify the team." {
		t.Errorf("expected stripped first response, got %q", final)
	}
	if len(llm.requests) != 1 {
		t.Errorf("no second call after tool failure, got %d calls", len(llm.requests))
	}
}

func TestUnknownToolDegrades(t *testing.T) {
	llm := &scriptedLLM{responses: []LLMResponse{
		{Text: `On it. [USE_TOOL:ghost:{}]`},
	}}
	o := NewOrchestrator(OrchestratorConfig{LLM: llm, Registry: tools.NewRegistry()})

	final, err := o.Respond(context.Background(), uuid.New(), "help", nil)
	if err != nil {
		t.Fatalf("unknown tool must not fail the turn: %v", err)
	}
	if final != "On it." {
		t.Errorf("expected stripped first response, got %q", final)
	}
}

func TestModelFailureSurfaces(t *testing.T) {
	llm := &scriptedLLM{errs: []error{errors.New("both backends down")}}
	o := NewOrchestrator(OrchestratorConfig{LLM: llm, Registry: tools.NewRegistry()})

	if _, err := o.Respond(context.Background(), uuid.New(), "hi", nil); err == nil {
		t.Fatal("expected surfaced orchestration error")
	}
}

func TestDirectiveForSteppedToolStartsFlow(t *testing.T) {
	llm := &scriptedLLM{responses: []LLMResponse{
		{Text: `[USE_TOOL:report_incident:{}]`},
	}}
	r := tools.NewRegistry()
	r.MustRegister(tools.Definition{
		Shortcode: "report_incident",
		Steps: []tools.Step{{
			Prompt:         "What happened and where?",
			RequiredFields: []string{"issue"},
			FieldMappings:  []tools.FieldMapping{{Field: "issue", Extractor: "text"}},
		}},
	}, func(context.Context, map[string]string, map[string]string) (string, error) {
		return "ticket opened", nil
	})
	store := &memFlowStore{states: map[uuid.UUID]json.RawMessage{}}
	o := NewOrchestrator(OrchestratorConfig{
		LLM:      llm,
		Registry: r,
		Flows:    flow.NewEngine(store, r, nil),
	})
	convID := uuid.New()

	final, err := o.Respond(context.Background(), convID, "I need to report something", nil)
	if err != nil {
		t.Fatalf("Respond failed: %v", err)
	}
	if final != "What happened and where?" {
		t.Errorf("expected first step prompt, got %q", final)
	}
	if _, ok := store.states[convID]; !ok {
		t.Error("flow state must be stored after start")
	}
}

func TestHandleInboundDrivesActiveFlow(t *testing.T) {
	llm := &scriptedLLM{responses: []LLMResponse{
		{Text: "Our team is on the way."},
	}}
	r := tools.NewRegistry()
	executed := map[string]string{}
	r.MustRegister(tools.Definition{
		Shortcode: "report_incident",
		Steps: []tools.Step{{
			Prompt:         "What happened?",
			RequiredFields: []string{"issue"},
			FieldMappings:  []tools.FieldMapping{{Field: "issue", Extractor: "text"}},
		}},
	}, func(_ context.Context, params, _ map[string]string) (string, error) {
		executed = params
		return "ticket opened", nil
	})

	store := &memFlowStore{states: map[uuid.UUID]json.RawMessage{}}
	engine := flow.NewEngine(store, r, nil)
	sender := &capturingSender{}
	o := NewOrchestrator(OrchestratorConfig{
		LLM:      llm,
		Registry: r,
		Flows:    engine,
		Sender:   sender,
	})

	convID := uuid.New()
	def, _ := r.Resolve("report_incident")
	if _, err := engine.Start(context.Background(), convID, def); err != nil {
		t.Fatalf("flow start failed: %v", err)
	}

	err := o.HandleInbound(context.Background(), convID, chat.Contact{ProviderID: "34600111222"}, "pipe burst in the kitchen")
	if err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}
	if executed["issue"] != "pipe burst in the kitchen" {
		t.Errorf("tool not executed with collected fields: %v", executed)
	}
	if len(sender.sent) != 1 || sender.sent[0].Body != "Our team is on the way." {
		t.Errorf("unexpected outbound reply: %+v", sender.sent)
	}
}
