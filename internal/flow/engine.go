package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/converse-ai-platform/internal/tools"
	"github.com/wolfman30/converse-ai-platform/pkg/logging"
)

type stateStore interface {
	GetFlowState(ctx context.Context, conversationID uuid.UUID) (json.RawMessage, error)
	SetFlowState(ctx context.Context, conversationID uuid.UUID, raw json.RawMessage) error
	ExpireStaleFlows(ctx context.Context, ttl time.Duration) (int64, error)
}

type toolResolver interface {
	Resolve(shortcode string) (tools.Definition, bool)
}

// Result is the outcome of feeding one user reply into an active flow.
type Result struct {
	Active    bool
	Reply     string
	Completed bool
	Tool      string
	Fields    map[string]string
}

// Engine drives the guided multi-turn collection attached to a
// conversation: idle, then collecting step by step, then idle again with
// the fields handed to the caller.
type Engine struct {
	store    stateStore
	resolver toolResolver
	logger   *logging.Logger
}

func NewEngine(store stateStore, resolver toolResolver, logger *logging.Logger) *Engine {
	if store == nil {
		panic("flow: state store required")
	}
	if resolver == nil {
		panic("flow: tool resolver required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{store: store, resolver: resolver, logger: logger}
}

// Start begins a collection for a tool with declared steps and returns the
// first step's prompt. Starting replaces any previous flow on the
// conversation.
func (e *Engine) Start(ctx context.Context, conversationID uuid.UUID, def tools.Definition) (string, error) {
	if len(def.Steps) == 0 {
		return "", fmt.Errorf("flow: tool %s declares no steps", def.Shortcode)
	}
	state := &State{
		ActiveTool:      def.Shortcode,
		CurrentStep:     0,
		CollectedFields: map[string]string{},
		StartedAt:       time.Now().UTC(),
	}
	raw, err := state.Encode()
	if err != nil {
		return "", err
	}
	if err := e.store.SetFlowState(ctx, conversationID, raw); err != nil {
		return "", err
	}
	return def.Steps[0].Prompt, nil
}

// HandleMessage feeds one user reply into the conversation's flow, if any.
// When the last step completes, the collected fields are returned and the
// state is cleared.
func (e *Engine) HandleMessage(ctx context.Context, conversationID uuid.UUID, userText string) (Result, error) {
	raw, err := e.store.GetFlowState(ctx, conversationID)
	if err != nil {
		return Result{}, err
	}
	state, err := DecodeState(raw)
	if err != nil {
		// A corrupt state would wedge the conversation; clear it.
		e.logger.Error("clearing undecodable flow state", "conversation_id", conversationID, "error", err)
		return Result{}, e.store.SetFlowState(ctx, conversationID, nil)
	}
	if state == nil {
		return Result{}, nil
	}

	def, ok := e.resolver.Resolve(state.ActiveTool)
	if !ok || state.CurrentStep >= len(def.Steps) {
		e.logger.Warn("flow references unknown tool or step, clearing",
			"conversation_id", conversationID, "tool", state.ActiveTool, "step", state.CurrentStep)
		return Result{}, e.store.SetFlowState(ctx, conversationID, nil)
	}

	step := def.Steps[state.CurrentStep]
	for _, m := range step.FieldMappings {
		if v, ok := extract(m, userText); ok {
			state.CollectedFields[m.Field] = v
		}
	}

	if !stepComplete(step, state.CollectedFields) {
		raw, err := state.Encode()
		if err != nil {
			return Result{}, err
		}
		if err := e.store.SetFlowState(ctx, conversationID, raw); err != nil {
			return Result{}, err
		}
		return Result{Active: true, Reply: step.Prompt, Tool: state.ActiveTool}, nil
	}

	state.CurrentStep++
	if state.CurrentStep >= len(def.Steps) {
		if err := e.store.SetFlowState(ctx, conversationID, nil); err != nil {
			return Result{}, err
		}
		return Result{
			Active:    true,
			Completed: true,
			Tool:      state.ActiveTool,
			Fields:    state.CollectedFields,
		}, nil
	}

	raw, err = state.Encode()
	if err != nil {
		return Result{}, err
	}
	if err := e.store.SetFlowState(ctx, conversationID, raw); err != nil {
		return Result{}, err
	}
	return Result{Active: true, Reply: def.Steps[state.CurrentStep].Prompt, Tool: state.ActiveTool}, nil
}

// Abandon clears the conversation's flow without completing it.
func (e *Engine) Abandon(ctx context.Context, conversationID uuid.UUID) error {
	return e.store.SetFlowState(ctx, conversationID, nil)
}

// ExpireStale clears flows older than the TTL. Run periodically by the
// worker so an abandoned collection cannot stay stuck in collecting.
func (e *Engine) ExpireStale(ctx context.Context, ttl time.Duration) (int64, error) {
	return e.store.ExpireStaleFlows(ctx, ttl)
}

func stepComplete(step tools.Step, fields map[string]string) bool {
	for _, f := range step.RequiredFields {
		if fields[f] == "" {
			return false
		}
	}
	return true
}
