package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/converse-ai-platform/internal/chat"
	"github.com/wolfman30/converse-ai-platform/internal/flow"
	"github.com/wolfman30/converse-ai-platform/internal/provider"
	"github.com/wolfman30/converse-ai-platform/internal/tools"
	"github.com/wolfman30/converse-ai-platform/pkg/logging"
)

const (
	defaultModelTimeout = 60 * time.Second
	defaultHistoryLimit = 20
	defaultMaxTokens    = 512
)

type replySender interface {
	Send(ctx context.Context, conversationID uuid.UUID, req provider.SendRequest) (*chat.Message, error)
}

// Orchestrator runs the assistant turn: prompt, model call with fallback,
// tool detection and execution, and the re-phrasing second call. At most
// one tool runs per round.
type Orchestrator struct {
	llm          LLMClient
	registry     *tools.Registry
	flows        *flow.Engine
	store        *chat.Store
	sender       replySender
	logger       *logging.Logger
	model        string
	persona      string
	incident     string
	modelTimeout time.Duration
	historyLimit int
}

type OrchestratorConfig struct {
	LLM             LLMClient
	Registry        *tools.Registry
	Flows           *flow.Engine
	Store           *chat.Store
	Sender          replySender
	Logger          *logging.Logger
	Model           string
	Persona         string
	IncidentContext string
	ModelTimeout    time.Duration
	HistoryLimit    int
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.LLM == nil {
		panic("ai: llm client required")
	}
	if cfg.Registry == nil {
		panic("ai: tool registry required")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.ModelTimeout <= 0 {
		cfg.ModelTimeout = defaultModelTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	return &Orchestrator{
		llm:          cfg.LLM,
		registry:     cfg.Registry,
		flows:        cfg.Flows,
		store:        cfg.Store,
		sender:       cfg.Sender,
		logger:       cfg.Logger,
		model:        cfg.Model,
		persona:      cfg.Persona,
		incident:     cfg.IncidentContext,
		modelTimeout: cfg.ModelTimeout,
		historyLimit: cfg.HistoryLimit,
	}
}

// HandleInbound is called by the normalizer after an inbound text message
// is durably stored. It drives the active flow if one exists, otherwise a
// full orchestration round, and dispatches the resulting reply.
func (o *Orchestrator) HandleInbound(ctx context.Context, conversationID uuid.UUID, contact chat.Contact, text string) error {
	vars := map[string]string{
		"conversation_id":     conversationID.String(),
		"contact_provider_id": contact.ProviderID,
		"contact_phone":       contact.PhoneNumber,
		"contact_name":        contact.DisplayName,
		"last_message":        text,
	}

	if o.flows != nil {
		res, err := o.flows.HandleMessage(ctx, conversationID, text)
		if err != nil {
			return err
		}
		if res.Active {
			return o.finishFlowTurn(ctx, conversationID, res, text, vars)
		}
	}

	reply, err := o.Respond(ctx, conversationID, text, vars)
	if err != nil {
		return err
	}
	return o.reply(ctx, conversationID, reply)
}

// Respond runs one orchestration round and returns the user-facing text.
func (o *Orchestrator) Respond(ctx context.Context, conversationID uuid.UUID, userMessage string, vars map[string]string) (string, error) {
	var history []chat.Message
	if o.store != nil {
		var err error
		history, err = o.store.RecentHistory(ctx, conversationID, o.historyLimit)
		if err != nil {
			o.logger.Warn("history load failed, prompting without it", "conversation_id", conversationID, "error", err)
		}
		// The inbound message is already persisted; keep it out of the
		// history so it appears once, as the trailing user turn.
		if n := len(history); n > 0 && history[n-1].Body == userMessage {
			history = history[:n-1]
		}
	}

	system, msgs := BuildPrompt(PromptInput{
		Persona:         o.persona,
		IncidentContext: o.incident,
		Tools:           o.registry.Catalog(),
		History:         history,
		UserMessage:     userMessage,
	})

	first, err := o.complete(ctx, system, msgs)
	if err != nil {
		return "", fmt.Errorf("ai: orchestration failed: %w", err)
	}

	directive, found := ParseDirective(first.Text)
	if !found {
		return StripDirectives(first.Text), nil
	}

	def, ok := o.registry.Resolve(directive.Shortcode)
	if ok && len(def.Steps) > 0 && o.flows != nil {
		// Structured input is collected across turns before execution.
		prompt, err := o.flows.Start(ctx, conversationID, def)
		if err != nil {
			o.logger.Error("flow start failed", "tool", def.Shortcode, "error", err)
			return StripDirectives(first.Text), nil
		}
		return prompt, nil
	}

	result, err := o.registry.Execute(ctx, directive.Shortcode, directive.Params, vars)
	if err != nil {
		// Degraded turn: the contact still gets the model's own words.
		o.logger.Error("tool execution failed", "tool", directive.Shortcode, "error", err)
		return StripDirectives(first.Text), nil
	}

	return o.phraseToolResult(ctx, system, msgs, first.Text, result), nil
}

// finishFlowTurn advances or completes a guided collection.
func (o *Orchestrator) finishFlowTurn(ctx context.Context, conversationID uuid.UUID, res flow.Result, userMessage string, vars map[string]string) error {
	if !res.Completed {
		return o.reply(ctx, conversationID, res.Reply)
	}

	result, err := o.registry.Execute(ctx, res.Tool, res.Fields, vars)
	if err != nil {
		o.logger.Error("tool execution after flow failed", "tool", res.Tool, "error", err)
		return o.reply(ctx, conversationID, "We could not finish that request just now. The team has been made aware.")
	}

	system, msgs := BuildPrompt(PromptInput{
		Persona:     o.persona,
		UserMessage: userMessage,
	})
	return o.reply(ctx, conversationID, o.phraseToolResult(ctx, system, msgs, "", result))
}

// phraseToolResult issues the second model call: same prompt, plus the tool
// outcome and instructions to phrase the reply without naming the
// mechanism. If the second call fails, the stripped first response is used.
func (o *Orchestrator) phraseToolResult(ctx context.Context, system []string, msgs []ChatMessage, firstText, toolResult string) string {
	followup := msgs
	if firstText != "" {
		followup = append(followup, ChatMessage{Role: ChatRoleAssistant, Content: firstText})
	}
	followup = append(followup, ChatMessage{
		Role: ChatRoleUser,
		Content: "The requested action completed with this result: " + toolResult +
			"\nWrite the reply to the contact now. Describe the outcome in their terms and never mention tools, emails or internal systems (say for example that the relevant team has been notified). Do not include any bracketed directives.",
	})

	second, err := o.complete(ctx, system, followup)
	if err != nil {
		o.logger.Error("second model call failed", "error", err)
		if firstText != "" {
			return StripDirectives(firstText)
		}
		return "Done. The relevant team has been notified."
	}
	return StripDirectives(second.Text)
}

func (o *Orchestrator) complete(ctx context.Context, system []string, msgs []ChatMessage) (LLMResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, o.modelTimeout)
	defer cancel()
	return o.llm.Complete(ctx, LLMRequest{
		Model:       o.model,
		System:      system,
		Messages:    msgs,
		MaxTokens:   defaultMaxTokens,
		Temperature: 0.4,
	})
}

func (o *Orchestrator) reply(ctx context.Context, conversationID uuid.UUID, text string) error {
	if text == "" {
		return nil
	}
	if o.sender == nil {
		o.logger.Warn("no sender configured, dropping assistant reply", "conversation_id", conversationID)
		return nil
	}
	_, err := o.sender.Send(ctx, conversationID, provider.SendRequest{
		Type: chat.TypeText,
		Body: text,
	})
	return err
}
