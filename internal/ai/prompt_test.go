package ai

import (
	"strings"
	"testing"

	"github.com/wolfman30/converse-ai-platform/internal/chat"
	"github.com/wolfman30/converse-ai-platform/internal/tools"
)

func TestBuildPrompt(t *testing.T) {
	system, msgs := BuildPrompt(PromptInput{
		Persona:         "You are the assistant of a utilities company.",
		IncidentContext: "Planned outage in district 4 until 18:00.",
		Tools: []tools.Definition{
			{Shortcode: "notify_email", Description: "notify the operations team.", ParameterHint: `{"subject","body"}`},
		},
		History: []chat.Message{
			{Direction: chat.DirectionInbound, Body: "my lights are off"},
			{Direction: chat.DirectionOutbound, Body: "Could you share your district?"},
		},
		UserMessage: "district 4",
	})

	joined := strings.Join(system, "\n")
	for _, want := range []string{
		"utilities company",
		"Communication rules:",
		"notify_email: notify the operations team.",
		"[USE_TOOL:shortcode:",
		"Planned outage in district 4",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}

	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Role != ChatRoleUser || msgs[1].Role != ChatRoleAssistant {
		t.Errorf("history roles wrong: %+v", msgs[:2])
	}
	if msgs[2].Content != "district 4" || msgs[2].Role != ChatRoleUser {
		t.Errorf("trailing user turn wrong: %+v", msgs[2])
	}
}

func TestBuildPromptWithoutTools(t *testing.T) {
	system, _ := BuildPrompt(PromptInput{UserMessage: "hi"})
	joined := strings.Join(system, "\n")
	if strings.Contains(joined, "USE_TOOL") {
		t.Error("tool instruction must be absent when no tools are registered")
	}
}
