package ai

import (
	"fmt"
	"strings"

	"github.com/wolfman30/converse-ai-platform/internal/chat"
	"github.com/wolfman30/converse-ai-platform/internal/tools"
)

// communicationRules are embedded in every prompt, before the tool
// catalogue and history.
var communicationRules = []string{
	"Answer in the language the contact writes in.",
	"Keep replies short and suitable for a chat message, no markdown.",
	"Never invent account details, prices or deadlines.",
	"Never mention tools, systems or internal processes to the contact.",
	"If the contact reports an emergency, acknowledge it first.",
}

const toolInstruction = `When a registered tool is needed, reply with exactly one directive of the form [USE_TOOL:shortcode:{"param":"value"}] and nothing else. Use a tool at most once per reply. If no tool is needed, just answer the contact.`

// PromptInput is everything that goes into one orchestration prompt.
type PromptInput struct {
	Persona         string
	IncidentContext string
	Tools           []tools.Definition
	History         []chat.Message
	UserMessage     string
}

// BuildPrompt assembles the system blocks and message list for one
// orchestration round.
func BuildPrompt(in PromptInput) ([]string, []ChatMessage) {
	var system []string
	if in.Persona != "" {
		system = append(system, in.Persona)
	}

	var rules strings.Builder
	rules.WriteString("Communication rules:\n")
	for _, r := range communicationRules {
		rules.WriteString("- ")
		rules.WriteString(r)
		rules.WriteString("\n")
	}
	system = append(system, strings.TrimRight(rules.String(), "\n"))

	if len(in.Tools) > 0 {
		system = append(system, formatToolCatalog(in.Tools), toolInstruction)
	}
	if in.IncidentContext != "" {
		system = append(system, "Active incident context: "+in.IncidentContext)
	}

	msgs := make([]ChatMessage, 0, len(in.History)+1)
	for _, m := range in.History {
		if strings.TrimSpace(m.Body) == "" {
			continue
		}
		role := ChatRoleUser
		if m.Direction == chat.DirectionOutbound {
			role = ChatRoleAssistant
		}
		msgs = append(msgs, ChatMessage{Role: role, Content: m.Body})
	}
	msgs = append(msgs, ChatMessage{Role: ChatRoleUser, Content: in.UserMessage})
	return system, msgs
}

func formatToolCatalog(defs []tools.Definition) string {
	var b strings.Builder
	b.WriteString("Registered tools:\n")
	for _, d := range defs {
		b.WriteString(fmt.Sprintf("- %s: %s", d.Shortcode, d.Description))
		if d.ParameterHint != "" {
			b.WriteString(" Parameters: ")
			b.WriteString(d.ParameterHint)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
