package tools

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/wolfman30/converse-ai-platform/internal/chat"
	"github.com/wolfman30/converse-ai-platform/internal/notify"
	"github.com/wolfman30/converse-ai-platform/internal/provider"
	"github.com/wolfman30/converse-ai-platform/pkg/logging"
)

// templateSender is satisfied by the outbound dispatcher.
type templateSender interface {
	Send(ctx context.Context, conversationID uuid.UUID, req provider.SendRequest) (*chat.Message, error)
}

// NewNotifyEmailExecutor builds the notify_email predefined tool: it mails
// the configured operations address with the details collected from the
// conversation.
func NewNotifyEmailExecutor(sender notify.EmailSender, toAddress string, logger *logging.Logger) ExecutorFunc {
	if logger == nil {
		logger = logging.Default()
	}
	return func(ctx context.Context, params, vars map[string]string) (string, error) {
		if sender == nil || toAddress == "" {
			return "", fmt.Errorf("tools: notify_email: no email sender configured")
		}
		subject := params["subject"]
		if subject == "" {
			subject = "Assistant notification"
		}
		body := params["body"]
		if body == "" {
			body = Interpolate("Contact {{contact_phone}} needs attention.\n\nLast message: {{last_message}}", vars)
		}
		msg := notify.EmailMessage{
			To:      toAddress,
			Subject: subject,
			Body:    body,
		}
		if err := sender.Send(ctx, msg); err != nil {
			return "", err
		}
		logger.Info("notification email sent", "subject", subject)
		return "notification delivered to the team", nil
	}
}

// NewSendTemplateExecutor builds the send_template predefined tool: it
// dispatches a template message into the current conversation, which is
// the only way to reach a contact outside the session window.
func NewSendTemplateExecutor(sender templateSender, logger *logging.Logger) ExecutorFunc {
	if logger == nil {
		logger = logging.Default()
	}
	return func(ctx context.Context, params, vars map[string]string) (string, error) {
		if sender == nil {
			return "", fmt.Errorf("tools: send_template: no dispatcher configured")
		}
		name := params["template_name"]
		if name == "" {
			name = params["template"]
		}
		if name == "" {
			return "", fmt.Errorf("tools: send_template: template_name parameter required")
		}
		convID, err := uuid.Parse(vars["conversation_id"])
		if err != nil {
			return "", fmt.Errorf("tools: send_template: missing conversation context: %w", err)
		}
		msg, err := sender.Send(ctx, convID, provider.SendRequest{
			To:           vars["contact_provider_id"],
			Type:         chat.TypeTemplate,
			TemplateName: name,
		})
		if err != nil {
			return "", err
		}
		logger.Info("template dispatched by tool", "template", name, "message_id", msg.ID)
		return fmt.Sprintf("template %s queued", name), nil
	}
}
