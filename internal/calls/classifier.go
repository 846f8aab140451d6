package calls

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/wolfman30/converse-ai-platform/internal/ai"
	"github.com/wolfman30/converse-ai-platform/internal/provider"
	"github.com/wolfman30/converse-ai-platform/pkg/logging"
)

const (
	classifyTimeout    = 30 * time.Second
	summaryWordLimit   = 6
	placeholderSummary = "Voice call transcript"
)

var categoryKeywords = map[string][]string{
	CategoryIncident: {"leak", "flood", "outage", "broken", "emergency", "burst", "fire", "damage", "urgent", "avería", "fuga", "incidencia"},
	CategoryInquiry:  {"question", "how", "when", "info", "information", "schedule", "price", "consulta", "pregunta", "horario"},
	CategoryPayment:  {"invoice", "bill", "payment", "pay", "charge", "refund", "factura", "pago", "cobro", "recibo"},
}

var stopWords = map[string]bool{
	"this": true, "that": true, "with": true, "have": true, "there": true,
	"about": true, "would": true, "could": true, "please": true, "hello": true,
	"thanks": true, "thank": true, "just": true, "like": true, "want": true,
	"need": true, "from": true, "your": true, "being": true, "because": true,
	"user": true, "assistant": true,
}

// Classifier labels a finished call transcript with one of the fixed
// categories and produces a short summary. All output is advisory: any
// model failure falls back to keyword heuristics and never propagates.
type Classifier struct {
	llm    ai.LLMClient
	model  string
	logger *logging.Logger
}

func NewClassifier(llm ai.LLMClient, model string, logger *logging.Logger) *Classifier {
	if logger == nil {
		logger = logging.Default()
	}
	return &Classifier{llm: llm, model: model, logger: logger}
}

// FormatTranscript renders turns as a labeled text block.
func FormatTranscript(turns []provider.TranscriptTurn) string {
	var b strings.Builder
	for _, t := range turns {
		role := t.Role
		if role == "" {
			role = "user"
		}
		b.WriteString(role)
		b.WriteString(": ")
		b.WriteString(t.Message)
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Classify returns (category, summary) for a transcript. It never returns
// an error: degraded output is better than blocking the call upsert.
func (c *Classifier) Classify(ctx context.Context, transcript string) (string, string) {
	category := c.classifyCategory(ctx, transcript)
	summary := c.summarize(ctx, transcript)
	return category, summary
}

func (c *Classifier) classifyCategory(ctx context.Context, transcript string) string {
	if c.llm != nil {
		ctx, cancel := context.WithTimeout(ctx, classifyTimeout)
		defer cancel()
		resp, err := c.llm.Complete(ctx, ai.LLMRequest{
			Model: c.model,
			System: []string{
				"Classify the call transcript into exactly one category: incident, inquiry, payment or unknown. Reply with the single category word only.",
			},
			Messages:    []ai.ChatMessage{{Role: ai.ChatRoleUser, Content: transcript}},
			MaxTokens:   16,
			Temperature: 0,
		})
		if err == nil {
			if cat, ok := parseCategory(resp.Text); ok {
				return cat
			}
			c.logger.Warn("unparseable category from model", "raw", resp.Text)
		} else {
			c.logger.Warn("category model call failed, using keyword fallback", "error", err)
		}
	}
	return KeywordCategory(transcript)
}

// parseCategory accepts a bare category word or a small JSON object like
// {"category":"incident"}.
func parseCategory(raw string) (string, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if isCategory(raw) {
		return raw, true
	}
	var obj struct {
		Category string `json:"category"`
	}
	if err := json.Unmarshal([]byte(raw), &obj); err == nil {
		cat := strings.ToLower(strings.TrimSpace(obj.Category))
		if isCategory(cat) {
			return cat, true
		}
	}
	for _, cat := range []string{CategoryIncident, CategoryInquiry, CategoryPayment, CategoryUnknown} {
		if strings.Contains(raw, cat) {
			return cat, true
		}
	}
	return "", false
}

func isCategory(s string) bool {
	switch s {
	case CategoryIncident, CategoryInquiry, CategoryPayment, CategoryUnknown:
		return true
	}
	return false
}

// KeywordCategory votes each category by keyword frequency; unknown wins
// when nothing scores.
func KeywordCategory(transcript string) string {
	lower := strings.ToLower(transcript)
	best := CategoryUnknown
	bestScore := 0
	// Deterministic order so ties do not flap between runs.
	for _, cat := range []string{CategoryIncident, CategoryInquiry, CategoryPayment} {
		score := 0
		for _, kw := range categoryKeywords[cat] {
			score += strings.Count(lower, kw)
		}
		if score > bestScore {
			best = cat
			bestScore = score
		}
	}
	return best
}

func (c *Classifier) summarize(ctx context.Context, transcript string) string {
	if c.llm != nil {
		ctx, cancel := context.WithTimeout(ctx, classifyTimeout)
		defer cancel()
		resp, err := c.llm.Complete(ctx, ai.LLMRequest{
			Model: c.model,
			System: []string{
				"Summarize the call in one sentence of at most 20 words. Plain text only.",
			},
			Messages:    []ai.ChatMessage{{Role: ai.ChatRoleUser, Content: transcript}},
			MaxTokens:   64,
			Temperature: 0,
		})
		if err == nil && strings.TrimSpace(resp.Text) != "" {
			return strings.TrimSpace(resp.Text)
		}
		if err != nil {
			c.logger.Warn("summary model call failed, using word fallback", "error", err)
		}
	}
	return SignificantWords(transcript)
}

// SignificantWords extracts the first few meaningful words as a degraded
// summary: longer than three characters, stop words excluded.
func SignificantWords(transcript string) string {
	var words []string
	for _, w := range strings.Fields(transcript) {
		clean := strings.ToLower(strings.Trim(w, ".,:;!?\"'"))
		if len(clean) <= 3 || stopWords[clean] {
			continue
		}
		words = append(words, clean)
		if len(words) == summaryWordLimit {
			break
		}
	}
	if len(words) == 0 {
		return placeholderSummary
	}
	return strings.Join(words, " ")
}
