package tools

import "github.com/google/uuid"

// Kind of a tool executor.
const (
	KindHTTPCall   = "http_call"
	KindPredefined = "predefined"
)

// Definition describes a callable tool. Definitions are read-only input
// owned by the admin surface; the registry only consumes them.
type Definition struct {
	ID            uuid.UUID `json:"id"`
	Shortcode     string    `json:"shortcode"`
	Description   string    `json:"description"`
	Kind          string    `json:"kind"`
	ParameterHint string    `json:"parameter_hint,omitempty"`

	// http_call configuration. URL, headers and body may contain
	// {{variable}} placeholders interpolated at execution time.
	Method  string            `json:"method,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`

	// predefined tools dispatch on Action.
	Action string `json:"action,omitempty"`

	// Steps drive a guided multi-turn collection before execution.
	Steps []Step `json:"steps,omitempty"`
}

// Step is one turn of a guided collection sequence.
type Step struct {
	Prompt         string         `json:"prompt"`
	RequiredFields []string       `json:"required_fields,omitempty"`
	FieldMappings  []FieldMapping `json:"field_mappings,omitempty"`
}

// FieldMapping extracts one field from a user reply.
type FieldMapping struct {
	Field     string            `json:"field"`
	Extractor string            `json:"extractor"` // text | integer | regex | keyword
	Pattern   string            `json:"pattern,omitempty"`
	Keywords  map[string]string `json:"keywords,omitempty"` // substring match -> value
}
