package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

const directiveMarker = "[USE_TOOL:"

// Directive is one parsed tool invocation from model output.
type Directive struct {
	Shortcode string
	Params    map[string]string
}

// ParseDirective finds the first tool directive in model output. Parameters
// default to {} when omitted; malformed JSON falls back to a best-effort
// key:value parser rather than failing the invocation.
func ParseDirective(text string) (*Directive, bool) {
	start := strings.Index(text, directiveMarker)
	if start < 0 {
		return nil, false
	}
	inner, ok := directiveBody(text[start+len(directiveMarker):])
	if !ok {
		return nil, false
	}

	shortcode := inner
	rawParams := ""
	if i := strings.Index(inner, ":"); i >= 0 {
		shortcode = inner[:i]
		rawParams = strings.TrimSpace(inner[i+1:])
	}
	shortcode = strings.TrimSpace(shortcode)
	if shortcode == "" {
		return nil, false
	}
	return &Directive{Shortcode: shortcode, Params: parseParams(rawParams)}, true
}

// directiveBody returns the text up to the directive's closing bracket,
// skipping brackets nested inside the JSON parameters.
func directiveBody(rest string) (string, bool) {
	depth := 0
	for i, r := range rest {
		switch r {
		case '{', '[':
			depth++
		case '}':
			depth--
		case ']':
			if depth == 0 {
				return rest[:i], true
			}
			depth--
		}
	}
	return "", false
}

func parseParams(raw string) map[string]string {
	if raw == "" || raw == "{}" {
		return map[string]string{}
	}
	var typed map[string]any
	if err := json.Unmarshal([]byte(raw), &typed); err == nil {
		out := make(map[string]string, len(typed))
		for k, v := range typed {
			switch val := v.(type) {
			case string:
				out[k] = val
			case float64:
				out[k] = strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", val), "0"), ".")
			case bool:
				out[k] = fmt.Sprintf("%t", val)
			case nil:
				out[k] = ""
			default:
				b, _ := json.Marshal(val)
				out[k] = string(b)
			}
		}
		return out
	}
	return parseLooseParams(raw)
}

// parseLooseParams recovers key:value pairs from malformed JSON, e.g.
// {subject: water leak, body: basement}.
func parseLooseParams(raw string) map[string]string {
	raw = strings.Trim(strings.TrimSpace(raw), "{}")
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		k, v, found := strings.Cut(pair, ":")
		if !found {
			continue
		}
		key := strings.Trim(strings.TrimSpace(k), `"'`)
		val := strings.Trim(strings.TrimSpace(v), `"'`)
		if key != "" {
			out[key] = val
		}
	}
	return out
}

// StripDirectives removes every tool directive from model output so raw
// markup never reaches the contact.
func StripDirectives(text string) string {
	for {
		start := strings.Index(text, directiveMarker)
		if start < 0 {
			break
		}
		inner, ok := directiveBody(text[start+len(directiveMarker):])
		if !ok {
			// Unclosed directive: drop the tail.
			text = text[:start]
			break
		}
		end := start + len(directiveMarker) + len(inner) + 1
		text = text[:start] + text[end:]
	}
	return strings.TrimSpace(text)
}
