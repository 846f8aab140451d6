package flow

import (
	"regexp"
	"strings"

	"github.com/wolfman30/converse-ai-platform/internal/tools"
)

const (
	ExtractorText    = "text"
	ExtractorInteger = "integer"
	ExtractorRegex   = "regex"
	ExtractorKeyword = "keyword"
)

var integerPattern = regexp.MustCompile(`-?\d+`)

// extract applies one field mapping to a user reply. The second return is
// false when nothing matched.
func extract(m tools.FieldMapping, text string) (string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	switch m.Extractor {
	case ExtractorInteger:
		if v := integerPattern.FindString(text); v != "" {
			return v, true
		}
	case ExtractorRegex:
		re, err := regexp.Compile(m.Pattern)
		if err != nil {
			return "", false
		}
		match := re.FindStringSubmatch(text)
		if len(match) > 1 && match[1] != "" {
			return match[1], true
		}
	case ExtractorKeyword:
		lower := strings.ToLower(text)
		for keyword, value := range m.Keywords {
			if strings.Contains(lower, strings.ToLower(keyword)) {
				return value, true
			}
		}
	default: // plain text
		return text, true
	}
	return "", false
}
