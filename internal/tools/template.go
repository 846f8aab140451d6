package tools

import "regexp"

// placeholderPattern matches {{var}} and @{{var}} with optional inner
// whitespace.
var placeholderPattern = regexp.MustCompile(`@?\{\{\s*([a-zA-Z0-9_.-]+)\s*\}\}`)

// Interpolate substitutes placeholders from vars. Unknown placeholders are
// replaced with an empty string so a half-filled context never leaks raw
// template syntax to an external endpoint.
func Interpolate(s string, vars map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		return vars[key]
	})
}

// InterpolateMap applies Interpolate to every value of a map, returning a
// new map.
func InterpolateMap(in, vars map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = Interpolate(v, vars)
	}
	return out
}

// MergeVars layers params over context: tool parameters win on conflict.
func MergeVars(context, params map[string]string) map[string]string {
	merged := make(map[string]string, len(context)+len(params))
	for k, v := range context {
		merged[k] = v
	}
	for k, v := range params {
		merged[k] = v
	}
	return merged
}
