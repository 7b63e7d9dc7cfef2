// Package audit persists one structured record per request. Writes go
// through a bounded background queue so the response path never blocks on
// disk; a full queue drops the record with a log line and a counter.
package audit

import "regexp"

const maskedValue = "***MASKED***"

// secretKeyPattern matches map keys whose values must never reach disk.
var secretKeyPattern = regexp.MustCompile(
	`(?i)(password|passphrase|secret|token|api_?key|authorization|credential|private_?key)`)

// Redact returns a deep copy of m with secret-keyed values replaced.
// The input map is never modified.
func Redact(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if secretKeyPattern.MatchString(k) {
			out[k] = maskedValue
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Redact(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}
