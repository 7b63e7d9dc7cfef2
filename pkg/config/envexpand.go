package config

import (
	"os"
	"strings"
)

// ExpandEnv expands ${NAME} and ${NAME:default} references in configuration
// content before YAML parsing. A reference to an unset variable with no
// default expands to the empty string; validation catches required fields
// that end up empty.
//
// Only the ${...} form is recognized. A bare $NAME is left untouched so
// regex patterns and shell snippets survive expansion, and "$$" escapes a
// literal "$".
func ExpandEnv(data []byte) []byte {
	var out strings.Builder
	out.Grow(len(data))

	s := string(data)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '$' {
			out.WriteByte(c)
			continue
		}
		// "$$" → literal "$"
		if i+1 < len(s) && s[i+1] == '$' {
			out.WriteByte('$')
			i++
			continue
		}
		// Only ${...} is expanded.
		if i+1 >= len(s) || s[i+1] != '{' {
			out.WriteByte(c)
			continue
		}
		end := strings.IndexByte(s[i+2:], '}')
		if end < 0 {
			out.WriteString(s[i:])
			break
		}
		ref := s[i+2 : i+2+end]
		i += 2 + end

		name, def := ref, ""
		if idx := strings.IndexByte(ref, ':'); idx >= 0 {
			name, def = ref[:idx], ref[idx+1:]
		}
		if val, ok := os.LookupEnv(name); ok {
			out.WriteString(val)
		} else {
			out.WriteString(def)
		}
	}
	return []byte(out.String())
}
