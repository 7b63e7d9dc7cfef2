package orchestrator

import (
	"fmt"
	"regexp"

	"github.com/maestroproj/maestro/pkg/models"
)

// injectionSignatures are the pre-dispatch rejection patterns: SQL
// injection, shell command injection, and path traversal. Matching any
// signature rejects the request before selection runs.
var injectionSignatures = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(union\s+select|drop\s+table|insert\s+into|delete\s+from|truncate\s+table)\b`),
	regexp.MustCompile(`(?i)('|")\s*(or|and)\s+\d+\s*=\s*\d+`),
	regexp.MustCompile(`(?i)(;|\|\||&&|\n)\s*(rm|curl|wget|chmod|mkfifo|nc|bash|sh)\b`),
	regexp.MustCompile("`[^`]+`|\\$\\("),
	regexp.MustCompile(`\.\./`),
	regexp.MustCompile(`(?i)<\s*script\b`),
}

// sanitize checks the query and every string reachable through the
// request's fields and metadata against the injection signatures. The
// returned error is user-safe.
func sanitize(req *models.QueryRequest) error {
	if err := scanText("query", req.Query); err != nil {
		return err
	}
	for key, value := range req.Fields {
		if err := scanValue(key, value); err != nil {
			return err
		}
	}
	for key, value := range req.Metadata {
		if err := scanValue("metadata."+key, value); err != nil {
			return err
		}
	}
	return nil
}

// scanValue walks nested maps and lists so a string buried inside a
// structured payload cannot bypass the signatures.
func scanValue(field string, value any) error {
	switch t := value.(type) {
	case string:
		return scanText(field, t)
	case map[string]any:
		for k, v := range t {
			if err := scanValue(field+"."+k, v); err != nil {
				return err
			}
		}
	case []any:
		for _, v := range t {
			if err := scanValue(field, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func scanText(field, text string) error {
	for _, sig := range injectionSignatures {
		if sig.MatchString(text) {
			return fmt.Errorf("field %q contains a disallowed pattern", field)
		}
	}
	return nil
}
