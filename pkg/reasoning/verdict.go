// Package reasoning hosts the AI-assisted side of agent selection: a thin
// client over an external text-generation service and the hybrid reasoner
// that combines it with the rule engine into a final selection plan.
package reasoning

import (
	"encoding/json"
	"strings"
)

// Verdict is the parsed judgment of the reasoning service about a
// candidate selection. Parameters carries per-agent input overrides
// extracted from the query in the same call.
type Verdict struct {
	IsValid         bool                      `json:"is_valid"`
	Confidence      float64                   `json:"confidence"`
	Reasoning       string                    `json:"reasoning,omitempty"`
	SuggestedAgents []string                  `json:"suggested_agents,omitempty"`
	Parameters      map[string]map[string]any `json:"parameters,omitempty"`
}

// rawVerdict uses pointer fields so missing contract keys are detectable.
type rawVerdict struct {
	IsValid         *bool                     `json:"is_valid"`
	Confidence      *float64                  `json:"confidence"`
	Reasoning       string                    `json:"reasoning"`
	SuggestedAgents []string                  `json:"suggested_agents"`
	Parameters      map[string]map[string]any `json:"parameters"`
}

// ParseVerdict extracts a Verdict from a model reply. Replies are expected
// to be a single JSON object, possibly wrapped in prose or a code fence.
// A reply that cannot be parsed, or that omits the contract fields, yields
// a not-valid zero-confidence verdict rather than an error.
func ParseVerdict(reply string) *Verdict {
	text := extractJSON(reply)
	if text == "" {
		return &Verdict{Reasoning: "unparseable reasoning reply"}
	}

	var raw rawVerdict
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return &Verdict{Reasoning: "unparseable reasoning reply"}
	}
	if raw.IsValid == nil || raw.Confidence == nil {
		return &Verdict{Reasoning: "reasoning reply missing contract fields"}
	}

	v := &Verdict{
		IsValid:         *raw.IsValid,
		Confidence:      clamp01(*raw.Confidence),
		Reasoning:       raw.Reasoning,
		SuggestedAgents: raw.SuggestedAgents,
		Parameters:      raw.Parameters,
	}
	return v
}

// extractJSON returns the outermost {...} span of text, tolerating prose
// and markdown fences around it.
func extractJSON(text string) string {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
