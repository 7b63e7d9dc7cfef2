package models

// SelectionMethod identifies how a selection plan was derived.
type SelectionMethod string

const (
	MethodRule               SelectionMethod = "rule"
	MethodRuleValidated      SelectionMethod = "rule_validated"
	MethodRuleMultiValidated SelectionMethod = "rule_multi_validated"
	MethodAIOverride         SelectionMethod = "ai_override"
	MethodAI                 SelectionMethod = "ai"
	MethodHybrid             SelectionMethod = "hybrid"
	MethodNone               SelectionMethod = "none"
)

// RuleMatch is a single rule-engine hit, kept for audit logging.
type RuleMatch struct {
	RuleName     string   `json:"rule_name"`
	TargetAgents []string `json:"target_agents"`
	Confidence   float64  `json:"confidence"`
	Priority     int      `json:"priority"`
}

// SelectionPlan is the final routing decision produced by the hybrid
// reasoner: which agents run, in what mode, with what per-agent overrides.
type SelectionPlan struct {
	Agents     []string                  `json:"agents"`
	Parallel   bool                      `json:"parallel"`
	Confidence float64                   `json:"confidence"`
	Method     SelectionMethod           `json:"method"`
	Reasoning  string                    `json:"reasoning"`
	Parameters map[string]map[string]any `json:"parameters,omitempty"`

	// RuleMatches and AIVerdict preserve the raw decision inputs for the
	// query log; they are never sent to clients.
	RuleMatches []RuleMatch    `json:"rule_matches,omitempty"`
	AIVerdict   map[string]any `json:"ai_verdict,omitempty"`
}

// None reports whether the plan selected no agent at all.
func (p *SelectionPlan) None() bool {
	return p == nil || p.Method == MethodNone || len(p.Agents) == 0
}

// ParametersFor returns the per-agent parameter overrides, never nil.
func (p *SelectionPlan) ParametersFor(agent string) map[string]any {
	if p == nil || p.Parameters == nil {
		return map[string]any{}
	}
	if params, ok := p.Parameters[agent]; ok {
		return params
	}
	return map[string]any{}
}
