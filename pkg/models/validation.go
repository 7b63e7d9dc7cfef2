package models

// AgentValidation is the per-agent slice of a validation report.
type AgentValidation struct {
	SchemaPass bool     `json:"schema_pass"`
	Issues     []string `json:"issues,omitempty"`
}

// ValidationReport is the outcome of the three-phase response validation.
// ConfidenceScore is internal only and must never appear in a client
// response body; it is persisted in the query log.
type ValidationReport struct {
	IsValid               bool                       `json:"is_valid"`
	ConfidenceScore       float64                    `json:"confidence_score"`
	HallucinationDetected bool                       `json:"hallucination_detected"`
	PerAgent              map[string]AgentValidation `json:"per_agent,omitempty"`
	ConsistencyIssues     []string                   `json:"consistency_issues,omitempty"`
	OverallIssues         []string                   `json:"overall_issues,omitempty"`
}

// Issues flattens every recorded issue for the query log.
func (r *ValidationReport) Issues() []string {
	var out []string
	for name, av := range r.PerAgent {
		for _, issue := range av.Issues {
			out = append(out, name+": "+issue)
		}
	}
	out = append(out, r.ConsistencyIssues...)
	out = append(out, r.OverallIssues...)
	return out
}

// SchemaFailed reports whether any agent failed schema validation.
func (r *ValidationReport) SchemaFailed() bool {
	for _, av := range r.PerAgent {
		if !av.SchemaPass {
			return true
		}
	}
	return false
}
