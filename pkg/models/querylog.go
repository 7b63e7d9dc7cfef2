package models

import "time"

// PolicyRecord is the policy section of a query log record.
type PolicyRecord struct {
	Allowed             bool       `json:"allowed"`
	Evaluator           string     `json:"evaluator,omitempty"`
	Reason              string     `json:"reason,omitempty"`
	RestrictionLiftTime *time.Time `json:"restriction_lift_time,omitempty"`
}

// ReasoningRecord is the selection section of a query log record.
type ReasoningRecord struct {
	Method         SelectionMethod `json:"method"`
	SelectedAgents []string        `json:"selected_agents"`
	Confidence     float64         `json:"confidence"`
	Reasoning      string          `json:"reasoning,omitempty"`
	RuleMatches    []RuleMatch     `json:"rule_matches,omitempty"`
	AIVerdict      map[string]any  `json:"ai_verdict,omitempty"`
}

// AgentInteraction records one agent invocation: exact input, output,
// timing, and retry/fallback accounting.
type AgentInteraction struct {
	AgentName       string         `json:"agent_name"`
	Input           map[string]any `json:"input"`
	Output          map[string]any `json:"output,omitempty"`
	Success         bool           `json:"success"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
	Attempts        int            `json:"attempts"`
	FallbackUsed    bool           `json:"fallback_used"`
	Error           string         `json:"error,omitempty"`
}

// ValidationRecord is the validation section of a query log record.
type ValidationRecord struct {
	IsValid               bool                       `json:"is_valid"`
	ConfidenceScore       float64                    `json:"confidence_score"`
	HallucinationDetected bool                       `json:"hallucination_detected"`
	PerAgent              map[string]AgentValidation `json:"per_agent,omitempty"`
	Issues                []string                   `json:"issues,omitempty"`
}

// RetryAttempt records one pipeline-level re-execution (validation retry).
type RetryAttempt struct {
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"ts"`
}

// TimingRecord breaks the request duration into pipeline phases.
type TimingRecord struct {
	TotalDurationMS int64            `json:"total_duration_ms"`
	Phases          map[string]int64 `json:"phases,omitempty"`
}

// QueryLogRecord is the complete per-request audit record. One record is
// materialized per request and handed to the audit writer before the
// response is sent. The input echo must be redacted before writing.
type QueryLogRecord struct {
	QueryID           string             `json:"query_id"`
	Timestamp         time.Time          `json:"timestamp"`
	UserQuery         map[string]any     `json:"user_query"`
	UserID            string             `json:"user_id"`
	ActionCategory    ActionCategory     `json:"action_category"`
	Policy            *PolicyRecord      `json:"policy,omitempty"`
	Reasoning         *ReasoningRecord   `json:"reasoning,omitempty"`
	AgentInteractions []AgentInteraction `json:"agent_interactions,omitempty"`
	Validation        *ValidationRecord  `json:"validation,omitempty"`
	RetryAttempts     []RetryAttempt     `json:"retry_attempts,omitempty"`
	Timing            TimingRecord       `json:"timing"`
	Cancelled         bool               `json:"cancelled,omitempty"`
	ErrorKind         ErrorKind          `json:"error_kind,omitempty"`
	ErrorMessage      string             `json:"error_message,omitempty"`
}
