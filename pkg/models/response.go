package models

// AgentResponse is the outcome of one agent invocation, including retries
// and fallback dispatch. Input is the merged, constraint-filtered map the
// agent actually received; it feeds the audit record and is never sent to
// clients.
type AgentResponse struct {
	AgentName       string         `json:"agent_name"`
	Success         bool           `json:"success"`
	Input           map[string]any `json:"-"`
	Data            map[string]any `json:"data,omitempty"`
	Error           string         `json:"error,omitempty"`
	ExecutionTimeMS int64          `json:"execution_time_ms"`
	AttemptCount    int            `json:"attempt_count"`
	FallbackUsed    bool           `json:"fallback_used"`
}

// ErrorKind is the user-visible error classification carried in the
// response body's error.kind field.
type ErrorKind string

const (
	ErrKindSecurity         ErrorKind = "security"
	ErrKindNoAgent          ErrorKind = "no_agent"
	ErrKindPolicyDenied     ErrorKind = "policy_denied"
	ErrKindAgentFailed      ErrorKind = "agent_failed"
	ErrKindValidationFailed ErrorKind = "validation_failed"
	ErrKindTimeout          ErrorKind = "timeout"
	ErrKindInternal         ErrorKind = "internal"
)
