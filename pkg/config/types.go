// Package config provides configuration management for the Maestro
// orchestrator: agent descriptors, routing rules, policy evaluators,
// orchestrator settings, and the output-schema catalogue.
package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML can carry values like "30s" or "2m".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string (or a bare integer of seconds).
// The int form is checked first: a YAML int scalar also decodes into a
// string, which ParseDuration would then reject for its missing unit.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var secs int64
	if err := value.Decode(&secs); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	return fmt.Errorf("invalid duration value at line %d", value.Line)
}

// MarshalYAML renders the duration in Go syntax.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// BoolPtr returns a pointer to b. Convenience for *bool struct fields.
func BoolPtr(b bool) *bool { return &b }

// RoleConfig constrains what an agent may be asked to do.
type RoleConfig struct {
	AllowedOperations []string       `yaml:"allowed_operations,omitempty"`
	DeniedOperations  []string       `yaml:"denied_operations,omitempty"`
	MaxExecutionTime  Duration       `yaml:"max_execution_time,omitempty"`
	RequireApproval   bool           `yaml:"require_approval,omitempty"`
	Guardrails        map[string]any `yaml:"guardrails,omitempty"`
}

// ConstraintsConfig carries per-agent execution constraints. Zero values
// fall through to the orchestrator defaults.
type ConstraintsConfig struct {
	MaxRetries         *int     `yaml:"max_retries,omitempty"`
	Timeout            Duration `yaml:"timeout,omitempty"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute,omitempty"`
	AllowedInputFields []string `yaml:"allowed_input_fields,omitempty"`
	DeniedInputFields  []string `yaml:"denied_input_fields,omitempty"`
	SanitizeOutput     bool     `yaml:"sanitize_output,omitempty"`
}

// AgentDescriptor describes one registered agent. Immutable once loaded.
// The map key in agents.yaml supplies Name.
type AgentDescriptor struct {
	Name             string            `yaml:"-"`
	Capabilities     []string          `yaml:"capabilities"`
	Description      string            `yaml:"description,omitempty"`
	Endpoint         string            `yaml:"endpoint,omitempty"`
	Role             RoleConfig        `yaml:"role,omitempty"`
	Constraints      ConstraintsConfig `yaml:"constraints,omitempty"`
	FallbackName     string            `yaml:"fallback,omitempty"`
	OutputSchemaName string            `yaml:"output_schema,omitempty"`
	Enabled          *bool             `yaml:"enabled,omitempty"`
}

// IsEnabled treats a missing enabled flag as true.
func (d *AgentDescriptor) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// Condition types understood by the rule engine.
const (
	ConditionKeyword     = "keyword"
	ConditionFieldExists = "field_exists"
	ConditionFieldEquals = "field_equals"
	ConditionFieldRegex  = "field_regex"
)

// ConditionConfig is one condition atom inside a rule. All atoms of a rule
// must match (conjunction).
type ConditionConfig struct {
	Type    string `yaml:"type"`
	Field   string `yaml:"field"`
	Value   string `yaml:"value,omitempty"`
	Pattern string `yaml:"pattern,omitempty"`
}

// RuleConfig is one declarative routing rule.
type RuleConfig struct {
	Name         string            `yaml:"name"`
	Priority     int               `yaml:"priority"`
	Confidence   float64           `yaml:"confidence"`
	Conditions   []ConditionConfig `yaml:"conditions"`
	TargetAgents []string          `yaml:"target_agents"`
}

// Evaluator types understood by the policy layer. "custom" evaluators are
// resolved through the custom-evaluator registry at construction time.
const (
	EvaluatorTimedRestriction = "timed_restriction"
	EvaluatorRateLimit        = "rate_limit"
	EvaluatorThreshold        = "threshold"
	EvaluatorCustom           = "custom"
)

// EvaluatorConfig is one policy evaluator entry, in declared order.
type EvaluatorConfig struct {
	Type    string         `yaml:"type"`
	Name    string         `yaml:"name"`
	Enabled *bool          `yaml:"enabled,omitempty"`
	Config  map[string]any `yaml:"config,omitempty"`
}

// IsEnabled treats a missing enabled flag as true.
func (e *EvaluatorConfig) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// RetryDefaults configures the retry core when an agent descriptor does not
// override them.
type RetryDefaults struct {
	MaxRetries      int      `yaml:"max_retries"`
	InitialDelay    Duration `yaml:"initial_delay"`
	MaxDelay        Duration `yaml:"max_delay"`
	ExponentialBase float64  `yaml:"exponential_base"`
}

// BreakerSettings configures the per-agent circuit breaker.
type BreakerSettings struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	CoolDown         Duration `yaml:"cool_down"`
}

// ReasoningProviderConfig points at the external text-generation service
// consumed by the reasoning client.
type ReasoningProviderConfig struct {
	BaseURL    string   `yaml:"base_url"`
	APIKey     string   `yaml:"api_key,omitempty"`
	Model      string   `yaml:"model,omitempty"`
	Timeout    Duration `yaml:"timeout,omitempty"`
	MaxRetries int      `yaml:"max_retries,omitempty"`
}

// AuditSettings configures the query log writer.
type AuditSettings struct {
	Dir       string `yaml:"dir"`
	QueueSize int    `yaml:"queue_size,omitempty"`
	MaxFiles  int    `yaml:"max_files,omitempty"`
}

// HistorySettings bounds the in-memory action history.
type HistorySettings struct {
	MaxActionsPerUser int      `yaml:"max_actions_per_user,omitempty"`
	MaxAge            Duration `yaml:"max_age,omitempty"`
}

// Reasoning modes.
const (
	ReasoningModeRules  = "rules"
	ReasoningModeAI     = "ai"
	ReasoningModeHybrid = "hybrid"
)

// Settings groups the orchestrator-wide tunables from maestro.yaml.
type Settings struct {
	ReasoningMode                 string                  `yaml:"reasoning_mode,omitempty"`
	RuleConfidenceThreshold       float64                 `yaml:"rule_confidence_threshold,omitempty"`
	AIOverrideMin                 float64                 `yaml:"ai_override_min,omitempty"`
	ValidationConfidenceThreshold float64                 `yaml:"validation_confidence_threshold,omitempty"`
	ValidationMaxRetries          int                     `yaml:"validation_max_retries,omitempty"`
	MaxParallelAgents             int                     `yaml:"max_parallel_agents,omitempty"`
	DefaultTimeout                Duration                `yaml:"default_timeout,omitempty"`
	RequestTimeout                Duration                `yaml:"request_timeout,omitempty"`
	MaxRequestBytes               int                     `yaml:"max_request_bytes,omitempty"`
	Retry                         RetryDefaults           `yaml:"retry,omitempty"`
	Breaker                       BreakerSettings         `yaml:"circuit_breaker,omitempty"`
	Reasoning                     ReasoningProviderConfig `yaml:"reasoning_provider,omitempty"`
	Audit                         AuditSettings           `yaml:"audit,omitempty"`
	History                       HistorySettings         `yaml:"history,omitempty"`
	AuthToken                     string                  `yaml:"auth_token,omitempty"`
	Categories                    map[string][]string     `yaml:"categories,omitempty"`
}

// Config is the fully-loaded, validated configuration.
type Config struct {
	Settings   *Settings
	Agents     map[string]*AgentDescriptor
	Rules      []*RuleConfig
	Evaluators []*EvaluatorConfig
	Schemas    *SchemaCatalogue
}

// Stats summarizes the loaded configuration for the startup log line.
type Stats struct {
	Agents     int
	Rules      int
	Evaluators int
	Schemas    int
}

// Stats returns counts of loaded components.
func (c *Config) Stats() Stats {
	return Stats{
		Agents:     len(c.Agents),
		Rules:      len(c.Rules),
		Evaluators: len(c.Evaluators),
		Schemas:    c.Schemas.Len(),
	}
}

// Agent returns the descriptor for name, or ErrAgentNotFound.
func (c *Config) Agent(name string) (*AgentDescriptor, error) {
	if d, ok := c.Agents[name]; ok {
		return d, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
}
