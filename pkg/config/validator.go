package config

import (
	"fmt"
	"regexp"

	"github.com/maestroproj/maestro/pkg/models"
)

// validate performs comprehensive validation (fail-fast, first error wins).
// Order: settings → agents → rules → evaluators, so cross-references are
// checked after the referenced components.
func validate(cfg *Config) error {
	if err := validateSettings(cfg.Settings); err != nil {
		return err
	}
	if err := validateAgents(cfg); err != nil {
		return err
	}
	if err := validateRules(cfg); err != nil {
		return err
	}
	if err := validateEvaluators(cfg); err != nil {
		return err
	}
	return nil
}

func validateSettings(s *Settings) error {
	switch s.ReasoningMode {
	case ReasoningModeRules, ReasoningModeAI, ReasoningModeHybrid:
	default:
		return NewValidationError("settings", "maestro", "reasoning_mode",
			fmt.Errorf("%w: %q", ErrInvalidValue, s.ReasoningMode))
	}
	for field, v := range map[string]float64{
		"rule_confidence_threshold":       s.RuleConfidenceThreshold,
		"ai_override_min":                 s.AIOverrideMin,
		"validation_confidence_threshold": s.ValidationConfidenceThreshold,
	} {
		if v < 0 || v > 1 {
			return NewValidationError("settings", "maestro", field,
				fmt.Errorf("%w: must be in [0,1], got %v", ErrInvalidValue, v))
		}
	}
	if s.ValidationMaxRetries < 0 {
		return NewValidationError("settings", "maestro", "validation_max_retries",
			fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
	}
	if s.MaxParallelAgents < 1 {
		return NewValidationError("settings", "maestro", "max_parallel_agents",
			fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if s.Retry.ExponentialBase < 1 {
		return NewValidationError("settings", "maestro", "retry.exponential_base",
			fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	if s.Breaker.FailureThreshold < 1 {
		return NewValidationError("settings", "maestro", "circuit_breaker.failure_threshold",
			fmt.Errorf("%w: must be >= 1", ErrInvalidValue))
	}
	for category := range s.Categories {
		if !models.ValidCategory(category) {
			return NewValidationError("settings", "maestro", "categories",
				fmt.Errorf("%w: unknown category %q", ErrInvalidValue, category))
		}
	}
	return nil
}

func validateAgents(cfg *Config) error {
	for name, desc := range cfg.Agents {
		if name == "" {
			return NewValidationError("agent", "(empty)", "name", ErrMissingRequiredField)
		}
		if len(desc.Capabilities) == 0 {
			return NewValidationError("agent", name, "capabilities",
				fmt.Errorf("%w: at least one capability required", ErrMissingRequiredField))
		}
		for _, cap := range desc.Capabilities {
			if cap == "" {
				return NewValidationError("agent", name, "capabilities",
					fmt.Errorf("%w: empty capability tag", ErrInvalidValue))
			}
		}
		if desc.FallbackName != "" {
			if desc.FallbackName == name {
				return NewValidationError("agent", name, "fallback",
					fmt.Errorf("%w: agent cannot be its own fallback", ErrInvalidValue))
			}
			if _, ok := cfg.Agents[desc.FallbackName]; !ok {
				return NewValidationError("agent", name, "fallback",
					fmt.Errorf("%w: %s", ErrAgentNotFound, desc.FallbackName))
			}
		}
		if desc.OutputSchemaName != "" && !cfg.Schemas.Has(desc.OutputSchemaName) {
			return NewValidationError("agent", name, "output_schema",
				fmt.Errorf("%w: %s", ErrSchemaNotFound, desc.OutputSchemaName))
		}
		if desc.Constraints.MaxRetries != nil && *desc.Constraints.MaxRetries < 0 {
			return NewValidationError("agent", name, "constraints.max_retries",
				fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
		}
		if desc.Constraints.RateLimitPerMinute < 0 {
			return NewValidationError("agent", name, "constraints.rate_limit_per_minute",
				fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
		}
	}
	return checkFallbackCycles(cfg.Agents)
}

// checkFallbackCycles runs a DFS over fallback name references. Fallbacks
// are stored as names and resolved at dispatch time; a cycle would make
// retry exhaustion loop forever, so it is rejected at load.
func checkFallbackCycles(agents map[string]*AgentDescriptor) error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[string]int, len(agents))

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visiting:
			return NewValidationError("agent", name, "fallback", ErrFallbackCycle)
		case done:
			return nil
		}
		state[name] = visiting
		if desc, ok := agents[name]; ok && desc.FallbackName != "" {
			if err := visit(desc.FallbackName); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}

	for name := range agents {
		if err := visit(name); err != nil {
			return err
		}
	}
	return nil
}

func validateRules(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Rules))
	for _, rule := range cfg.Rules {
		if rule.Name == "" {
			return NewValidationError("rule", "(empty)", "name", ErrMissingRequiredField)
		}
		if seen[rule.Name] {
			return NewValidationError("rule", rule.Name, "name",
				fmt.Errorf("%w: duplicate rule name", ErrInvalidValue))
		}
		seen[rule.Name] = true

		if rule.Confidence < 0 || rule.Confidence > 1 {
			return NewValidationError("rule", rule.Name, "confidence",
				fmt.Errorf("%w: must be in [0,1], got %v", ErrInvalidValue, rule.Confidence))
		}
		if len(rule.TargetAgents) == 0 {
			return NewValidationError("rule", rule.Name, "target_agents",
				fmt.Errorf("%w: at least one target agent required", ErrMissingRequiredField))
		}
		for _, target := range rule.TargetAgents {
			if _, ok := cfg.Agents[target]; !ok {
				return NewValidationError("rule", rule.Name, "target_agents",
					fmt.Errorf("%w: %s", ErrAgentNotFound, target))
			}
		}
		if len(rule.Conditions) == 0 {
			return NewValidationError("rule", rule.Name, "conditions",
				fmt.Errorf("%w: at least one condition required", ErrMissingRequiredField))
		}
		for i, cond := range rule.Conditions {
			if err := validateCondition(rule.Name, i, cond); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateCondition(ruleName string, idx int, cond ConditionConfig) error {
	field := fmt.Sprintf("conditions[%d]", idx)
	if cond.Field == "" {
		return NewValidationError("rule", ruleName, field,
			fmt.Errorf("%w: condition field", ErrMissingRequiredField))
	}
	switch cond.Type {
	case ConditionKeyword, ConditionFieldEquals:
		if cond.Value == "" {
			return NewValidationError("rule", ruleName, field,
				fmt.Errorf("%w: condition value", ErrMissingRequiredField))
		}
	case ConditionFieldExists:
	case ConditionFieldRegex:
		if cond.Pattern == "" {
			return NewValidationError("rule", ruleName, field,
				fmt.Errorf("%w: condition pattern", ErrMissingRequiredField))
		}
		if _, err := regexp.Compile(cond.Pattern); err != nil {
			return NewValidationError("rule", ruleName, field,
				fmt.Errorf("%w: invalid regex: %v", ErrInvalidValue, err))
		}
	default:
		return NewValidationError("rule", ruleName, field,
			fmt.Errorf("%w: unknown condition type %q", ErrInvalidValue, cond.Type))
	}
	return nil
}

func validateEvaluators(cfg *Config) error {
	seen := make(map[string]bool, len(cfg.Evaluators))
	for _, ev := range cfg.Evaluators {
		if ev.Name == "" {
			return NewValidationError("evaluator", "(empty)", "name", ErrMissingRequiredField)
		}
		if seen[ev.Name] {
			return NewValidationError("evaluator", ev.Name, "name",
				fmt.Errorf("%w: duplicate evaluator name", ErrInvalidValue))
		}
		seen[ev.Name] = true

		switch ev.Type {
		case EvaluatorTimedRestriction, EvaluatorRateLimit, EvaluatorThreshold, EvaluatorCustom:
		default:
			return NewValidationError("evaluator", ev.Name, "type",
				fmt.Errorf("%w: unknown evaluator type %q", ErrInvalidValue, ev.Type))
		}
	}
	return nil
}
