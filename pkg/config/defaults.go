package config

import "time"

// Default tunables. User configuration overrides these per-field.
const (
	DefaultRuleConfidenceThreshold       = 0.7
	DefaultAIOverrideMin                 = 0.5
	DefaultValidationConfidenceThreshold = 0.7
	DefaultValidationMaxRetries          = 2
	DefaultMaxParallelAgents             = 5
	DefaultMaxRequestBytes               = 64 * 1024
	DefaultBreakerFailureThreshold       = 5
	DefaultRetryMaxRetries               = 2
	DefaultAuditQueueSize                = 256
	DefaultAuditMaxFiles                 = 10000
	DefaultHistoryMaxPerUser             = 1000
)

// DefaultSettings returns the baseline settings merged under user config.
func DefaultSettings() *Settings {
	return &Settings{
		ReasoningMode:                 ReasoningModeHybrid,
		RuleConfidenceThreshold:       DefaultRuleConfidenceThreshold,
		AIOverrideMin:                 DefaultAIOverrideMin,
		ValidationConfidenceThreshold: DefaultValidationConfidenceThreshold,
		ValidationMaxRetries:          DefaultValidationMaxRetries,
		MaxParallelAgents:             DefaultMaxParallelAgents,
		DefaultTimeout:                Duration(30 * time.Second),
		RequestTimeout:                Duration(2 * time.Minute),
		MaxRequestBytes:               DefaultMaxRequestBytes,
		Retry: RetryDefaults{
			MaxRetries:      DefaultRetryMaxRetries,
			InitialDelay:    Duration(500 * time.Millisecond),
			MaxDelay:        Duration(10 * time.Second),
			ExponentialBase: 2.0,
		},
		Breaker: BreakerSettings{
			FailureThreshold: DefaultBreakerFailureThreshold,
			CoolDown:         Duration(30 * time.Second),
		},
		Reasoning: ReasoningProviderConfig{
			Timeout:    Duration(15 * time.Second),
			MaxRetries: 1,
		},
		Audit: AuditSettings{
			Dir:       "./data/querylogs",
			QueueSize: DefaultAuditQueueSize,
			MaxFiles:  DefaultAuditMaxFiles,
		},
		History: HistorySettings{
			MaxActionsPerUser: DefaultHistoryMaxPerUser,
			MaxAge:            Duration(30 * 24 * time.Hour),
		},
	}
}
