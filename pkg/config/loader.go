package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// File names expected under the configuration directory.
const (
	SettingsFile   = "maestro.yaml"
	AgentsFile     = "agents.yaml"
	RulesFile      = "rules.yaml"
	EvaluatorsFile = "evaluators.yaml"
	SchemasDir     = "schemas"
)

// agentsYAML is the top-level structure of agents.yaml.
type agentsYAML struct {
	Agents map[string]*AgentDescriptor `yaml:"agents"`
}

// rulesYAML is the top-level structure of rules.yaml.
type rulesYAML struct {
	Rules []*RuleConfig `yaml:"rules"`
}

// evaluatorsYAML is the top-level structure of evaluators.yaml.
type evaluatorsYAML struct {
	Evaluators []*EvaluatorConfig `yaml:"evaluators"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load YAML files from configDir
//  2. Expand environment variables (${NAME} / ${NAME:default})
//  3. Parse YAML into structs
//  4. Merge defaults under user-provided settings
//  5. Normalize (lowercase capability tags, fill descriptor names)
//  6. Compile the output-schema catalogue
//  7. Validate everything
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"agents", stats.Agents,
		"rules", stats.Rules,
		"evaluators", stats.Evaluators,
		"schemas", stats.Schemas)

	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	settings, err := loadSettings(filepath.Join(configDir, SettingsFile))
	if err != nil {
		return nil, err
	}

	var agents agentsYAML
	if err := loadYAMLFile(filepath.Join(configDir, AgentsFile), &agents, true); err != nil {
		return nil, err
	}

	var rules rulesYAML
	if err := loadYAMLFile(filepath.Join(configDir, RulesFile), &rules, false); err != nil {
		return nil, err
	}

	var evaluators evaluatorsYAML
	if err := loadYAMLFile(filepath.Join(configDir, EvaluatorsFile), &evaluators, false); err != nil {
		return nil, err
	}

	schemas, err := LoadSchemaCatalogue(filepath.Join(configDir, SchemasDir))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Settings:   settings,
		Agents:     agents.Agents,
		Rules:      rules.Rules,
		Evaluators: evaluators.Evaluators,
		Schemas:    schemas,
	}
	if cfg.Agents == nil {
		cfg.Agents = make(map[string]*AgentDescriptor)
	}
	normalize(cfg)
	return cfg, nil
}

// loadSettings reads maestro.yaml and merges the built-in defaults under
// the user's values. mergo cannot tell an absent field from an explicit
// zero, so the raw document is kept as a presence map and explicitly-set
// fields whose zero value is legal are restored after the merge.
func loadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewLoadError(path, ErrConfigNotFound)
		}
		return nil, NewLoadError(path, err)
	}
	expanded := ExpandEnv(data)

	settings := &Settings{}
	if err := yaml.Unmarshal(expanded, settings); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}
	var raw map[string]any
	if err := yaml.Unmarshal(expanded, &raw); err != nil {
		return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}

	user := *settings
	if err := mergo.Merge(settings, DefaultSettings()); err != nil {
		return nil, fmt.Errorf("failed to merge default settings: %w", err)
	}
	restoreExplicitZeros(settings, &user, raw)
	return settings, nil
}

// restoreExplicitZeros re-applies user values for the settings whose zero
// is accepted by validation but has a non-zero default. Only fields present
// in the document are touched; non-zero user values are unchanged by the
// re-application.
func restoreExplicitZeros(settings, user *Settings, raw map[string]any) {
	if _, ok := raw["rule_confidence_threshold"]; ok {
		settings.RuleConfidenceThreshold = user.RuleConfidenceThreshold
	}
	if _, ok := raw["ai_override_min"]; ok {
		settings.AIOverrideMin = user.AIOverrideMin
	}
	if _, ok := raw["validation_confidence_threshold"]; ok {
		settings.ValidationConfidenceThreshold = user.ValidationConfidenceThreshold
	}
	if _, ok := raw["validation_max_retries"]; ok {
		settings.ValidationMaxRetries = user.ValidationMaxRetries
	}
	if retry, ok := raw["retry"].(map[string]any); ok {
		if _, ok := retry["max_retries"]; ok {
			settings.Retry.MaxRetries = user.Retry.MaxRetries
		}
	}
	if provider, ok := raw["reasoning_provider"].(map[string]any); ok {
		if _, ok := provider["max_retries"]; ok {
			settings.Reasoning.MaxRetries = user.Reasoning.MaxRetries
		}
	}
}

// loadYAMLFile reads, env-expands, and parses one YAML file into out.
// When required is false a missing file is not an error.
func loadYAMLFile(path string, out any, required bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !required {
			return nil
		}
		if os.IsNotExist(err) {
			return NewLoadError(path, ErrConfigNotFound)
		}
		return NewLoadError(path, err)
	}

	expanded := ExpandEnv(data)
	if err := yaml.Unmarshal(expanded, out); err != nil {
		return NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
	}
	return nil
}

// normalize fills descriptor names from map keys and lowercases capability
// tags; selection matches capabilities case-insensitively by contract.
func normalize(cfg *Config) {
	for name, desc := range cfg.Agents {
		desc.Name = name
		for i, cap := range desc.Capabilities {
			desc.Capabilities[i] = strings.ToLower(strings.TrimSpace(cap))
		}
	}
}
