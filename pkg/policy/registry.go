package policy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maestroproj/maestro/pkg/config"
	"github.com/maestroproj/maestro/pkg/models"
)

// CustomConstructor builds a custom evaluator from its raw config block.
// Registered constructors are looked up by the "impl" key of a
// type: custom evaluator entry.
type CustomConstructor func(name string, raw map[string]any, history *History) (Evaluator, error)

// Registry holds the evaluator chain in configured order. Evaluation
// short-circuits on the first denial; disabled entries are skipped at
// construction time.
type Registry struct {
	evaluators []Evaluator
}

// NewRegistry constructs every enabled evaluator from configuration.
// Construction is fail-fast: a single malformed entry aborts startup.
func NewRegistry(cfgs []*config.EvaluatorConfig, history *History, custom map[string]CustomConstructor) (*Registry, error) {
	r := &Registry{}
	for _, cfg := range cfgs {
		if !cfg.IsEnabled() {
			continue
		}

		var (
			ev  Evaluator
			err error
		)
		switch cfg.Type {
		case config.EvaluatorTimedRestriction:
			ev, err = NewTimedRestriction(cfg.Name, cfg.Config, history)
		case config.EvaluatorRateLimit:
			ev, err = NewRateLimit(cfg.Name, cfg.Config, history)
		case config.EvaluatorThreshold:
			ev, err = NewThreshold(cfg.Name, cfg.Config, history)
		case config.EvaluatorCustom:
			ev, err = buildCustom(cfg, history, custom)
		default:
			err = evalErr(cfg.Name, fmt.Errorf("%w: unknown evaluator type %q", config.ErrInvalidValue, cfg.Type))
		}
		if err != nil {
			return nil, err
		}
		r.evaluators = append(r.evaluators, ev)
	}
	return r, nil
}

func buildCustom(cfg *config.EvaluatorConfig, history *History, custom map[string]CustomConstructor) (Evaluator, error) {
	impl, err := stringKey(cfg.Config, "impl", true)
	if err != nil {
		return nil, evalErr(cfg.Name, err)
	}
	ctor, ok := custom[impl]
	if !ok {
		return nil, evalErr(cfg.Name, fmt.Errorf("%w: no custom evaluator registered as %q", config.ErrInvalidValue, impl))
	}
	return ctor(cfg.Name, cfg.Config, history)
}

// Evaluate runs the chain in order and returns the first denial, or an
// allow when every evaluator passes.
func (r *Registry) Evaluate(ctx context.Context, req Request) models.EvaluationResult {
	for _, ev := range r.evaluators {
		result := ev.Evaluate(ctx, req)
		if !result.Allowed {
			slog.Info("Policy denied request",
				"evaluator", ev.Name(),
				"user_id", req.UserID,
				"category", req.Category,
				"reason", result.Reason)
			return result
		}
	}
	return models.Allow()
}

// Names returns the evaluator names in chain order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.evaluators))
	for i, ev := range r.evaluators {
		out[i] = ev.Name()
	}
	return out
}

// Len returns the number of active evaluators.
func (r *Registry) Len() int { return len(r.evaluators) }

// evalErr wraps a construction error with the evaluator's identity.
func evalErr(name string, err error) error {
	return &config.ValidationError{Component: "evaluator", ID: name, Err: err}
}

// Raw config block accessors. Required keys report ErrMissingRequiredField;
// present-but-mistyped values report ErrInvalidValue.

func stringKey(raw map[string]any, key string, required bool) (string, error) {
	v, ok := raw[key]
	if !ok {
		if required {
			return "", fmt.Errorf("%w: %s", config.ErrMissingRequiredField, key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("%w: %s must be a non-empty string", config.ErrInvalidValue, key)
	}
	return s, nil
}

func intKey(raw map[string]any, key string, required bool) (int, error) {
	v, ok := raw[key]
	if !ok {
		if required {
			return 0, fmt.Errorf("%w: %s", config.ErrMissingRequiredField, key)
		}
		return 0, nil
	}
	f, ok := asNumber(v)
	if !ok || f != float64(int(f)) {
		return 0, fmt.Errorf("%w: %s must be an integer", config.ErrInvalidValue, key)
	}
	return int(f), nil
}

func floatKey(raw map[string]any, key string, required bool) (float64, error) {
	v, ok := raw[key]
	if !ok {
		if required {
			return 0, fmt.Errorf("%w: %s", config.ErrMissingRequiredField, key)
		}
		return 0, nil
	}
	f, ok := asNumber(v)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be a number", config.ErrInvalidValue, key)
	}
	return f, nil
}

// hoursKey reads a duration expressed as a number of hours (fractions
// allowed) or a Go duration string.
func hoursKey(raw map[string]any, key string, required bool) (time.Duration, error) {
	v, ok := raw[key]
	if !ok {
		if required {
			return 0, fmt.Errorf("%w: %s", config.ErrMissingRequiredField, key)
		}
		return 0, nil
	}
	if f, ok := asNumber(v); ok {
		return time.Duration(f * float64(time.Hour)), nil
	}
	if s, ok := v.(string); ok {
		d, err := time.ParseDuration(s)
		if err == nil {
			return d, nil
		}
	}
	return 0, fmt.Errorf("%w: %s must be hours or a duration string", config.ErrInvalidValue, key)
}

func categoriesKey(raw map[string]any, key string, required bool) ([]models.ActionCategory, error) {
	v, ok := raw[key]
	if !ok {
		if required {
			return nil, fmt.Errorf("%w: %s", config.ErrMissingRequiredField, key)
		}
		return nil, nil
	}
	list, ok := v.([]any)
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("%w: %s must be a non-empty list", config.ErrInvalidValue, key)
	}
	out := make([]models.ActionCategory, 0, len(list))
	for _, item := range list {
		s, ok := item.(string)
		if !ok || !models.ValidCategory(s) {
			return nil, fmt.Errorf("%w: %s contains unknown category %v", config.ErrInvalidValue, key, item)
		}
		out = append(out, models.ActionCategory(s))
	}
	return out, nil
}
