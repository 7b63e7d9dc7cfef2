package policy

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/maestroproj/maestro/pkg/config"
	"github.com/maestroproj/maestro/pkg/models"
)

// Request is the classified view of a query handed to the evaluators.
// Metadata merges the request's declared metadata with its free-form
// fields, fields winning on conflict.
type Request struct {
	UserID   string
	Category models.ActionCategory
	Metadata map[string]any
}

// Evaluator inspects one request against the user's history and either
// allows it or denies it with a user-facing reason.
type Evaluator interface {
	Name() string
	Evaluate(ctx context.Context, req Request) models.EvaluationResult
}

// TimedRestriction denies blocked categories for a fixed window after a
// triggering action. The denial carries the absolute time at which the
// restriction lifts.
type TimedRestriction struct {
	name    string
	trigger []models.ActionCategory
	blocked []models.ActionCategory
	block   time.Duration
	history *History
	now     func() time.Time
}

// NewTimedRestriction builds the evaluator from its raw config block.
// Required keys: trigger_categories, blocked_categories, block_hours.
func NewTimedRestriction(name string, raw map[string]any, history *History) (*TimedRestriction, error) {
	trigger, err := categoriesKey(raw, "trigger_categories", true)
	if err != nil {
		return nil, evalErr(name, err)
	}
	blocked, err := categoriesKey(raw, "blocked_categories", true)
	if err != nil {
		return nil, evalErr(name, err)
	}
	block, err := hoursKey(raw, "block_hours", true)
	if err != nil {
		return nil, evalErr(name, err)
	}
	if block <= 0 {
		return nil, evalErr(name, fmt.Errorf("%w: block_hours must be positive", config.ErrInvalidValue))
	}
	return &TimedRestriction{
		name:    name,
		trigger: trigger,
		blocked: blocked,
		block:   block,
		history: history,
		now:     time.Now,
	}, nil
}

// Name returns the configured evaluator name.
func (e *TimedRestriction) Name() string { return e.name }

// Evaluate denies when the requested category is blocked and a triggering
// action occurred within the block window.
func (e *TimedRestriction) Evaluate(_ context.Context, req Request) models.EvaluationResult {
	if !containsCategory(e.blocked, req.Category) {
		return models.Allow()
	}

	now := e.now()
	last, ok := e.history.Last(req.UserID, e.trigger...)
	if !ok {
		return models.Allow()
	}
	lift := last.Timestamp.Add(e.block)
	if !now.Before(lift) {
		return models.Allow()
	}

	result := models.Deny(e.name, fmt.Sprintf(
		"%s is temporarily blocked after a recent %s; the restriction lifts at %s",
		req.Category, last.Category, lift.UTC().Format(time.RFC3339)))
	result.RestrictionLiftTime = &lift
	result.Metadata = map[string]any{
		"trigger_category":  string(last.Category),
		"trigger_timestamp": last.Timestamp.UTC().Format(time.RFC3339),
	}
	return result
}

// RateLimit denies when the user has performed too many actions of the
// watched categories inside a sliding window.
type RateLimit struct {
	name       string
	categories []models.ActionCategory // empty watches the requested category
	maxCount   int
	window     time.Duration
	history    *History
	now        func() time.Time
}

// NewRateLimit builds the evaluator from its raw config block. Required
// keys: max_count, window_hours. Optional: categories.
func NewRateLimit(name string, raw map[string]any, history *History) (*RateLimit, error) {
	maxCount, err := intKey(raw, "max_count", true)
	if err != nil {
		return nil, evalErr(name, err)
	}
	if maxCount < 1 {
		return nil, evalErr(name, fmt.Errorf("%w: max_count must be at least 1", config.ErrInvalidValue))
	}
	window, err := hoursKey(raw, "window_hours", true)
	if err != nil {
		return nil, evalErr(name, err)
	}
	if window <= 0 {
		return nil, evalErr(name, fmt.Errorf("%w: window_hours must be positive", config.ErrInvalidValue))
	}
	categories, err := categoriesKey(raw, "categories", false)
	if err != nil {
		return nil, evalErr(name, err)
	}
	return &RateLimit{
		name:       name,
		categories: categories,
		maxCount:   maxCount,
		window:     window,
		history:    history,
		now:        time.Now,
	}, nil
}

// Name returns the configured evaluator name.
func (e *RateLimit) Name() string { return e.name }

// Evaluate denies when the window already holds max_count or more actions.
func (e *RateLimit) Evaluate(_ context.Context, req Request) models.EvaluationResult {
	watched := e.categories
	if len(watched) == 0 {
		watched = []models.ActionCategory{req.Category}
	} else if !containsCategory(watched, req.Category) {
		return models.Allow()
	}

	since := e.now().Add(-e.window)
	count := e.history.CountSince(req.UserID, since, watched...)
	if count < e.maxCount {
		return models.Allow()
	}

	result := models.Deny(e.name, fmt.Sprintf(
		"rate limit exceeded for %s: %d actions in the last %s (limit %d)",
		req.Category, count, e.window, e.maxCount))
	result.Metadata = map[string]any{"count": count, "limit": e.maxCount}
	return result
}

// Threshold denies when a numeric request field exceeds a configured
// maximum. Typical use: blocking transactions above an amount ceiling.
type Threshold struct {
	name       string
	field      string
	maxValue   float64
	categories []models.ActionCategory // empty applies to every category
}

// NewThreshold builds the evaluator from its raw config block. Required
// keys: field, max_value. Optional: categories.
func NewThreshold(name string, raw map[string]any, _ *History) (*Threshold, error) {
	field, err := stringKey(raw, "field", true)
	if err != nil {
		return nil, evalErr(name, err)
	}
	maxValue, err := floatKey(raw, "max_value", true)
	if err != nil {
		return nil, evalErr(name, err)
	}
	categories, err := categoriesKey(raw, "categories", false)
	if err != nil {
		return nil, evalErr(name, err)
	}
	return &Threshold{name: name, field: field, maxValue: maxValue, categories: categories}, nil
}

// Name returns the configured evaluator name.
func (e *Threshold) Name() string { return e.name }

// Evaluate denies when the watched field is numeric and above the maximum.
// Missing or non-numeric fields allow; this evaluator never guesses.
func (e *Threshold) Evaluate(_ context.Context, req Request) models.EvaluationResult {
	if len(e.categories) > 0 && !containsCategory(e.categories, req.Category) {
		return models.Allow()
	}
	value, ok := asNumber(req.Metadata[e.field])
	if !ok || value <= e.maxValue {
		return models.Allow()
	}

	result := models.Deny(e.name, fmt.Sprintf(
		"%s of %s exceeds the allowed maximum of %s",
		e.field, formatNumber(value), formatNumber(e.maxValue)))
	result.Metadata = map[string]any{"field": e.field, "value": value, "max_value": e.maxValue}
	return result
}

// asNumber coerces JSON/YAML numeric shapes to float64.
func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

func formatNumber(v float64) string {
	if v == math.Trunc(v) && math.Abs(v) < 1e15 {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%g", v)
}
