package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestroproj/maestro/pkg/config"
	"github.com/maestroproj/maestro/pkg/models"
)

func thresholdConfig(name string, maxValue float64) *config.EvaluatorConfig {
	return &config.EvaluatorConfig{
		Type: config.EvaluatorThreshold,
		Name: name,
		Config: map[string]any{
			"field":     "amount",
			"max_value": maxValue,
		},
	}
}

func TestNewRegistryBuildsChainInOrder(t *testing.T) {
	h, _ := newTestHistory(t, 10, 0)
	disabled := false

	r, err := NewRegistry([]*config.EvaluatorConfig{
		{
			Type: config.EvaluatorTimedRestriction,
			Name: "address-block",
			Config: map[string]any{
				"trigger_categories": []any{"address_change"},
				"blocked_categories": []any{"card_order"},
				"block_hours":        24,
			},
		},
		{
			Type:    config.EvaluatorRateLimit,
			Name:    "disabled-cap",
			Enabled: &disabled,
			Config:  map[string]any{"max_count": 1, "window_hours": 1},
		},
		thresholdConfig("amount-cap", 10000),
	}, h, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"address-block", "amount-cap"}, r.Names(), "disabled entries skipped")
}

func TestNewRegistryFailFast(t *testing.T) {
	h, _ := newTestHistory(t, 10, 0)

	t.Run("malformed entry", func(t *testing.T) {
		_, err := NewRegistry([]*config.EvaluatorConfig{
			{Type: config.EvaluatorRateLimit, Name: "broken", Config: map[string]any{"window_hours": 1}},
		}, h, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, config.ErrMissingRequiredField)

		var verr *config.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "broken", verr.ID)
	})

	t.Run("unknown type", func(t *testing.T) {
		_, err := NewRegistry([]*config.EvaluatorConfig{
			{Type: "fortune_teller", Name: "mystic"},
		}, h, nil)
		assert.ErrorIs(t, err, config.ErrInvalidValue)
	})
}

func TestEvaluateFirstDenialWins(t *testing.T) {
	h, _ := newTestHistory(t, 10, 0)

	r, err := NewRegistry([]*config.EvaluatorConfig{
		thresholdConfig("first-cap", 100),
		thresholdConfig("second-cap", 50),
	}, h, nil)
	require.NoError(t, err)

	result := r.Evaluate(context.Background(), Request{
		UserID:   "u1",
		Category: models.CategoryTransfer,
		Metadata: map[string]any{"amount": 200.0},
	})
	assert.False(t, result.Allowed)
	assert.Equal(t, "first-cap", result.Evaluator, "chain order decides attribution")

	result = r.Evaluate(context.Background(), Request{
		UserID:   "u1",
		Category: models.CategoryTransfer,
		Metadata: map[string]any{"amount": 75.0},
	})
	assert.False(t, result.Allowed)
	assert.Equal(t, "second-cap", result.Evaluator)

	result = r.Evaluate(context.Background(), Request{
		UserID:   "u1",
		Category: models.CategoryTransfer,
		Metadata: map[string]any{"amount": 10.0},
	})
	assert.True(t, result.Allowed)
}

// denyAfter is a custom evaluator used to exercise the custom constructor
// path: it denies once the user has any recorded history.
type denyAfter struct {
	name    string
	history *History
}

func (d *denyAfter) Name() string { return d.name }

func (d *denyAfter) Evaluate(_ context.Context, req Request) models.EvaluationResult {
	if d.history.CountSince(req.UserID, time.Time{}) > 0 {
		return models.Deny(d.name, "user already acted")
	}
	return models.Allow()
}

func TestCustomEvaluator(t *testing.T) {
	h, _ := newTestHistory(t, 10, 0)

	custom := map[string]CustomConstructor{
		"deny_after_first": func(name string, _ map[string]any, history *History) (Evaluator, error) {
			return &denyAfter{name: name, history: history}, nil
		},
	}

	r, err := NewRegistry([]*config.EvaluatorConfig{
		{
			Type:   config.EvaluatorCustom,
			Name:   "one-shot",
			Config: map[string]any{"impl": "deny_after_first"},
		},
	}, h, custom)
	require.NoError(t, err)

	req := Request{UserID: "u1", Category: models.CategoryPurchase}
	assert.True(t, r.Evaluate(context.Background(), req).Allowed)

	h.Record(models.UserAction{UserID: "u1", Category: models.CategoryPurchase})
	result := r.Evaluate(context.Background(), req)
	assert.False(t, result.Allowed)
	assert.Equal(t, "one-shot", result.Evaluator)
}

func TestCustomEvaluatorUnknownImpl(t *testing.T) {
	h, _ := newTestHistory(t, 10, 0)
	_, err := NewRegistry([]*config.EvaluatorConfig{
		{Type: config.EvaluatorCustom, Name: "ghost", Config: map[string]any{"impl": "nope"}},
	}, h, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, config.ErrInvalidValue))
}
