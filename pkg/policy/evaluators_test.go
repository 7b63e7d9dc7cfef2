package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestroproj/maestro/pkg/config"
	"github.com/maestroproj/maestro/pkg/models"
)

func TestTimedRestriction(t *testing.T) {
	h, now := newTestHistory(t, 100, 0)
	base := *now

	ev, err := NewTimedRestriction("address-card-block", map[string]any{
		"trigger_categories": []any{"address_change"},
		"blocked_categories": []any{"card_order"},
		"block_hours":        24,
	}, h)
	require.NoError(t, err)
	ev.now = func() time.Time { return *now }

	req := Request{UserID: "u1", Category: models.CategoryCardOrder}

	t.Run("no trigger on record", func(t *testing.T) {
		assert.True(t, ev.Evaluate(context.Background(), req).Allowed)
	})

	trigger := base.Add(-2 * time.Hour)
	h.Record(models.UserAction{UserID: "u1", Category: models.CategoryAddressChange, Timestamp: trigger})

	t.Run("denied inside window", func(t *testing.T) {
		result := ev.Evaluate(context.Background(), req)
		assert.False(t, result.Allowed)
		assert.Equal(t, "address-card-block", result.Evaluator)
		require.NotNil(t, result.RestrictionLiftTime)
		assert.Equal(t, trigger.Add(24*time.Hour), *result.RestrictionLiftTime)
		assert.Equal(t, "address_change", result.Metadata["trigger_category"])
	})

	t.Run("other categories unaffected", func(t *testing.T) {
		other := Request{UserID: "u1", Category: models.CategoryPurchase}
		assert.True(t, ev.Evaluate(context.Background(), other).Allowed)
	})

	t.Run("allowed after window", func(t *testing.T) {
		*now = trigger.Add(24*time.Hour + time.Second)
		assert.True(t, ev.Evaluate(context.Background(), req).Allowed)
	})
}

func TestTimedRestrictionConfigErrors(t *testing.T) {
	h, _ := newTestHistory(t, 10, 0)

	cases := []struct {
		name string
		raw  map[string]any
	}{
		{"missing trigger", map[string]any{"blocked_categories": []any{"card_order"}, "block_hours": 1}},
		{"missing blocked", map[string]any{"trigger_categories": []any{"address_change"}, "block_hours": 1}},
		{"missing hours", map[string]any{"trigger_categories": []any{"address_change"}, "blocked_categories": []any{"card_order"}}},
		{"unknown category", map[string]any{"trigger_categories": []any{"teleportation"}, "blocked_categories": []any{"card_order"}, "block_hours": 1}},
		{"non-positive hours", map[string]any{"trigger_categories": []any{"address_change"}, "blocked_categories": []any{"card_order"}, "block_hours": 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewTimedRestriction("bad", tc.raw, h)
			require.Error(t, err)
			var verr *config.ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestRateLimit(t *testing.T) {
	h, now := newTestHistory(t, 100, 0)
	base := *now

	ev, err := NewRateLimit("transfer-cap", map[string]any{
		"categories":   []any{"transfer"},
		"max_count":    2,
		"window_hours": 24,
	}, h)
	require.NoError(t, err)
	ev.now = func() time.Time { return *now }

	req := Request{UserID: "u1", Category: models.CategoryTransfer}

	assert.True(t, ev.Evaluate(context.Background(), req).Allowed, "empty history allows")

	h.Record(models.UserAction{UserID: "u1", Category: models.CategoryTransfer, Timestamp: base.Add(-2 * time.Hour)})
	assert.True(t, ev.Evaluate(context.Background(), req).Allowed, "below the limit")

	h.Record(models.UserAction{UserID: "u1", Category: models.CategoryTransfer, Timestamp: base.Add(-time.Hour)})
	result := ev.Evaluate(context.Background(), req)
	assert.False(t, result.Allowed, "at the limit the next request is denied")
	assert.Equal(t, 2, result.Metadata["count"])

	t.Run("unwatched category allows", func(t *testing.T) {
		other := Request{UserID: "u1", Category: models.CategoryPurchase}
		assert.True(t, ev.Evaluate(context.Background(), other).Allowed)
	})

	t.Run("window slides", func(t *testing.T) {
		*now = base.Add(30 * time.Hour)
		assert.True(t, ev.Evaluate(context.Background(), req).Allowed)
	})
}

func TestRateLimitDefaultsToRequestedCategory(t *testing.T) {
	h, now := newTestHistory(t, 100, 0)
	ev, err := NewRateLimit("any-cap", map[string]any{
		"max_count":    1,
		"window_hours": 1,
	}, h)
	require.NoError(t, err)
	ev.now = func() time.Time { return *now }

	h.Record(models.UserAction{UserID: "u1", Category: models.CategoryPurchase, Timestamp: now.Add(-time.Minute)})

	assert.False(t, ev.Evaluate(context.Background(), Request{UserID: "u1", Category: models.CategoryPurchase}).Allowed)
	assert.True(t, ev.Evaluate(context.Background(), Request{UserID: "u1", Category: models.CategoryTransfer}).Allowed,
		"only the requested category is counted when none are configured")
}

func TestThreshold(t *testing.T) {
	ev, err := NewThreshold("amount-cap", map[string]any{
		"field":      "amount",
		"max_value":  10000,
		"categories": []any{"transfer", "high_value_transaction"},
	}, nil)
	require.NoError(t, err)

	eval := func(category models.ActionCategory, metadata map[string]any) models.EvaluationResult {
		return ev.Evaluate(context.Background(), Request{UserID: "u1", Category: category, Metadata: metadata})
	}

	t.Run("above maximum denied", func(t *testing.T) {
		result := eval(models.CategoryTransfer, map[string]any{"amount": 15000.0})
		assert.False(t, result.Allowed)
		assert.Contains(t, result.Reason, "15000")
		assert.Equal(t, 10000.0, result.Metadata["max_value"])
	})

	t.Run("at maximum allowed", func(t *testing.T) {
		assert.True(t, eval(models.CategoryTransfer, map[string]any{"amount": 10000.0}).Allowed)
	})

	t.Run("integer amounts coerced", func(t *testing.T) {
		assert.False(t, eval(models.CategoryTransfer, map[string]any{"amount": 20000}).Allowed)
	})

	t.Run("missing field allows", func(t *testing.T) {
		assert.True(t, eval(models.CategoryTransfer, nil).Allowed)
	})

	t.Run("non-numeric field allows", func(t *testing.T) {
		assert.True(t, eval(models.CategoryTransfer, map[string]any{"amount": "a lot"}).Allowed)
	})

	t.Run("unwatched category allows", func(t *testing.T) {
		assert.True(t, eval(models.CategoryPurchase, map[string]any{"amount": 99999.0}).Allowed)
	})
}

func TestHoursKeyAcceptsDurationString(t *testing.T) {
	d, err := hoursKey(map[string]any{"window_hours": "90m"}, "window_hours", true)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Minute, d)

	d, err = hoursKey(map[string]any{"window_hours": 0.5}, "window_hours", true)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, d)

	_, err = hoursKey(map[string]any{"window_hours": []any{1}}, "window_hours", true)
	assert.ErrorIs(t, err, config.ErrInvalidValue)
}
