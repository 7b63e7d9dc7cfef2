package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestroproj/maestro/pkg/config"
)

func newTestEngine(t *testing.T, cfgs []*config.RuleConfig) *Engine {
	t.Helper()
	e, err := NewEngine(cfgs)
	require.NoError(t, err)
	return e
}

func TestEvaluateKeyword(t *testing.T) {
	e := newTestEngine(t, []*config.RuleConfig{
		{
			Name:       "math",
			Priority:   100,
			Confidence: 0.9,
			Conditions: []config.ConditionConfig{
				{Type: config.ConditionKeyword, Field: "query", Value: "calculate"},
			},
			TargetAgents: []string{"calculator"},
		},
	})

	t.Run("whole word match", func(t *testing.T) {
		matches := e.Evaluate(map[string]any{"query": "please calculate 15 + 27"})
		require.Len(t, matches, 1)
		assert.Equal(t, "math", matches[0].RuleName)
		assert.Equal(t, []string{"calculator"}, matches[0].TargetAgents)
		assert.Equal(t, 0.9, matches[0].Confidence)
	})

	t.Run("case insensitive", func(t *testing.T) {
		matches := e.Evaluate(map[string]any{"query": "CALCULATE this"})
		assert.Len(t, matches, 1)
	})

	t.Run("substring is not a word", func(t *testing.T) {
		matches := e.Evaluate(map[string]any{"query": "recalculated yesterday"})
		assert.Empty(t, matches)
	})

	t.Run("missing field", func(t *testing.T) {
		matches := e.Evaluate(map[string]any{"other": "calculate"})
		assert.Empty(t, matches)
	})
}

func TestEvaluateMultiWordPhrase(t *testing.T) {
	e := newTestEngine(t, []*config.RuleConfig{
		{
			Name:       "closure",
			Confidence: 0.8,
			Conditions: []config.ConditionConfig{
				{Type: config.ConditionKeyword, Field: "query", Value: "close account"},
			},
			TargetAgents: []string{"account-service"},
		},
	})

	assert.Len(t, e.Evaluate(map[string]any{"query": "I want to close account now"}), 1)
	assert.Empty(t, e.Evaluate(map[string]any{"query": "close the account"}),
		"phrase words must be contiguous")
}

func TestEvaluateConditionTypes(t *testing.T) {
	e := newTestEngine(t, []*config.RuleConfig{
		{
			Name:       "account-op",
			Confidence: 0.8,
			Conditions: []config.ConditionConfig{
				{Type: config.ConditionFieldExists, Field: "operation"},
				{Type: config.ConditionFieldRegex, Field: "operation", Pattern: "^(change_address|update_payment)$"},
			},
			TargetAgents: []string{"account-service"},
		},
		{
			Name:       "exact",
			Confidence: 0.9,
			Conditions: []config.ConditionConfig{
				{Type: config.ConditionFieldEquals, Field: "mode", Value: "fast"},
			},
			TargetAgents: []string{"calculator"},
		},
	})

	t.Run("conjunction of atoms", func(t *testing.T) {
		matches := e.Evaluate(map[string]any{"operation": "change_address"})
		require.Len(t, matches, 1)
		assert.Equal(t, "account-op", matches[0].RuleName)
	})

	t.Run("regex rejects", func(t *testing.T) {
		assert.Empty(t, e.Evaluate(map[string]any{"operation": "delete_everything"}))
	})

	t.Run("field exists rejects nil", func(t *testing.T) {
		assert.Empty(t, e.Evaluate(map[string]any{"operation": nil}))
	})

	t.Run("field equals", func(t *testing.T) {
		matches := e.Evaluate(map[string]any{"mode": "fast"})
		require.Len(t, matches, 1)
		assert.Equal(t, "exact", matches[0].RuleName)
	})
}

func TestEvaluateRanking(t *testing.T) {
	e := newTestEngine(t, []*config.RuleConfig{
		{
			Name: "b-low", Priority: 10, Confidence: 0.5,
			Conditions:   []config.ConditionConfig{{Type: config.ConditionFieldExists, Field: "query"}},
			TargetAgents: []string{"x"},
		},
		{
			Name: "a-low", Priority: 10, Confidence: 0.5,
			Conditions:   []config.ConditionConfig{{Type: config.ConditionFieldExists, Field: "query"}},
			TargetAgents: []string{"y"},
		},
		{
			Name: "high", Priority: 90, Confidence: 0.9,
			Conditions:   []config.ConditionConfig{{Type: config.ConditionFieldExists, Field: "query"}},
			TargetAgents: []string{"z"},
		},
	})

	matches := e.Evaluate(map[string]any{"query": "anything"})
	require.Len(t, matches, 3)
	assert.Equal(t, "high", matches[0].RuleName, "priority descending")
	assert.Equal(t, "a-low", matches[1].RuleName, "name ascending breaks ties")
	assert.Equal(t, "b-low", matches[2].RuleName)
}

func TestCoerceString(t *testing.T) {
	assert.Equal(t, "plain", coerceString("plain"))
	assert.Equal(t, "a b c", coerceString([]any{"a", "b", "c"}))
	assert.Equal(t, "42", coerceString(42))
	assert.Equal(t, "", coerceString(nil))
	assert.Contains(t, coerceString(map[string]any{"k": "v"}), `"k":"v"`)
}

func TestNewEngineRejectsBadRegex(t *testing.T) {
	_, err := NewEngine([]*config.RuleConfig{
		{
			Name: "broken",
			Conditions: []config.ConditionConfig{
				{Type: config.ConditionFieldRegex, Field: "q", Pattern: "("},
			},
		},
	})
	require.Error(t, err)
}
