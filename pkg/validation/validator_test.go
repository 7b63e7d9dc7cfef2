package validation

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestroproj/maestro/pkg/config"
	"github.com/maestroproj/maestro/pkg/models"
	"github.com/maestroproj/maestro/pkg/reasoning"
)

// stubDescriptors serves descriptors by name for validation tests.
type stubDescriptors map[string]*config.AgentDescriptor

func (s stubDescriptors) Lookup(name string) (*config.AgentDescriptor, error) {
	if d, ok := s[name]; ok {
		return d, nil
	}
	return nil, errors.New("agent not registered: " + name)
}

// stubJudge scripts the model-assisted relevance phase.
type stubJudge struct {
	verdict *reasoning.Verdict
	err     error
	calls   int
}

func (s *stubJudge) Available() bool { return true }

func (s *stubJudge) JudgeRelevance(context.Context, string, map[string]map[string]any) (*reasoning.Verdict, error) {
	s.calls++
	return s.verdict, s.err
}

func testSchemas(t *testing.T) *config.SchemaCatalogue {
	t.Helper()
	cat, err := config.NewSchemaCatalogue(map[string]string{
		"calculator_output": `{
			"type": "object",
			"required": ["result"],
			"properties": {"result": {"type": "number"}}
		}`,
	})
	require.NoError(t, err)
	return cat
}

func testDescriptors() stubDescriptors {
	return stubDescriptors{
		"calculator": {
			Name:             "calculator",
			Capabilities:     []string{"math", "arithmetic"},
			OutputSchemaName: "calculator_output",
		},
		"web-search": {
			Name:         "web-search",
			Capabilities: []string{"search", "retrieval"},
		},
		"account-service": {
			Name:         "account-service",
			Capabilities: []string{"account_management"},
		},
	}
}

func newTestValidator(t *testing.T, judge RelevanceJudge) *Validator {
	t.Helper()
	return New(testSchemas(t), testDescriptors(), judge, 0.7)
}

func success(agent string, data map[string]any) models.AgentResponse {
	return models.AgentResponse{AgentName: agent, Success: true, Data: data}
}

func TestValidateCleanResponses(t *testing.T) {
	v := newTestValidator(t, nil)
	req := &models.QueryRequest{Query: "calculate 15 plus 27"}
	plan := &models.SelectionPlan{Agents: []string{"calculator"}, Method: models.MethodRuleValidated}

	report := v.Validate(context.Background(), req, plan, []models.AgentResponse{
		success("calculator", map[string]any{"result": 42.0}),
	})

	assert.True(t, report.IsValid)
	assert.Equal(t, 1.0, report.ConfidenceScore)
	assert.False(t, report.HallucinationDetected)
	assert.True(t, report.PerAgent["calculator"].SchemaPass)
}

func TestValidateSchemaViolation(t *testing.T) {
	v := newTestValidator(t, nil)
	req := &models.QueryRequest{Query: "calculate 15 plus 27"}
	plan := &models.SelectionPlan{Agents: []string{"calculator"}, Method: models.MethodRuleValidated}

	report := v.Validate(context.Background(), req, plan, []models.AgentResponse{
		success("calculator", map[string]any{"result": "forty-two"}),
	})

	assert.False(t, report.IsValid, "a schema failure is fatal regardless of score")
	assert.InDelta(t, 0.7, report.ConfidenceScore, 1e-9)
	assert.False(t, report.PerAgent["calculator"].SchemaPass)
	require.NotEmpty(t, report.PerAgent["calculator"].Issues)
	assert.Contains(t, report.PerAgent["calculator"].Issues[0], "schema violation")
}

func TestValidateNonFiniteMathResult(t *testing.T) {
	v := newTestValidator(t, nil)
	req := &models.QueryRequest{Query: "divide by zero please"}
	plan := &models.SelectionPlan{Agents: []string{"calculator"}, Method: models.MethodRule}

	report := v.Validate(context.Background(), req, plan, []models.AgentResponse{
		success("calculator", map[string]any{"result": math.Inf(1)}),
	})

	assert.True(t, report.HallucinationDetected, "a math agent claiming an infinite result is hallucinating")
	assert.False(t, report.IsValid)
	// Schema pass (Inf is a number), hallucination penalty only.
	assert.InDelta(t, 0.6, report.ConfidenceScore, 1e-9)
}

func TestValidateSearchWithoutOverlap(t *testing.T) {
	v := newTestValidator(t, nil)
	req := &models.QueryRequest{Query: "capital city of France"}
	plan := &models.SelectionPlan{Agents: []string{"web-search"}, Method: models.MethodAI}

	t.Run("no shared keywords flags", func(t *testing.T) {
		report := v.Validate(context.Background(), req, plan, []models.AgentResponse{
			success("web-search", map[string]any{"results": []any{"stock prices climbed today"}}),
		})
		assert.True(t, report.HallucinationDetected)
		assert.False(t, report.IsValid)
	})

	t.Run("overlap passes", func(t *testing.T) {
		report := v.Validate(context.Background(), req, plan, []models.AgentResponse{
			success("web-search", map[string]any{"results": []any{"Paris is the capital of France"}}),
		})
		assert.False(t, report.HallucinationDetected)
		assert.True(t, report.IsValid)
	})
}

func TestValidateOperationMismatch(t *testing.T) {
	v := newTestValidator(t, nil)
	req := &models.QueryRequest{Query: "change my address to 5 Main St"}
	plan := &models.SelectionPlan{
		Agents: []string{"account-service"},
		Method: models.MethodRuleValidated,
		Parameters: map[string]map[string]any{
			"account-service": {"operation": "change_address"},
		},
	}

	report := v.Validate(context.Background(), req, plan, []models.AgentResponse{
		success("account-service", map[string]any{"operation": "close_account", "status": "done"}),
	})

	assert.True(t, report.HallucinationDetected,
		"an agent claiming a different operation than requested is lying")
	assert.False(t, report.IsValid)
}

func TestValidateCrossAgentConsistency(t *testing.T) {
	v := newTestValidator(t, nil)
	req := &models.QueryRequest{Query: "generate records and count them"}
	plan := &models.SelectionPlan{
		Agents:   []string{"account-service", "web-search"},
		Parallel: true,
		Method:   models.MethodRuleMultiValidated,
	}

	report := v.Validate(context.Background(), req, plan, []models.AgentResponse{
		success("account-service", map[string]any{"count": 10.0, "records": []any{"generate"}}),
		success("web-search", map[string]any{"output_count": 25.0, "summary": "records count generate"}),
	})

	require.NotEmpty(t, report.ConsistencyIssues)
	assert.Contains(t, report.ConsistencyIssues[0], "output_count exceeds upstream count")
	assert.InDelta(t, 0.8, report.ConfidenceScore, 1e-9)
	assert.True(t, report.IsValid, "a consistency issue alone stays above the threshold")
}

func TestValidateConsistencyWithBothCountFields(t *testing.T) {
	v := newTestValidator(t, nil)
	req := &models.QueryRequest{Query: "generate records and count them"}
	plan := &models.SelectionPlan{
		Agents:   []string{"account-service", "web-search"},
		Parallel: true,
		Method:   models.MethodRuleMultiValidated,
	}

	// The second response carries its own count alongside output_count;
	// output_count must still be compared with the upstream count.
	report := v.Validate(context.Background(), req, plan, []models.AgentResponse{
		success("account-service", map[string]any{"count": 10.0, "records": []any{"generate"}}),
		success("web-search", map[string]any{"count": 25.0, "output_count": 25.0, "summary": "records count generate"}),
	})

	require.NotEmpty(t, report.ConsistencyIssues)
	assert.Contains(t, report.ConsistencyIssues[0], "output_count exceeds upstream count")
}

func TestValidateModelAssist(t *testing.T) {
	req := &models.QueryRequest{Query: "calculate 15 plus 27"}
	plan := &models.SelectionPlan{Agents: []string{"calculator"}, Method: models.MethodRuleValidated}
	responses := []models.AgentResponse{
		success("calculator", map[string]any{"result": 42.0}),
	}

	t.Run("confident not-relevant deducts", func(t *testing.T) {
		judge := &stubJudge{verdict: &reasoning.Verdict{IsValid: false, Confidence: 0.9}}
		report := newTestValidator(t, judge).Validate(context.Background(), req, plan, responses)
		assert.InDelta(t, 0.8, report.ConfidenceScore, 1e-9)
		assert.True(t, report.IsValid, "the soft signal alone cannot fail validation")
		assert.NotEmpty(t, report.OverallIssues)
	})

	t.Run("unconfident not-relevant ignored", func(t *testing.T) {
		judge := &stubJudge{verdict: &reasoning.Verdict{IsValid: false, Confidence: 0.3}}
		report := newTestValidator(t, judge).Validate(context.Background(), req, plan, responses)
		assert.Equal(t, 1.0, report.ConfidenceScore)
	})

	t.Run("judge error ignored", func(t *testing.T) {
		judge := &stubJudge{err: errors.New("provider down")}
		report := newTestValidator(t, judge).Validate(context.Background(), req, plan, responses)
		assert.Equal(t, 1.0, report.ConfidenceScore)
		assert.True(t, report.IsValid)
	})
}

func TestValidateSkipsFailedResponses(t *testing.T) {
	v := newTestValidator(t, nil)
	req := &models.QueryRequest{Query: "calculate 1 + 1"}
	plan := &models.SelectionPlan{Agents: []string{"calculator"}, Method: models.MethodRule}

	report := v.Validate(context.Background(), req, plan, []models.AgentResponse{
		{AgentName: "calculator", Success: false, Error: "timeout"},
	})

	assert.True(t, report.IsValid, "failed responses are execution failures, not validation failures")
	assert.Empty(t, report.PerAgent)
}

func TestValidateUnknownSchemaNamePasses(t *testing.T) {
	v := newTestValidator(t, nil)
	req := &models.QueryRequest{Query: "look after my account"}
	plan := &models.SelectionPlan{Agents: []string{"account-service"}, Method: models.MethodRule}

	report := v.Validate(context.Background(), req, plan, []models.AgentResponse{
		success("account-service", map[string]any{"status": "account updated"}),
	})
	assert.True(t, report.IsValid, "agents without a declared schema skip phase one")
}

func TestKeywordOverlap(t *testing.T) {
	assert.True(t, keywordOverlap("capital of France", map[string]any{"answer": "Paris, France"}))
	assert.False(t, keywordOverlap("capital of France", map[string]any{"answer": "42"}))
	assert.False(t, keywordOverlap("a an of", map[string]any{"answer": "a an of"}),
		"short words never count as overlap")
}

func TestNonFiniteNumber(t *testing.T) {
	key, ok := nonFiniteNumber(map[string]any{"nested": map[string]any{"value": math.NaN()}})
	assert.True(t, ok)
	assert.Equal(t, "nested.value", key)

	_, ok = nonFiniteNumber(map[string]any{"values": []any{1.0, math.Inf(-1)}})
	assert.True(t, ok)

	_, ok = nonFiniteNumber(map[string]any{"result": 42.0, "label": "fine"})
	assert.False(t, ok)
}
