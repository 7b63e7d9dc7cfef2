// Package validation applies three-phase checks to executed agent
// responses: per-agent JSON Schema validation, deterministic cross-agent
// consistency rules, and hallucination heuristics. The resulting
// confidence score is internal; it feeds the retry decision and the query
// log, never the client response.
package validation

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/maestroproj/maestro/pkg/config"
	"github.com/maestroproj/maestro/pkg/models"
	"github.com/maestroproj/maestro/pkg/reasoning"
)

// Score penalties per phase. Applied at most once each, then clamped.
const (
	penaltySchema            = 0.3
	penaltyConsistency       = 0.2
	penaltyHallucination     = 0.4
	penaltyModelAssist       = 0.2
	modelAssistMinConfidence = 0.5
)

// DescriptorSource resolves agent descriptors for schema and capability
// lookups. The registry satisfies it.
type DescriptorSource interface {
	Lookup(name string) (*config.AgentDescriptor, error)
}

// RelevanceJudge is the optional model-assisted signal. Satisfied by the
// reasoning client; may be nil.
type RelevanceJudge interface {
	Available() bool
	JudgeRelevance(ctx context.Context, query string, outputs map[string]map[string]any) (*reasoning.Verdict, error)
}

// Validator runs the three phases over a plan's responses.
type Validator struct {
	schemas   *config.SchemaCatalogue
	agents    DescriptorSource
	judge     RelevanceJudge
	threshold float64
}

// New creates a validator. judge may be nil to disable the model-assisted
// phase.
func New(schemas *config.SchemaCatalogue, agents DescriptorSource, judge RelevanceJudge, threshold float64) *Validator {
	return &Validator{schemas: schemas, agents: agents, judge: judge, threshold: threshold}
}

// Validate runs all phases and scores the result. Failed agent responses
// are skipped; they are already surfaced as execution failures.
func (v *Validator) Validate(ctx context.Context, req *models.QueryRequest, plan *models.SelectionPlan, responses []models.AgentResponse) *models.ValidationReport {
	report := &models.ValidationReport{
		PerAgent: make(map[string]models.AgentValidation, len(responses)),
	}

	succeeded := 0
	for _, resp := range responses {
		if !resp.Success {
			continue
		}
		succeeded++
		report.PerAgent[resp.AgentName] = v.validateSchema(resp)
	}

	if succeeded > 1 {
		report.ConsistencyIssues = v.checkConsistency(plan, responses)
	}

	hallucinated := v.checkHallucination(req, plan, responses, report)
	report.HallucinationDetected = hallucinated

	score := 1.0
	if report.SchemaFailed() {
		score -= penaltySchema
	}
	if len(report.ConsistencyIssues) > 0 {
		score -= penaltyConsistency
	}
	if hallucinated {
		score -= penaltyHallucination
	}
	if v.modelAssistFlagged(ctx, req, responses) {
		score -= penaltyModelAssist
		report.OverallIssues = append(report.OverallIssues, "model-assisted relevance check flagged the responses")
	}
	if score < 0 {
		score = 0
	}

	report.ConfidenceScore = score
	report.IsValid = score >= v.threshold && !report.SchemaFailed()

	if !report.IsValid {
		slog.Warn("Response validation failed",
			"score", score,
			"schema_failed", report.SchemaFailed(),
			"consistency_issues", len(report.ConsistencyIssues),
			"hallucination", hallucinated)
	}
	return report
}

// validateSchema applies the agent's declared output schema, when it has
// one.
func (v *Validator) validateSchema(resp models.AgentResponse) models.AgentValidation {
	av := models.AgentValidation{SchemaPass: true}

	desc, err := v.agents.Lookup(resp.AgentName)
	if err != nil || desc.OutputSchemaName == "" {
		return av
	}
	if err := v.schemas.Validate(desc.OutputSchemaName, normalize(resp.Data)); err != nil {
		av.SchemaPass = false
		av.Issues = append(av.Issues, "output schema violation: "+err.Error())
	}
	return av
}

// checkConsistency applies the deterministic cross-agent rules: a
// downstream output_count may not exceed an upstream count, echoed
// operations must match the plan's, and numeric results must be finite.
func (v *Validator) checkConsistency(plan *models.SelectionPlan, responses []models.AgentResponse) []string {
	var issues []string

	// output_count is checked against the counts of earlier responses
	// before this response's own count becomes the new upstream value, so
	// a response carrying both fields is still checked.
	upstreamCount, haveCount := math.Inf(1), false
	for _, resp := range responses {
		if !resp.Success {
			continue
		}
		if out, ok := numberField(resp.Data, "output_count"); ok && haveCount && out > upstreamCount {
			issues = append(issues, resp.AgentName+": output_count exceeds upstream count")
		}
		if k, ok := numberField(resp.Data, "count"); ok {
			upstreamCount, haveCount = k, true
		}
	}

	for _, resp := range responses {
		if !resp.Success {
			continue
		}
		if issue := operationMismatch(plan, resp); issue != "" {
			issues = append(issues, issue)
		}
		if key, ok := nonFiniteNumber(resp.Data); ok {
			issues = append(issues, resp.AgentName+": non-finite numeric result in "+key)
		}
	}
	return issues
}

// checkHallucination applies the rule-based heuristics, recording findings
// against the offending agent.
func (v *Validator) checkHallucination(req *models.QueryRequest, plan *models.SelectionPlan, responses []models.AgentResponse, report *models.ValidationReport) bool {
	flagged := false
	for _, resp := range responses {
		if !resp.Success {
			continue
		}
		desc, err := v.agents.Lookup(resp.AgentName)
		if err != nil {
			continue
		}

		var issues []string
		if hasCapabilityLike(desc, "math", "calculation", "arithmetic", "compute") {
			if key, ok := nonFiniteNumber(resp.Data); ok {
				issues = append(issues, "math-capable agent produced non-finite result in "+key)
			}
		}
		if hasCapabilityLike(desc, "search", "retrieval", "lookup") {
			if !keywordOverlap(req.Query, resp.Data) {
				issues = append(issues, "search result shares no keywords with the query despite claiming success")
			}
		}
		if issue := operationMismatch(plan, resp); issue != "" {
			issues = append(issues, "claimed operation differs from the requested one")
		}

		if len(issues) > 0 {
			flagged = true
			av := report.PerAgent[resp.AgentName]
			av.Issues = append(av.Issues, issues...)
			report.PerAgent[resp.AgentName] = av
		}
	}
	return flagged
}

// modelAssistFlagged asks the reasoning client for a relevance judgment.
// Only a confident "not relevant" answer counts; errors and weak answers
// are ignored.
func (v *Validator) modelAssistFlagged(ctx context.Context, req *models.QueryRequest, responses []models.AgentResponse) bool {
	if v.judge == nil || !v.judge.Available() {
		return false
	}

	outputs := make(map[string]map[string]any)
	for _, resp := range responses {
		if resp.Success {
			outputs[resp.AgentName] = resp.Data
		}
	}
	if len(outputs) == 0 {
		return false
	}

	verdict, err := v.judge.JudgeRelevance(ctx, req.Query, outputs)
	if err != nil {
		slog.Debug("Model-assisted relevance check unavailable", "error", err)
		return false
	}
	return !verdict.IsValid && verdict.Confidence >= modelAssistMinConfidence
}

// operationMismatch reports a response echoing a different operation than
// the plan requested for that agent.
func operationMismatch(plan *models.SelectionPlan, resp models.AgentResponse) string {
	requested, ok := plan.ParametersFor(resp.AgentName)["operation"].(string)
	if !ok || requested == "" {
		return ""
	}
	echoed, ok := resp.Data["operation"].(string)
	if !ok || echoed == "" {
		return ""
	}
	if !strings.EqualFold(requested, echoed) {
		return resp.AgentName + ": echoed operation " + echoed + " but the plan requested " + requested
	}
	return ""
}

// keywordOverlap reports whether any query keyword (length > 2) appears in
// the response's flattened string form.
func keywordOverlap(query string, data map[string]any) bool {
	text := strings.ToLower(flatten(data))
	for _, word := range strings.Fields(strings.ToLower(query)) {
		word = strings.Trim(word, ".,!?\"'")
		if len(word) > 2 && strings.Contains(text, word) {
			return true
		}
	}
	return false
}

func hasCapabilityLike(desc *config.AgentDescriptor, needles ...string) bool {
	for _, cap := range desc.Capabilities {
		for _, needle := range needles {
			if strings.Contains(cap, needle) {
				return true
			}
		}
	}
	return false
}

// nonFiniteNumber walks the output looking for NaN or Inf values,
// returning the first offending key.
func nonFiniteNumber(data map[string]any) (string, bool) {
	for key, value := range data {
		switch t := value.(type) {
		case float64:
			if math.IsNaN(t) || math.IsInf(t, 0) {
				return key, true
			}
		case map[string]any:
			if inner, ok := nonFiniteNumber(t); ok {
				return key + "." + inner, true
			}
		case []any:
			for _, item := range t {
				if f, ok := item.(float64); ok && (math.IsNaN(f) || math.IsInf(f, 0)) {
					return key, true
				}
			}
		}
	}
	return "", false
}

func numberField(data map[string]any, key string) (float64, bool) {
	switch t := data[key].(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	}
	return 0, false
}

// flatten renders the output values as one searchable string.
func flatten(v any) string {
	var b strings.Builder
	var walk func(any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			b.WriteString(t)
			b.WriteByte(' ')
		case map[string]any:
			for _, inner := range t {
				walk(inner)
			}
		case []any:
			for _, inner := range t {
				walk(inner)
			}
		case float64:
			if t == math.Trunc(t) && math.Abs(t) < 1e15 {
				b.WriteString(strconv.FormatInt(int64(t), 10))
			} else {
				b.WriteString(strconv.FormatFloat(t, 'g', -1, 64))
			}
			b.WriteByte(' ')
		case bool:
			b.WriteString(strconv.FormatBool(t))
			b.WriteByte(' ')
		}
	}
	walk(v)
	return b.String()
}

// normalize round-trips agent output through JSON so the schema library
// sees canonical instance types.
func normalize(data map[string]any) any {
	raw, err := json.Marshal(data)
	if err != nil {
		return data
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return data
	}
	return instance
}
