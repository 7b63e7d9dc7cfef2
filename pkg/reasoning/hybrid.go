package reasoning

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maestroproj/maestro/pkg/config"
	"github.com/maestroproj/maestro/pkg/models"
	"github.com/maestroproj/maestro/pkg/registry"
	"github.com/maestroproj/maestro/pkg/rules"
)

// Catalog is the registry surface the reasoner consults: a snapshot of
// selectable agents for the reasoning client and a liveness check for
// names the client suggests.
type Catalog interface {
	Snapshot() []registry.AgentSummary
	Selectable(name string) bool
}

// HybridReasoner combines the rule engine with the reasoning client under
// a confidence-threshold policy. The governing rule: never execute a
// low-confidence wrong agent. When neither rules nor the reasoner produce
// a selection it is confident in, the plan is "none" and the caller tells
// the user so instead of guessing.
type HybridReasoner struct {
	mode          string
	engine        *rules.Engine
	client        Client
	catalog       Catalog
	ruleThreshold float64
	overrideMin   float64
}

// NewHybridReasoner wires the selection policy from settings.
func NewHybridReasoner(settings *config.Settings, engine *rules.Engine, client Client, catalog Catalog) *HybridReasoner {
	return &HybridReasoner{
		mode:          settings.ReasoningMode,
		engine:        engine,
		client:        client,
		catalog:       catalog,
		ruleThreshold: settings.RuleConfidenceThreshold,
		overrideMin:   settings.AIOverrideMin,
	}
}

// Plan produces the selection plan for a request. It never returns an
// error; failures of the reasoning service degrade the decision rather
// than the request.
func (h *HybridReasoner) Plan(ctx context.Context, req *models.QueryRequest) *models.SelectionPlan {
	input := req.BaseInput()
	matches := h.engine.Evaluate(input)

	var plan *models.SelectionPlan
	switch h.mode {
	case config.ReasoningModeRules:
		plan = h.planFromRules(matches, "rule engine only")
	case config.ReasoningModeAI:
		plan = h.planFromScratch(ctx, input)
	default:
		plan = h.planHybrid(ctx, input, matches)
	}

	plan.RuleMatches = matches
	slog.Info("Selection plan ready",
		"method", plan.Method,
		"agents", plan.Agents,
		"parallel", plan.Parallel,
		"rule_matches", len(matches))
	return plan
}

// planHybrid implements the threshold policy: confident rules are
// AI-validated, unconfident rules are escalated, and no rules at all hand
// selection to the reasoner from scratch.
func (h *HybridReasoner) planHybrid(ctx context.Context, input map[string]any, matches []models.RuleMatch) *models.SelectionPlan {
	if len(matches) == 0 {
		return h.planFromScratch(ctx, input)
	}

	agents, confidence, multi := aggregate(matches, h.ruleThreshold)
	if confidence < h.ruleThreshold {
		return h.escalate(ctx, input, matches)
	}

	if !h.client.Available() {
		return h.planFromRules(matches, "reasoning service unavailable, rule-only selection")
	}
	verdict, err := h.client.Validate(ctx, input, agents, h.catalog.Snapshot())
	if err != nil {
		slog.Warn("Reasoning validation failed, degrading to rule-only selection", "error", err)
		return h.planFromRules(matches, "reasoning service unreachable, rule-only selection")
	}

	if verdict.IsValid {
		method := models.MethodRuleValidated
		if multi {
			method = models.MethodRuleMultiValidated
		}
		return &models.SelectionPlan{
			Agents:     agents,
			Parallel:   multi,
			Confidence: confidence,
			Method:     method,
			Reasoning:  nonEmpty(verdict.Reasoning, "rule selection confirmed"),
			Parameters: verdict.Parameters,
			AIVerdict:  verdictRecord(verdict),
		}
	}

	if override := h.override(verdict); override != nil {
		return override
	}
	return h.none(fmt.Sprintf(
		"rule selection %s rejected (%s) and no confident alternative",
		strings.Join(agents, ","), nonEmpty(verdict.Reasoning, "no reason given")), verdict)
}

// planFromScratch asks the reasoning client to select with no rule input.
func (h *HybridReasoner) planFromScratch(ctx context.Context, input map[string]any) *models.SelectionPlan {
	if !h.client.Available() {
		return h.none("no rule matched and no reasoning service configured", nil)
	}
	verdict, err := h.client.Select(ctx, input, h.catalog.Snapshot())
	if err != nil {
		slog.Warn("Reasoning selection failed", "error", err)
		return h.none("no rule matched and reasoning service unreachable", nil)
	}
	if len(verdict.SuggestedAgents) == 0 || !h.allSelectable(verdict.SuggestedAgents) {
		return h.none(nonEmpty(verdict.Reasoning, "reasoning service selected no agent"), verdict)
	}
	return &models.SelectionPlan{
		Agents:     verdict.SuggestedAgents,
		Parallel:   len(verdict.SuggestedAgents) > 1,
		Confidence: verdict.Confidence,
		Method:     models.MethodAI,
		Reasoning:  nonEmpty(verdict.Reasoning, "selected by reasoning service"),
		Parameters: verdict.Parameters,
		AIVerdict:  verdictRecord(verdict),
	}
}

// escalate handles rules that matched below the confidence threshold: the
// reasoner selects with the override minimum applied, and an unconfident
// answer yields none rather than the weak rule pick.
func (h *HybridReasoner) escalate(ctx context.Context, input map[string]any, matches []models.RuleMatch) *models.SelectionPlan {
	if !h.client.Available() {
		return h.none("rule matches below confidence threshold and no reasoning service configured", nil)
	}
	verdict, err := h.client.Select(ctx, input, h.catalog.Snapshot())
	if err != nil {
		slog.Warn("Reasoning escalation failed", "error", err)
		return h.none("rule matches below confidence threshold and reasoning service unreachable", nil)
	}
	if verdict.Confidence < h.overrideMin || len(verdict.SuggestedAgents) == 0 || !h.allSelectable(verdict.SuggestedAgents) {
		return h.none("rule matches below confidence threshold and no confident alternative", verdict)
	}
	return &models.SelectionPlan{
		Agents:     verdict.SuggestedAgents,
		Parallel:   len(verdict.SuggestedAgents) > 1,
		Confidence: verdict.Confidence,
		Method:     models.MethodHybrid,
		Reasoning:  nonEmpty(verdict.Reasoning, "low-confidence rules escalated to reasoning service"),
		Parameters: verdict.Parameters,
		AIVerdict:  verdictRecord(verdict),
	}
}

// override accepts the reasoner's alternative selection when it clears the
// override minimum and every suggested agent is currently selectable.
func (h *HybridReasoner) override(verdict *Verdict) *models.SelectionPlan {
	if verdict.Confidence < h.overrideMin || len(verdict.SuggestedAgents) == 0 {
		return nil
	}
	if !h.allSelectable(verdict.SuggestedAgents) {
		return nil
	}
	return &models.SelectionPlan{
		Agents:     verdict.SuggestedAgents,
		Parallel:   len(verdict.SuggestedAgents) > 1,
		Confidence: verdict.Confidence,
		Method:     models.MethodAIOverride,
		Reasoning:  nonEmpty(verdict.Reasoning, "rule selection overridden by reasoning service"),
		Parameters: verdict.Parameters,
		AIVerdict:  verdictRecord(verdict),
	}
}

// planFromRules accepts the rule selection without AI validation, used for
// rules-only mode and reasoning-service degradation. Matches below the
// confidence threshold still yield none.
func (h *HybridReasoner) planFromRules(matches []models.RuleMatch, why string) *models.SelectionPlan {
	if len(matches) == 0 {
		return h.none("no rule matched", nil)
	}
	agents, confidence, multi := aggregate(matches, h.ruleThreshold)
	if confidence < h.ruleThreshold {
		return h.none("rule matches below confidence threshold", nil)
	}
	return &models.SelectionPlan{
		Agents:     agents,
		Parallel:   multi,
		Confidence: confidence,
		Method:     models.MethodRule,
		Reasoning:  why,
	}
}

func (h *HybridReasoner) none(why string, verdict *Verdict) *models.SelectionPlan {
	return &models.SelectionPlan{
		Method:    models.MethodNone,
		Reasoning: why,
		AIVerdict: verdictRecord(verdict),
	}
}

func (h *HybridReasoner) allSelectable(names []string) bool {
	for _, name := range names {
		if !h.catalog.Selectable(name) {
			return false
		}
	}
	return true
}

// aggregate folds the ranked matches into a candidate agent list. With a
// single match above threshold the best match stands alone; with several,
// the agents are the order-preserving union and the confidence their
// average. multi reports whether more than one rule contributed.
func aggregate(matches []models.RuleMatch, threshold float64) (agents []string, confidence float64, multi bool) {
	var above []models.RuleMatch
	for _, m := range matches {
		if m.Confidence >= threshold {
			above = append(above, m)
		}
	}
	if len(above) < 2 {
		best := matches[0]
		return append([]string(nil), best.TargetAgents...), best.Confidence, false
	}

	seen := make(map[string]bool)
	sum := 0.0
	for _, m := range above {
		sum += m.Confidence
		for _, name := range m.TargetAgents {
			if !seen[name] {
				seen[name] = true
				agents = append(agents, name)
			}
		}
	}
	return agents, sum / float64(len(above)), true
}

func verdictRecord(v *Verdict) map[string]any {
	if v == nil {
		return nil
	}
	return map[string]any{
		"is_valid":         v.IsValid,
		"confidence":       v.Confidence,
		"reasoning":        v.Reasoning,
		"suggested_agents": v.SuggestedAgents,
	}
}

func nonEmpty(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
