// Package orchestrator composes the request pipeline: sanitize, classify,
// select, policy-evaluate, execute with retry and fallback, validate with
// re-execution, record history, post-process, audit, respond.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/maestroproj/maestro/pkg/audit"
	"github.com/maestroproj/maestro/pkg/config"
	"github.com/maestroproj/maestro/pkg/events"
	"github.com/maestroproj/maestro/pkg/execution"
	"github.com/maestroproj/maestro/pkg/metrics"
	"github.com/maestroproj/maestro/pkg/models"
	"github.com/maestroproj/maestro/pkg/policy"
	"github.com/maestroproj/maestro/pkg/reasoning"
	"github.com/maestroproj/maestro/pkg/validation"
)

// PostprocessHook rewrites the user-facing message only. It must be pure
// and must not touch machine-readable fields.
type PostprocessHook func(message string) string

// Result is the outcome of one request, rendered to JSON or a terminal
// SSE event by the HTTP layer. Confidence carries the selection
// confidence; validation scores never leave the audit log.
type Result struct {
	RequestID           string
	Success             bool
	Data                map[string]map[string]any
	Message             string
	AgentTrail          []string
	Parallel            bool
	Method              models.SelectionMethod
	Confidence          float64
	ExecutionTimeMS     int64
	ValidationWarning   string
	ErrorKind           models.ErrorKind
	ErrorMessage        string
	RestrictionLiftTime *time.Time
	DeniedBy            string
}

// Orchestrator wires the pipeline stages together. One instance serves
// every request; all stages are safe for concurrent use.
type Orchestrator struct {
	settings    *config.Settings
	classifier  *policy.Classifier
	history     *policy.History
	policies    *policy.Registry
	reasoner    *reasoning.HybridReasoner
	engine      *execution.Engine
	validator   *validation.Validator
	audit       *audit.Writer
	metrics     *metrics.Metrics
	stats       *StatsCollector
	postprocess PostprocessHook
}

// Deps carries the constructed pipeline stages.
type Deps struct {
	Settings    *config.Settings
	Classifier  *policy.Classifier
	History     *policy.History
	Policies    *policy.Registry
	Reasoner    *reasoning.HybridReasoner
	Engine      *execution.Engine
	Validator   *validation.Validator
	Audit       *audit.Writer
	Metrics     *metrics.Metrics
	Postprocess PostprocessHook
}

// New assembles the orchestrator. A nil postprocess hook is the identity.
func New(deps Deps) *Orchestrator {
	post := deps.Postprocess
	if post == nil {
		post = func(message string) string { return message }
	}
	return &Orchestrator{
		settings:    deps.Settings,
		classifier:  deps.Classifier,
		history:     deps.History,
		policies:    deps.Policies,
		reasoner:    deps.Reasoner,
		engine:      deps.Engine,
		validator:   deps.Validator,
		audit:       deps.Audit,
		metrics:     deps.Metrics,
		stats:       NewStatsCollector(),
		postprocess: post,
	}
}

// Stats returns the collector backing /stats.
func (o *Orchestrator) Stats() *StatsCollector { return o.stats }

// Process runs the full pipeline for one request. stream may be nil for
// non-streaming requests; when set, Process publishes progress events and
// closes the stream before returning.
func (o *Orchestrator) Process(ctx context.Context, req *models.QueryRequest, stream *events.Stream) *Result {
	start := time.Now()
	requestID := uuid.NewString()
	result := &Result{RequestID: requestID, Method: models.MethodNone}

	record := audit.NewRecord(requestID, req.EffectiveUserID(), req.Echo(), start)
	phases := make(map[string]int64)

	defer func() {
		result.ExecutionTimeMS = time.Since(start).Milliseconds()
		record.Timing = models.TimingRecord{
			TotalDurationMS: result.ExecutionTimeMS,
			Phases:          phases,
		}
		record.ErrorKind = result.ErrorKind
		record.ErrorMessage = result.ErrorMessage
		o.audit.Write(record)
		o.stats.Observe(result, time.Since(start))
		o.metrics.ObserveRequest(outcome(result), result.Method, time.Since(start))
		o.publishTerminal(ctx, stream, result)
	}()

	stream.Publish(ctx, events.Started, map[string]any{"request_id": requestID})
	logger := slog.With("request_id", requestID)

	// Step 1: sanitize.
	phase := time.Now()
	if err := sanitize(req); err != nil {
		stream.Publish(ctx, events.SecurityValidation, map[string]any{"passed": false})
		logger.Warn("Request rejected by input sanitation", "error", err)
		return o.fail(result, models.ErrKindSecurity, err.Error())
	}
	stream.Publish(ctx, events.SecurityValidation, map[string]any{"passed": true})
	phases["sanitize"] = time.Since(phase).Milliseconds()

	// Step 2: identity and category.
	userID := req.EffectiveUserID()
	category := o.classifier.Classify(req)
	record.ActionCategory = category

	// Step 3: selection.
	phase = time.Now()
	stream.Publish(ctx, events.ReasoningStarted, map[string]any{"mode": o.settings.ReasoningMode})
	plan := o.reasoner.Plan(ctx, req)
	phases["select"] = time.Since(phase).Milliseconds()
	record.Reasoning = &models.ReasoningRecord{
		Method:         plan.Method,
		SelectedAgents: plan.Agents,
		Confidence:     plan.Confidence,
		Reasoning:      plan.Reasoning,
		RuleMatches:    plan.RuleMatches,
		AIVerdict:      plan.AIVerdict,
	}
	stream.Publish(ctx, events.ReasoningComplete, map[string]any{
		"method":   string(plan.Method),
		"agents":   plan.Agents,
		"parallel": plan.Parallel,
	})
	if plan.None() {
		return o.fail(result, models.ErrKindNoAgent,
			"no suitable agent is available for this request")
	}
	result.Method = plan.Method
	result.Confidence = plan.Confidence
	result.Parallel = plan.Parallel

	// Step 4: policy.
	phase = time.Now()
	decision := o.policies.Evaluate(ctx, policy.Request{
		UserID:   userID,
		Category: category,
		Metadata: policyMetadata(req),
	})
	phases["policy"] = time.Since(phase).Milliseconds()
	record.Policy = &models.PolicyRecord{
		Allowed:             decision.Allowed,
		Evaluator:           decision.Evaluator,
		Reason:              decision.Reason,
		RestrictionLiftTime: decision.RestrictionLiftTime,
	}
	if !decision.Allowed {
		o.metrics.PolicyDenial(decision.Evaluator)
		result.RestrictionLiftTime = decision.RestrictionLiftTime
		result.DeniedBy = decision.Evaluator
		return o.fail(result, models.ErrKindPolicyDenied, decision.Reason)
	}

	// Steps 5 and 6: execute, validate, re-execute on invalid.
	phase = time.Now()
	stream.Publish(ctx, events.AgentsExecuting, map[string]any{
		"agents":   plan.Agents,
		"parallel": plan.Parallel,
	})
	responses, report := o.executeValidated(ctx, req, plan, record, stream)
	phases["execute"] = time.Since(phase).Milliseconds()

	if ctx.Err() != nil {
		record.Cancelled = true
		logger.Info("Request cancelled", "error", ctx.Err())
		kind := models.ErrKindTimeout
		if errors.Is(ctx.Err(), context.Canceled) {
			kind = models.ErrKindInternal
		}
		return o.fail(result, kind, "request cancelled before completion")
	}

	succeeded := collectData(responses)
	if len(succeeded) == 0 {
		return o.fail(result, models.ErrKindAgentFailed, failureSummary(responses))
	}
	result.Data = succeeded
	result.AgentTrail = trail(responses)

	if !report.IsValid {
		o.metrics.ValidationFailure()
		result.ValidationWarning = "response failed validation checks; treat results with caution"
		result.ErrorKind = models.ErrKindValidationFailed
		result.ErrorMessage = strings.Join(report.Issues(), "; ")
		result.Message = o.postprocess(result.ValidationWarning)
		return result
	}

	// Step 7: history. Cancelled requests never get here.
	o.history.Record(models.UserAction{
		UserID:     userID,
		Category:   category,
		Timestamp:  time.Now(),
		AgentNames: result.AgentTrail,
		Metadata:   req.Metadata,
	})

	// Step 8: postprocess hook, display text only.
	result.Success = true
	result.Message = o.postprocess(fmt.Sprintf(
		"%d agent(s) completed successfully", len(succeeded)))
	return result
}

// executeValidated runs the plan and validates the responses, re-executing
// the identical plan up to validation_max_retries times while the report
// stays invalid.
func (o *Orchestrator) executeValidated(ctx context.Context, req *models.QueryRequest, plan *models.SelectionPlan,
	record *models.QueryLogRecord, stream *events.Stream) ([]models.AgentResponse, *models.ValidationReport) {

	base := req.BaseInput()
	var (
		responses []models.AgentResponse
		report    *models.ValidationReport
	)

	for attempt := 0; attempt <= o.settings.ValidationMaxRetries; attempt++ {
		if attempt > 0 {
			record.RetryAttempts = append(record.RetryAttempts, models.RetryAttempt{
				Reason:    "response validation failed",
				Timestamp: time.Now(),
			})
			slog.Info("Re-executing plan after failed validation",
				"request_id", record.QueryID, "attempt", attempt)
		}

		responses = o.engine.Execute(ctx, plan, base, func(resp models.AgentResponse) {
			o.metrics.ObserveAgentCall(resp.AgentName, resp.Success,
				time.Duration(resp.ExecutionTimeMS)*time.Millisecond)
			stream.Publish(ctx, events.AgentOutput, map[string]any{
				"agent":         resp.AgentName,
				"success":       resp.Success,
				"data":          resp.Data,
				"fallback_used": resp.FallbackUsed,
			})
		})
		record.AgentInteractions = interactions(responses)

		report = o.validator.Validate(ctx, req, plan, responses)
		if report.IsValid || ctx.Err() != nil {
			break
		}
	}

	record.Validation = &models.ValidationRecord{
		IsValid:               report.IsValid,
		ConfidenceScore:       report.ConfidenceScore,
		HallucinationDetected: report.HallucinationDetected,
		PerAgent:              report.PerAgent,
		Issues:                report.Issues(),
	}
	stream.Publish(ctx, events.Validation, map[string]any{
		"is_valid":      report.IsValid,
		"issues":        len(report.Issues()),
		"hallucination": report.HallucinationDetected,
	})
	return responses, report
}

func (o *Orchestrator) fail(result *Result, kind models.ErrorKind, message string) *Result {
	result.Success = false
	result.ErrorKind = kind
	result.ErrorMessage = message
	result.Message = o.postprocess(message)
	return result
}

// publishTerminal emits the completed or error event and closes the stream.
func (o *Orchestrator) publishTerminal(ctx context.Context, stream *events.Stream, result *Result) {
	if stream == nil {
		return
	}
	if result.Success || result.ErrorKind == models.ErrKindValidationFailed {
		data := map[string]any{
			"request_id":        result.RequestID,
			"success":           result.Success,
			"data":              result.Data,
			"agent_trail":       result.AgentTrail,
			"execution_time_ms": result.ExecutionTimeMS,
		}
		if result.ValidationWarning != "" {
			data["validation_warning"] = result.ValidationWarning
		}
		stream.Publish(ctx, events.Completed, data)
	} else {
		stream.Publish(ctx, events.Error, map[string]any{
			"request_id": result.RequestID,
			"kind":       string(result.ErrorKind),
			"message":    result.ErrorMessage,
		})
	}
	stream.Close()
}

// policyMetadata merges declared metadata with free-form fields, fields
// winning, so evaluators see values like "amount" wherever the client put
// them.
func policyMetadata(req *models.QueryRequest) map[string]any {
	merged := make(map[string]any, len(req.Metadata)+len(req.Fields))
	for k, v := range req.Metadata {
		merged[k] = v
	}
	for k, v := range req.Fields {
		merged[k] = v
	}
	return merged
}

func collectData(responses []models.AgentResponse) map[string]map[string]any {
	out := make(map[string]map[string]any)
	for _, resp := range responses {
		if resp.Success {
			out[resp.AgentName] = resp.Data
		}
	}
	return out
}

func trail(responses []models.AgentResponse) []string {
	names := make([]string, 0, len(responses))
	for _, resp := range responses {
		names = append(names, resp.AgentName)
	}
	return names
}

func failureSummary(responses []models.AgentResponse) string {
	var parts []string
	for _, resp := range responses {
		if !resp.Success {
			parts = append(parts, fmt.Sprintf("%s (%s)", resp.AgentName, resp.Error))
		}
	}
	if len(parts) == 0 {
		return "no agent produced a result"
	}
	return "all agents failed: " + strings.Join(parts, ", ")
}

// interactions records what each agent actually received and returned.
// resp.Input is the post-constraint input from the engine, so the log
// never shows fields the agent was not given.
func interactions(responses []models.AgentResponse) []models.AgentInteraction {
	out := make([]models.AgentInteraction, 0, len(responses))
	for _, resp := range responses {
		out = append(out, models.AgentInteraction{
			AgentName:       resp.AgentName,
			Input:           resp.Input,
			Output:          resp.Data,
			Success:         resp.Success,
			ExecutionTimeMS: resp.ExecutionTimeMS,
			Attempts:        resp.AttemptCount,
			FallbackUsed:    resp.FallbackUsed,
			Error:           resp.Error,
		})
	}
	return out
}

func outcome(result *Result) string {
	if result.Success {
		return "success"
	}
	if result.ErrorKind != "" {
		return string(result.ErrorKind)
	}
	return "failure"
}
