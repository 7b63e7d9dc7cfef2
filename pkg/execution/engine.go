package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dario.cat/mergo"
	"golang.org/x/sync/errgroup"

	"github.com/maestroproj/maestro/pkg/agent"
	"github.com/maestroproj/maestro/pkg/config"
	"github.com/maestroproj/maestro/pkg/models"
)

// AgentSource is the registry surface the engine depends on.
type AgentSource interface {
	Resolve(name string) (agent.Agent, *config.AgentDescriptor, error)
	Selectable(name string) bool
	Breaker(name string) *Breaker
	Allow(name string) error
	RecordOutcome(name string, success bool, elapsed time.Duration)
}

// Engine drives the agents of a selection plan, sequentially or in
// parallel, applying per-agent retry, rate limits, circuit breaking, and
// fallback dispatch.
type Engine struct {
	src            AgentSource
	defaults       RetryPolicy
	defaultTimeout time.Duration
	maxParallel    int
}

// NewEngine creates an execution engine.
func NewEngine(src AgentSource, defaults RetryPolicy, defaultTimeout time.Duration, maxParallel int) *Engine {
	if maxParallel < 1 {
		maxParallel = 1
	}
	return &Engine{
		src:            src,
		defaults:       defaults,
		defaultTimeout: defaultTimeout,
		maxParallel:    maxParallel,
	}
}

// Execute runs every agent in the plan against merge(base, per-agent
// overrides). The returned responses are in plan order; a primary agent
// that exhausted retries and fell back contributes two entries (the failed
// primary, then the fallback). onResult, when non-nil, is invoked for each
// response as it completes.
func (e *Engine) Execute(ctx context.Context, plan *models.SelectionPlan, base map[string]any,
	onResult func(models.AgentResponse)) []models.AgentResponse {

	if plan.None() {
		return nil
	}

	if !plan.Parallel || len(plan.Agents) == 1 {
		var out []models.AgentResponse
		for _, name := range plan.Agents {
			responses := e.invokeWithFallback(ctx, name, plan.ParametersFor(name), base)
			for _, resp := range responses {
				if onResult != nil {
					onResult(resp)
				}
				out = append(out, resp)
			}
		}
		return out
	}

	// Parallel fan-out, bounded by maxParallel. Agents are independent;
	// one failure never cancels the siblings.
	results := make([][]models.AgentResponse, len(plan.Agents))
	var mu sync.Mutex
	g := &errgroup.Group{}
	g.SetLimit(e.maxParallel)

	for i, name := range plan.Agents {
		g.Go(func() error {
			responses := e.invokeWithFallback(ctx, name, plan.ParametersFor(name), base)
			mu.Lock()
			results[i] = responses
			if onResult != nil {
				for _, resp := range responses {
					onResult(resp)
				}
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	var out []models.AgentResponse
	for _, responses := range results {
		out = append(out, responses...)
	}
	return out
}

// invokeWithFallback runs one agent to completion and, on exhausted
// retries, dispatches the identical input to its fallback when one is
// configured and currently selectable.
func (e *Engine) invokeWithFallback(ctx context.Context, name string, overrides, base map[string]any) []models.AgentResponse {
	primary := e.invokeOne(ctx, name, overrides, base, false)
	if primary.Success || ctx.Err() != nil {
		return []models.AgentResponse{primary}
	}

	_, desc, err := e.src.Resolve(name)
	if err != nil || desc.FallbackName == "" || desc.FallbackName == name {
		return []models.AgentResponse{primary}
	}
	if !e.src.Selectable(desc.FallbackName) {
		slog.Warn("Fallback agent not selectable, skipping",
			"agent", name, "fallback", desc.FallbackName)
		return []models.AgentResponse{primary}
	}

	slog.Info("Dispatching fallback agent", "agent", name, "fallback", desc.FallbackName)
	fallback := e.invokeOne(ctx, desc.FallbackName, overrides, base, true)
	return []models.AgentResponse{primary, fallback}
}

// invokeOne runs a single agent with retry. The merged input is filtered
// through the agent's allowed/denied input field constraints.
func (e *Engine) invokeOne(ctx context.Context, name string, overrides, base map[string]any, isFallback bool) models.AgentResponse {
	start := time.Now()
	resp := models.AgentResponse{AgentName: name, FallbackUsed: isFallback}

	impl, desc, err := e.src.Resolve(name)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}

	input, err := buildInput(base, overrides, desc)
	if err != nil {
		resp.Error = err.Error()
		return resp
	}
	resp.Input = input

	// Rate limit is checked before dispatch; a rejected request costs no
	// attempt and carries a retry-after hint in the error.
	if err := e.src.Allow(name); err != nil {
		resp.Error = err.Error()
		return resp
	}

	policy := e.defaults
	if desc.Constraints.MaxRetries != nil {
		policy.MaxRetries = *desc.Constraints.MaxRetries
	}
	timeout := e.defaultTimeout
	if t := desc.Constraints.Timeout.Std(); t > 0 {
		timeout = t
	} else if t := desc.Role.MaxExecutionTime.Std(); t > 0 {
		timeout = t
	}

	breaker := e.src.Breaker(name)
	result := doWithRetry(ctx, policy, timeout, func(attemptCtx context.Context) (map[string]any, error) {
		if breaker != nil {
			if err := breaker.Allow(); err != nil {
				return nil, err
			}
		}
		attemptStart := time.Now()
		output, invokeErr := impl.Invoke(attemptCtx, input)
		e.src.RecordOutcome(name, invokeErr == nil, time.Since(attemptStart))
		return output, invokeErr
	})

	resp.ExecutionTimeMS = time.Since(start).Milliseconds()
	resp.AttemptCount = result.attempts
	if result.err != nil {
		resp.Error = result.err.Error()
		return resp
	}
	resp.Success = true
	resp.Data = result.output
	return resp
}

// buildInput merges the base input with per-agent overrides (override wins
// on key conflict) and applies the descriptor's input field constraints.
func buildInput(base, overrides map[string]any, desc *config.AgentDescriptor) (map[string]any, error) {
	merged := make(map[string]any, len(base)+len(overrides))
	for k, v := range base {
		merged[k] = v
	}
	if len(overrides) > 0 {
		if err := mergo.Merge(&merged, overrides, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge agent parameters: %w", err)
		}
	}

	if allowed := desc.Constraints.AllowedInputFields; len(allowed) > 0 {
		keep := make(map[string]bool, len(allowed)+1)
		for _, f := range allowed {
			keep[f] = true
		}
		keep[models.KeyQuery] = true
		for k := range merged {
			if !keep[k] {
				delete(merged, k)
			}
		}
	}
	for _, f := range desc.Constraints.DeniedInputFields {
		delete(merged, f)
	}
	return merged, nil
}
