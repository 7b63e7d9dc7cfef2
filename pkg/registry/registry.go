// Package registry holds registered agents, their descriptors, and their
// runtime health: call counters, circuit-breaker state, and per-agent rate
// limits. Selection reads are hot; registration is rare.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/maestroproj/maestro/pkg/agent"
	"github.com/maestroproj/maestro/pkg/config"
	"github.com/maestroproj/maestro/pkg/execution"
)

var (
	// ErrNotFound indicates the named agent is not registered.
	ErrNotFound = errors.New("agent not registered")

	// ErrDuplicateName indicates a registration with an already-used name.
	ErrDuplicateName = errors.New("agent name already registered")

	// ErrInvalidDescriptor indicates a descriptor that fails basic checks.
	ErrInvalidDescriptor = errors.New("invalid agent descriptor")
)

// RateLimitedError is returned before dispatch when an agent's rate limit
// window is exhausted. RetryAfter is a hint for the caller.
type RateLimitedError struct {
	AgentName  string
	RetryAfter time.Duration
}

// Error returns the formatted error message.
func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("agent %s rate limited, retry after %s", e.AgentName, e.RetryAfter.Round(time.Millisecond))
}

// entry pairs an agent implementation with its descriptor and runtime state.
type entry struct {
	agent      agent.Agent
	descriptor *config.AgentDescriptor
	health     *health
	breaker    *execution.Breaker
	limiter    *rate.Limiter
}

// health tracks per-agent call counters. Counter increments are atomic;
// the rolling average holds a short per-agent critical section.
type health struct {
	mu           sync.Mutex
	callCount    int64
	successCount int64
	failureCount int64
	avgExecMS    float64
}

// HealthStatus is a read-only snapshot of one agent's health.
type HealthStatus struct {
	CallCount       int64                  `json:"call_count"`
	SuccessCount    int64                  `json:"success_count"`
	FailureCount    int64                  `json:"failure_count"`
	AvgExecutionMS  float64                `json:"avg_execution_time_ms"`
	IsHealthy       bool                   `json:"is_healthy"`
	CircuitState    execution.CircuitState `json:"circuit_state"`
	OpenUntil       *time.Time             `json:"open_until,omitempty"`
	Enabled         bool                   `json:"enabled"`
	RateLimitPerMin int                    `json:"rate_limit_per_minute,omitempty"`
}

// AgentSummary is the descriptor slice fed to the reasoning client.
type AgentSummary struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
	Description  string   `json:"description,omitempty"`
}

// Registry is the capability registry. Multi-reader/single-writer: lookups
// take the read lock only.
type Registry struct {
	breakerCfg config.BreakerSettings

	mu      sync.RWMutex
	entries map[string]*entry
	index   map[string][]string // capability tag → agent names, registration order

	// OnRegister, when set before registration begins, is invoked for every
	// successful registration.
	OnRegister func(name string)
}

// New creates an empty registry using the given breaker settings for every
// agent's circuit breaker.
func New(breakerCfg config.BreakerSettings) *Registry {
	return &Registry{
		breakerCfg: breakerCfg,
		entries:    make(map[string]*entry),
		index:      make(map[string][]string),
	}
}

// Register adds an agent with its descriptor. The agent's reported name
// must match the descriptor name.
func (r *Registry) Register(a agent.Agent, desc *config.AgentDescriptor) error {
	if desc == nil || desc.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidDescriptor)
	}
	if len(desc.Capabilities) == 0 {
		return fmt.Errorf("%w: agent %s declares no capabilities", ErrInvalidDescriptor, desc.Name)
	}
	if a.Name() != desc.Name {
		return fmt.Errorf("%w: agent reports name %q but descriptor says %q",
			ErrInvalidDescriptor, a.Name(), desc.Name)
	}

	var limiter *rate.Limiter
	if n := desc.Constraints.RateLimitPerMinute; n > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(n)/60.0), n)
	}

	r.mu.Lock()
	if _, exists := r.entries[desc.Name]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateName, desc.Name)
	}
	r.entries[desc.Name] = &entry{
		agent:      a,
		descriptor: desc,
		health:     &health{},
		breaker:    execution.NewBreaker(r.breakerCfg.FailureThreshold, r.breakerCfg.CoolDown.Std()),
		limiter:    limiter,
	}
	for _, tag := range desc.Capabilities {
		r.index[tag] = append(r.index[tag], desc.Name)
	}
	r.mu.Unlock()

	slog.Info("Agent registered",
		"agent", desc.Name,
		"capabilities", desc.Capabilities,
		"enabled", desc.IsEnabled())
	if r.OnRegister != nil {
		r.OnRegister(desc.Name)
	}
	return nil
}

// Deregister removes an agent from the primary map and all index entries.
func (r *Registry) Deregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return
	}
	delete(r.entries, name)
	for _, tag := range e.descriptor.Capabilities {
		names := r.index[tag]
		for i, n := range names {
			if n == name {
				r.index[tag] = append(names[:i], names[i+1:]...)
				break
			}
		}
		if len(r.index[tag]) == 0 {
			delete(r.index, tag)
		}
	}
}

// Lookup returns the descriptor for name, or ErrNotFound.
func (r *Registry) Lookup(name string) (*config.AgentDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.descriptor, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Resolve returns the agent implementation and descriptor for name.
func (r *Registry) Resolve(name string) (agent.Agent, *config.AgentDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.agent, e.descriptor, nil
	}
	return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// ByCapability returns descriptors of enabled, currently-selectable agents
// claiming the (lowercased) tag, in registration order.
func (r *Registry) ByCapability(tag string) []*config.AgentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*config.AgentDescriptor
	for _, name := range r.index[tag] {
		e := r.entries[name]
		if e.descriptor.IsEnabled() && e.breaker.Selectable() {
			out = append(out, e.descriptor)
		}
	}
	return out
}

// AllEnabled returns a snapshot of enabled descriptors sorted by name.
func (r *Registry) AllEnabled() []*config.AgentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*config.AgentDescriptor, 0, len(r.entries))
	for _, e := range r.entries {
		if e.descriptor.IsEnabled() {
			out = append(out, e.descriptor)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Snapshot returns summaries of enabled, selectable agents for the
// reasoning client.
func (r *Registry) Snapshot() []AgentSummary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AgentSummary, 0, len(r.entries))
	for _, e := range r.entries {
		if e.descriptor.IsEnabled() && e.breaker.Selectable() {
			out = append(out, AgentSummary{
				Name:         e.descriptor.Name,
				Capabilities: e.descriptor.Capabilities,
				Description:  e.descriptor.Description,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Selectable reports whether name may be routed to: registered, enabled,
// and circuit not open.
func (r *Registry) Selectable(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return ok && e.descriptor.IsEnabled() && e.breaker.Selectable()
}

// Breaker returns the circuit breaker for name, or nil if unregistered.
func (r *Registry) Breaker(name string) *execution.Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.entries[name]; ok {
		return e.breaker
	}
	return nil
}

// Allow consumes one rate-limit token for name. When the window is
// exhausted it returns a RateLimitedError with a retry-after hint without
// consuming the token.
func (r *Registry) Allow(name string) error {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok || e.limiter == nil {
		return nil
	}

	now := time.Now()
	res := e.limiter.ReserveN(now, 1)
	if !res.OK() {
		return &RateLimitedError{AgentName: name, RetryAfter: time.Minute}
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return &RateLimitedError{AgentName: name, RetryAfter: delay}
	}
	return nil
}

// RecordOutcome updates counters and feeds the circuit breaker.
func (r *Registry) RecordOutcome(name string, success bool, elapsed time.Duration) {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return
	}

	h := e.health
	h.mu.Lock()
	h.callCount++
	if success {
		h.successCount++
	} else {
		h.failureCount++
	}
	// Cumulative moving average over all calls.
	h.avgExecMS += (float64(elapsed.Milliseconds()) - h.avgExecMS) / float64(h.callCount)
	h.mu.Unlock()

	e.breaker.Record(success)
}

// Health returns a snapshot of every registered agent's health keyed by name.
func (r *Registry) Health() map[string]HealthStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]HealthStatus, len(r.entries))
	for name, e := range r.entries {
		h := e.health
		h.mu.Lock()
		status := HealthStatus{
			CallCount:       h.callCount,
			SuccessCount:    h.successCount,
			FailureCount:    h.failureCount,
			AvgExecutionMS:  h.avgExecMS,
			CircuitState:    e.breaker.State(),
			Enabled:         e.descriptor.IsEnabled(),
			RateLimitPerMin: e.descriptor.Constraints.RateLimitPerMinute,
		}
		h.mu.Unlock()

		status.IsHealthy = status.CircuitState != execution.CircuitOpen
		if until := e.breaker.OpenUntil(); !until.IsZero() {
			status.OpenUntil = &until
		}
		out[name] = status
	}
	return out
}
