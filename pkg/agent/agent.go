// Package agent defines the contract every registered agent implements.
// Agents consume a structured input map and produce a structured output
// map; they may be in-process values or remote HTTP services.
package agent

import "context"

// Agent is a named unit of capability. Implementations must be safe for
// concurrent use; the execution engine may invoke the same agent from
// multiple requests at once.
type Agent interface {
	// Name returns the unique agent identifier.
	Name() string

	// Capabilities returns the lowercased capability tags this agent claims.
	Capabilities() []string

	// Invoke executes the agent against the merged input. ctx carries the
	// per-attempt timeout and the request cancellation signal.
	Invoke(ctx context.Context, input map[string]any) (map[string]any, error)
}

// Func adapts a plain function to the Agent interface. Used by tests and
// by embedders that register in-process agents.
type Func struct {
	AgentName string
	Tags      []string
	Fn        func(ctx context.Context, input map[string]any) (map[string]any, error)
}

// Name implements Agent.
func (f *Func) Name() string { return f.AgentName }

// Capabilities implements Agent.
func (f *Func) Capabilities() []string { return f.Tags }

// Invoke implements Agent.
func (f *Func) Invoke(ctx context.Context, input map[string]any) (map[string]any, error) {
	return f.Fn(ctx, input)
}
