// Package events defines the per-request progress events emitted over the
// SSE surface and the bounded stream that carries them from the pipeline
// to the HTTP handler.
package events

import "context"

// Event names, in emission order. A stream ends with either Completed or
// Error; AgentOutput may repeat.
const (
	Started            = "started"
	SecurityValidation = "security_validation"
	ReasoningStarted   = "reasoning_started"
	ReasoningComplete  = "reasoning_complete"
	AgentsExecuting    = "agents_executing"
	AgentOutput        = "agent_output"
	Validation         = "validation"
	Completed          = "completed"
	Error              = "error"
)

// Event is one progress notification.
type Event struct {
	Name string
	Data map[string]any
}

// Stream is a bounded, single-producer event channel. The pipeline
// publishes; the HTTP handler consumes. Publishing never blocks past the
// request context: a cancelled consumer loses trailing events, which is
// acceptable because cancellation also aborts the request.
type Stream struct {
	ch chan Event
}

// NewStream creates a stream with the given buffer.
func NewStream(buffer int) *Stream {
	if buffer < 1 {
		buffer = 16
	}
	return &Stream{ch: make(chan Event, buffer)}
}

// Publish sends an event, giving up if ctx ends first.
func (s *Stream) Publish(ctx context.Context, name string, data map[string]any) {
	if s == nil {
		return
	}
	select {
	case s.ch <- Event{Name: name, Data: data}:
	case <-ctx.Done():
	}
}

// Close ends the stream; the consumer's range loop terminates.
func (s *Stream) Close() {
	if s != nil {
		close(s.ch)
	}
}

// Events returns the receive side.
func (s *Stream) Events() <-chan Event { return s.ch }
