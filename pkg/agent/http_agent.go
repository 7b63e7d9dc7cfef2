package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxResponseBytes caps how much of a remote agent's response is read.
const maxResponseBytes = 4 * 1024 * 1024

// HTTPAgent invokes a remote agent over HTTP. The remote contract is a
// single POST endpoint taking the input map as JSON and returning the
// output map as JSON.
type HTTPAgent struct {
	name         string
	capabilities []string
	endpoint     string
	client       *http.Client
}

// NewHTTPAgent creates an HTTP-backed agent. The per-attempt timeout is
// enforced by the caller through ctx; the client timeout is a hard upper
// bound in case the caller supplies none.
func NewHTTPAgent(name string, capabilities []string, endpoint string) *HTTPAgent {
	return &HTTPAgent{
		name:         name,
		capabilities: capabilities,
		endpoint:     endpoint,
		client:       &http.Client{Timeout: 5 * time.Minute},
	}
}

// Name implements Agent.
func (a *HTTPAgent) Name() string { return a.name }

// Capabilities implements Agent.
func (a *HTTPAgent) Capabilities() []string { return a.capabilities }

// Invoke implements Agent.
func (a *HTTPAgent) Invoke(ctx context.Context, input map[string]any) (map[string]any, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode agent input: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build agent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("agent call failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read agent response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Code: resp.StatusCode, Message: truncate(string(data), 256)}
	}

	var output map[string]any
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, fmt.Errorf("agent returned invalid JSON: %w", err)
	}
	return output, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
