package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/maestroproj/maestro/pkg/agent"
	"github.com/maestroproj/maestro/pkg/config"
	"github.com/maestroproj/maestro/pkg/execution"
	"github.com/maestroproj/maestro/pkg/registry"
)

// Client is the reasoning surface the hybrid reasoner consumes.
// Validate judges a rule-based selection (and extracts per-agent
// parameters in the same call); Select picks agents from scratch.
type Client interface {
	Available() bool
	Validate(ctx context.Context, input map[string]any, planAgents []string, catalog []registry.AgentSummary) (*Verdict, error)
	Select(ctx context.Context, input map[string]any, catalog []registry.AgentSummary) (*Verdict, error)
	JudgeRelevance(ctx context.Context, query string, outputs map[string]map[string]any) (*Verdict, error)
}

const maxReplyBytes = 1 << 20

// HTTPClient talks to an OpenAI-compatible chat-completions endpoint. It
// is stateless; every call carries the full context it needs. Calls get a
// small retry budget and a hard per-attempt timeout so a slow provider
// cannot stall selection.
type HTTPClient struct {
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
	retry   execution.RetryPolicy
	httpc   *http.Client
}

// NewHTTPClient builds a client from provider settings. An empty base URL
// yields an unavailable client; callers degrade to rule-only selection.
func NewHTTPClient(cfg config.ReasoningProviderConfig) *HTTPClient {
	timeout := cfg.Timeout.Std()
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		timeout: timeout,
		retry: execution.RetryPolicy{
			MaxRetries:      retries,
			InitialDelay:    250 * time.Millisecond,
			MaxDelay:        2 * time.Second,
			ExponentialBase: 2.0,
		},
		httpc: &http.Client{},
	}
}

// Available reports whether a provider endpoint is configured.
func (c *HTTPClient) Available() bool { return c != nil && c.baseURL != "" }

const validateSystemPrompt = `You validate agent selections for a query orchestrator.
Reply with a single JSON object and nothing else:
{"is_valid": bool, "confidence": 0.0-1.0, "reasoning": "short text",
 "suggested_agents": ["name", ...], "parameters": {"agent_name": {"param": value}}}
Set is_valid=true only when the proposed agents genuinely fit the request.
When is_valid=false, put better-fitting agents from the catalog in
suggested_agents, or leave it empty if none fit.
Always fill parameters with values extracted from the request for each
agent you endorse.`

const selectSystemPrompt = `You select agents for a query orchestrator.
Reply with a single JSON object and nothing else:
{"is_valid": bool, "confidence": 0.0-1.0, "reasoning": "short text",
 "suggested_agents": ["name", ...], "parameters": {"agent_name": {"param": value}}}
Choose only agents from the catalog. If no agent fits the request, set
is_valid=false and leave suggested_agents empty. Always fill parameters
with values extracted from the request for each selected agent.`

// Validate asks the provider to judge the rule-selected agents against the
// request, extracting per-agent parameters in the same round trip.
func (c *HTTPClient) Validate(ctx context.Context, input map[string]any, planAgents []string, catalog []registry.AgentSummary) (*Verdict, error) {
	user := fmt.Sprintf("Request:\n%s\n\nProposed agents: %s\n\nAgent catalog:\n%s",
		compactJSON(input), strings.Join(planAgents, ", "), compactJSON(catalog))
	reply, err := c.generate(ctx, validateSystemPrompt, user)
	if err != nil {
		return nil, err
	}
	return ParseVerdict(reply), nil
}

// Select asks the provider to pick agents from scratch.
func (c *HTTPClient) Select(ctx context.Context, input map[string]any, catalog []registry.AgentSummary) (*Verdict, error) {
	user := fmt.Sprintf("Request:\n%s\n\nAgent catalog:\n%s",
		compactJSON(input), compactJSON(catalog))
	reply, err := c.generate(ctx, selectSystemPrompt, user)
	if err != nil {
		return nil, err
	}
	return ParseVerdict(reply), nil
}

const relevanceSystemPrompt = `You judge whether agent outputs answer a user query.
Reply with a single JSON object and nothing else:
{"is_valid": bool, "confidence": 0.0-1.0, "reasoning": "short text"}
Set is_valid=true when the outputs plausibly answer the query.`

// JudgeRelevance asks the provider for a yes/no-with-confidence relevance
// judgment on agent outputs. Callers treat the answer as a soft signal.
func (c *HTTPClient) JudgeRelevance(ctx context.Context, query string, outputs map[string]map[string]any) (*Verdict, error) {
	user := fmt.Sprintf("Query:\n%s\n\nAgent outputs:\n%s", query, compactJSON(outputs))
	reply, err := c.generate(ctx, relevanceSystemPrompt, user)
	if err != nil {
		return nil, err
	}
	return ParseVerdict(reply), nil
}

// chat wire shapes, OpenAI-compatible.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// generate performs one chat completion with the client's retry budget.
// Each attempt is bounded by the hard timeout; request cancellation aborts
// immediately, including mid-backoff.
func (c *HTTPClient) generate(ctx context.Context, system, user string) (string, error) {
	if !c.Available() {
		return "", fmt.Errorf("reasoning provider not configured")
	}

	var lastErr error
	for attempt := 1; attempt <= c.retry.MaxRetries+1; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.retry.Delay(attempt - 1)):
			}
			slog.Debug("Retrying reasoning call", "attempt", attempt)
		}

		reply, err := c.complete(ctx, system, user)
		if err == nil {
			return reply, nil
		}
		lastErr = err
		if ctx.Err() != nil || !execution.IsRetryable(err) {
			break
		}
	}
	return "", lastErr
}

func (c *HTTPClient) complete(ctx context.Context, system, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode reasoning request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build reasoning request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("reasoning request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read reasoning reply: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &agent.StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(data))}
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("malformed reasoning reply: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("reasoning reply carried no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

func compactJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
