package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/maestroproj/maestro/pkg/execution"
	"github.com/maestroproj/maestro/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"

	agentStatusUp       = "up"
	agentStatusDegraded = "degraded"
	agentStatusDown     = "down"
)

// AgentHealth is the per-agent slice of the health report.
type AgentHealth struct {
	Status       string  `json:"status"`
	CircuitState string  `json:"circuit_state"`
	CallCount    int64   `json:"call_count"`
	FailureCount int64   `json:"failure_count"`
	AvgExecMS    float64 `json:"avg_execution_time_ms"`
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status            string                 `json:"status"`
	Version           string                 `json:"version"`
	Agents            map[string]AgentHealth `json:"agents"`
	ReasoningProvider string                 `json:"reasoning_provider"`
}

// healthHandler handles GET /health. An agent with an open circuit is
// down, a half-open circuit degraded. The endpoint is unauthenticated and
// returns 503 only when every agent is down.
func (s *Server) healthHandler(c *echo.Context) error {
	resp := HealthResponse{
		Status:            healthStatusHealthy,
		Version:           version.Full(),
		Agents:            make(map[string]AgentHealth),
		ReasoningProvider: "unavailable",
	}
	if s.reasoningAvailable {
		resp.ReasoningProvider = "available"
	}

	down := 0
	for name, status := range s.agents.Health() {
		agentStatus := agentStatusUp
		switch status.CircuitState {
		case execution.CircuitOpen:
			agentStatus = agentStatusDown
			down++
		case execution.CircuitHalfOpen:
			agentStatus = agentStatusDegraded
		}
		resp.Agents[name] = AgentHealth{
			Status:       agentStatus,
			CircuitState: string(status.CircuitState),
			CallCount:    status.CallCount,
			FailureCount: status.FailureCount,
			AvgExecMS:    status.AvgExecutionMS,
		}
	}

	httpStatus := http.StatusOK
	switch {
	case len(resp.Agents) > 0 && down == len(resp.Agents):
		resp.Status = healthStatusUnhealthy
		httpStatus = http.StatusServiceUnavailable
	case down > 0:
		resp.Status = healthStatusDegraded
	}
	return c.JSON(httpStatus, resp)
}
