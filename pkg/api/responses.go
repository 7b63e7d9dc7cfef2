package api

import (
	"net/http"
	"time"

	"github.com/maestroproj/maestro/pkg/models"
	"github.com/maestroproj/maestro/pkg/orchestrator"
)

// QueryResponse is the POST /v1/query body. Exactly one of Metadata and
// Error is set on a pure success or pure failure; a validation_failed
// outcome carries both partial data and the error.
type QueryResponse struct {
	Success   bool                      `json:"success"`
	RequestID string                    `json:"request_id"`
	Data      map[string]map[string]any `json:"data,omitempty"`
	Message   string                    `json:"message,omitempty"`
	Metadata  *ResponseMetadata         `json:"metadata,omitempty"`
	Error     *ResponseError            `json:"error,omitempty"`
}

// ResponseMetadata describes how the request was served. Reasoning carries
// the selection confidence; validation scores are never exposed.
type ResponseMetadata struct {
	AgentTrail        []string          `json:"agent_trail"`
	Parallel          bool              `json:"parallel"`
	ExecutionTimeMS   int64             `json:"execution_time_ms"`
	Reasoning         ReasoningMetadata `json:"reasoning"`
	ValidationWarning string            `json:"validation_warning,omitempty"`
}

// ReasoningMetadata is the client-visible selection summary.
type ReasoningMetadata struct {
	Method     string  `json:"method"`
	Confidence float64 `json:"confidence"`
}

// ResponseError is the error envelope of a failed request.
type ResponseError struct {
	Kind                string     `json:"kind"`
	Message             string     `json:"message"`
	RestrictionLiftTime *time.Time `json:"restriction_lift_time,omitempty"`
}

// renderResult maps a pipeline result to HTTP status and body. Domain
// outcomes (denial, no agent, agent failure, invalid output) are HTTP 200
// with success=false; only transport-level faults use error statuses.
func renderResult(result *orchestrator.Result) (int, *QueryResponse) {
	body := &QueryResponse{
		Success:   result.Success,
		RequestID: result.RequestID,
		Message:   result.Message,
	}

	if result.Success {
		body.Data = result.Data
		body.Metadata = &ResponseMetadata{
			AgentTrail:      result.AgentTrail,
			Parallel:        result.Parallel,
			ExecutionTimeMS: result.ExecutionTimeMS,
			Reasoning: ReasoningMetadata{
				Method:     string(result.Method),
				Confidence: result.Confidence,
			},
			ValidationWarning: result.ValidationWarning,
		}
		return http.StatusOK, body
	}

	body.Error = &ResponseError{
		Kind:                string(result.ErrorKind),
		Message:             result.ErrorMessage,
		RestrictionLiftTime: result.RestrictionLiftTime,
	}
	if result.ErrorKind == models.ErrKindValidationFailed && len(result.Data) > 0 {
		body.Data = result.Data
		body.Metadata = &ResponseMetadata{
			AgentTrail:      result.AgentTrail,
			Parallel:        result.Parallel,
			ExecutionTimeMS: result.ExecutionTimeMS,
			Reasoning: ReasoningMetadata{
				Method:     string(result.Method),
				Confidence: result.Confidence,
			},
			ValidationWarning: result.ValidationWarning,
		}
	}

	switch result.ErrorKind {
	case models.ErrKindSecurity:
		return http.StatusBadRequest, body
	case models.ErrKindTimeout:
		return http.StatusGatewayTimeout, body
	case models.ErrKindInternal:
		return http.StatusInternalServerError, body
	default:
		// policy_denied, no_agent, agent_failed, validation_failed.
		return http.StatusOK, body
	}
}
