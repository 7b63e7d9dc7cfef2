package agent

import (
	"errors"
	"fmt"
	"net/http"
)

// StatusError is returned by remote agents for non-2xx responses. The
// retry core treats 5xx-category errors as retryable and everything else
// as a hard failure.
type StatusError struct {
	Code    int
	Message string
}

// Error returns the formatted error message.
func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("agent returned status %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("agent returned status %d", e.Code)
}

// Temporary reports whether the failure is server-side and worth retrying.
func (e *StatusError) Temporary() bool {
	return e.Code >= http.StatusInternalServerError
}

// IsAuthError reports whether err is an authentication/authorization
// failure from a remote agent. Auth errors are never retried.
func IsAuthError(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusUnauthorized || se.Code == http.StatusForbidden
	}
	return false
}
