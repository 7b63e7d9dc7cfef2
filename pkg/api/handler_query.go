package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/maestroproj/maestro/pkg/events"
	"github.com/maestroproj/maestro/pkg/models"
)

// queryHandler handles POST /v1/query for both JSON and SSE responses.
func (s *Server) queryHandler(c *echo.Context) error {
	r := c.Request()
	if max := s.settings.MaxRequestBytes; max > 0 {
		r.Body = http.MaxBytesReader(c.Response(), r.Body, int64(max))
	}

	var req models.QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}

	ctx := r.Context()
	if t := s.settings.RequestTimeout.Std(); t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	if req.Stream {
		return s.streamQuery(ctx, c, &req)
	}

	result := s.orch.Process(ctx, &req, nil)
	status, body := renderResult(result)
	return c.JSON(status, body)
}

// streamQuery serves the SSE variant: the pipeline runs in its own
// goroutine and publishes progress events; the handler relays each to the
// client and flushes. A client disconnect cancels the request.
func (s *Server) streamQuery(ctx context.Context, c *echo.Context, req *models.QueryRequest) error {
	h := c.Response().Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	stream := events.NewStream(32)
	go s.orch.Process(ctx, req, stream)

	for ev := range stream.Events() {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			data = []byte(`{}`)
		}
		if _, err := fmt.Fprintf(c.Response(), "event: %s\ndata: %s\n\n", ev.Name, data); err != nil {
			// Client went away; the request context cancels the pipeline.
			break
		}
		if f, ok := c.Response().(http.Flusher); ok {
			f.Flush()
		}
	}
	return nil
}
