package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPAgentInvoke(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var input map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&input))
		assert.Equal(t, "add", input["operation"])

		json.NewEncoder(w).Encode(map[string]any{"result": 42.0})
	}))
	defer srv.Close()

	a := NewHTTPAgent("calculator", []string{"math"}, srv.URL)
	assert.Equal(t, "calculator", a.Name())
	assert.Equal(t, []string{"math"}, a.Capabilities())

	out, err := a.Invoke(context.Background(), map[string]any{"operation": "add"})
	require.NoError(t, err)
	assert.Equal(t, 42.0, out["result"])
}

func TestHTTPAgentStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "backend exploded", http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewHTTPAgent("calculator", []string{"math"}, srv.URL)
	_, err := a.Invoke(context.Background(), nil)
	require.Error(t, err)

	se, ok := err.(*StatusError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, se.Code)
	assert.Contains(t, se.Message, "backend exploded")
	assert.True(t, se.Temporary())
}

func TestHTTPAgentClientErrorsAreNotTemporary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	a := NewHTTPAgent("calculator", nil, srv.URL)
	_, err := a.Invoke(context.Background(), nil)

	se := &StatusError{}
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Temporary())
}

func TestHTTPAgentInvalidJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	a := NewHTTPAgent("calculator", nil, srv.URL)
	_, err := a.Invoke(context.Background(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid JSON")
}

func TestHTTPAgentHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	a := NewHTTPAgent("calculator", nil, srv.URL)
	_, err := a.Invoke(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsAuthError(t *testing.T) {
	assert.True(t, IsAuthError(&StatusError{Code: http.StatusUnauthorized}))
	assert.True(t, IsAuthError(&StatusError{Code: http.StatusForbidden}))
	assert.False(t, IsAuthError(&StatusError{Code: http.StatusInternalServerError}))
	assert.False(t, IsAuthError(assert.AnError))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	long := strings.Repeat("x", 300)
	got := truncate(long, 256)
	assert.Len(t, got, 259)
	assert.True(t, strings.HasSuffix(got, "..."))
}
