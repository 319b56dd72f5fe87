package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/factotum-dev/factotum/internal/ai"
	"github.com/factotum-dev/factotum/internal/refine"
)

type scriptedClient struct {
	mu           sync.Mutex
	calls        int
	completeFunc func(call int, prompt string) (string, error)
}

func (c *scriptedClient) Complete(ctx context.Context, prompt string) (string, error) {
	c.mu.Lock()
	c.calls++
	call := c.calls
	c.mu.Unlock()

	if c.completeFunc != nil {
		return c.completeFunc(call, prompt)
	}
	return fmt.Sprintf("completion-%d", call), nil
}

func newTestServer(t *testing.T, client refine.CompletionClient) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	orch := refine.New(client, logger)
	defaults := refine.Config{MaxIterations: 2, ConfidenceThreshold: 0.9}
	return New(orch, defaults, nil, "test-model", "127.0.0.1:0", logger)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}

func postRun(t *testing.T, srv *Server, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/runs", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &scriptedClient{})

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateRun(t *testing.T) {
	srv := newTestServer(t, &scriptedClient{})

	rec := postRun(t, srv, `{"topic": "quantum computing"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		ID         string   `json:"id"`
		Topic      string   `json:"topic"`
		Research   string   `json:"research"`
		Iterations int      `json:"iterations"`
		Confidence *float64 `json:"confidence"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "quantum computing", resp.Topic)
	assert.Equal(t, 2, resp.Iterations)
	assert.Equal(t, "completion-4", resp.Research)
	assert.Nil(t, resp.Confidence)
}

func TestCreateRun_Overrides(t *testing.T) {
	client := &scriptedClient{}
	srv := newTestServer(t, client)

	rec := postRun(t, srv, `{"topic": "deep dive", "max_iterations": 1}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Iterations int `json:"iterations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Iterations)
	assert.Equal(t, 2, client.calls)
}

func TestCreateRun_BadRequests(t *testing.T) {
	client := &scriptedClient{}
	srv := newTestServer(t, client)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"topic": `},
		{"missing topic", `{}`},
		{"whitespace topic", `{"topic": "   "}`},
		{"unknown field", `{"topic": "x", "bogus": true}`},
		{"zero iterations", `{"topic": "x", "max_iterations": 0}`},
		{"threshold out of range", `{"topic": "x", "confidence_threshold": 2.0}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postRun(t, srv, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}

	// Malformed payloads must be rejected before any AI call.
	assert.Equal(t, 0, client.calls)
}

func TestCreateRun_UpstreamFailure(t *testing.T) {
	client := &scriptedClient{
		completeFunc: func(call int, prompt string) (string, error) {
			return "", &ai.UpstreamError{StatusCode: 429, Message: "rate limited"}
		},
	}
	srv := newTestServer(t, client)

	rec := postRun(t, srv, `{"topic": "doomed"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["error"], "rate limited")
}

func TestCreateRun_NetworkFailure(t *testing.T) {
	client := &scriptedClient{
		completeFunc: func(call int, prompt string) (string, error) {
			return "", &ai.NetworkError{Err: fmt.Errorf("connection reset")}
		},
	}
	srv := newTestServer(t, client)

	rec := postRun(t, srv, `{"topic": "offline"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHistoryRoutesDisabledWithoutStore(t *testing.T) {
	srv := newTestServer(t, &scriptedClient{})

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
