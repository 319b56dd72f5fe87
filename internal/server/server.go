// Package server is the thin HTTP boundary: it translates JSON requests
// into orchestrator runs and serializes the results. No refinement logic
// lives here.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/factotum-dev/factotum/internal/ai"
	"github.com/factotum-dev/factotum/internal/history"
	"github.com/factotum-dev/factotum/internal/refine"
)

// Server exposes the refinement orchestrator over HTTP.
type Server struct {
	httpServer *http.Server
	orch       *refine.Orchestrator
	defaults   refine.Config
	store      *history.Store // optional, nil disables the ledger routes
	model      string
	logger     *slog.Logger
}

// New creates the HTTP boundary. store may be nil to disable run history.
func New(orch *refine.Orchestrator, defaults refine.Config, store *history.Store, model, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		orch:     orch,
		defaults: defaults,
		store:    store,
		model:    model,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/api/health", s.handleHealth)
	r.Post("/api/runs", s.handleCreateRun)
	if store != nil {
		r.Get("/api/runs", s.handleListRuns)
		r.Get("/api/runs/{id}", s.handleGetRun)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: r,
	}
	return s
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("factotum listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

type runRequest struct {
	Topic               string   `json:"topic"`
	MaxIterations       *int     `json:"max_iterations,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
}

type runResponse struct {
	ID         string   `json:"id"`
	Topic      string   `json:"topic"`
	Research   string   `json:"research"`
	Iterations int      `json:"iterations"`
	Confidence *float64 `json:"confidence,omitempty"`
	ElapsedMS  int64    `json:"elapsed_ms"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Topic) == "" {
		writeError(w, http.StatusBadRequest, "topic is required")
		return
	}

	// Validate the merged config here so orchestrator errors can only be
	// stage failures by the time Run is called.
	cfg := s.defaults
	if req.MaxIterations != nil {
		cfg.MaxIterations = *req.MaxIterations
	}
	if req.ConfidenceThreshold != nil {
		cfg.ConfidenceThreshold = *req.ConfidenceThreshold
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.orch.Run(r.Context(), req.Topic, cfg)
	if err != nil {
		status := statusForError(err)
		s.logger.Error("run request failed", "topic", req.Topic, "status", status, "error", err)
		writeError(w, status, err.Error())
		return
	}

	if s.store != nil {
		// Ledger failures must not fail a completed run.
		if err := s.store.Record(r.Context(), result, s.model); err != nil {
			s.logger.Error("failed to record run", "run_id", result.ID, "error", err)
		}
	}

	writeJSON(w, http.StatusOK, runResponse{
		ID:         result.ID,
		Topic:      result.Topic,
		Research:   result.Research,
		Iterations: result.Iterations,
		Confidence: result.Confidence,
		ElapsedMS:  result.Elapsed.Milliseconds(),
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.List(r.Context(), 50)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	out := make([]runResponse, 0, len(runs))
	for _, run := range runs {
		out = append(out, historyResponse(run))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get run", "run_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("run %s not found", id))
		return
	}
	writeJSON(w, http.StatusOK, historyResponse(run))
}

func historyResponse(run *history.Run) runResponse {
	return runResponse{
		ID:         run.ID,
		Topic:      run.Topic,
		Research:   run.Research,
		Iterations: run.Iterations,
		Confidence: run.Confidence,
		ElapsedMS:  run.Duration.Milliseconds(),
	}
}

// statusForError maps the client error taxonomy onto HTTP statuses. Only
// the error message crosses the boundary, never internals.
func statusForError(err error) int {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case ai.IsUpstreamError(err), ai.IsNetworkError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// ShutdownTimeout is how long Stop waits for in-flight runs to finish.
const ShutdownTimeout = 10 * time.Second
