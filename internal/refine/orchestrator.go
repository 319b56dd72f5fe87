package refine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Orchestrator drives the research → fact-check loop. It is safe for
// concurrent use: each Run allocates fresh stages and its own state.
type Orchestrator struct {
	client CompletionClient
	logger *slog.Logger
}

// New creates an orchestrator bound to a completion client.
func New(client CompletionClient, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{client: client, logger: logger}
}

// Run refines the topic until the iteration cap or confidence threshold is
// reached.
//
// Each round trip performs a research pass followed by a fact-check pass;
// the fact-checked draft replaces the run's state and feeds the next
// research pass as a continuation. The cap is checked after each completed
// fact-check pass, so up to MaxIterations full round trips execute. The
// confidence threshold is consulted only when the fact-check stage supplied
// a value.
//
// Any stage failure ends the run immediately: the triggering error is
// returned and no partial result is produced.
func (o *Orchestrator) Run(ctx context.Context, topic string, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("topic cannot be empty")
	}

	runID := uuid.New().String()
	logger := o.logger.With("run_id", runID)

	research := NewResearchStage(o.client, logger)
	factCheck := NewFactCheckStage(o.client, logger, cfg.ConfidenceProbe)

	state := IterationState{Topic: topic}
	current := phaseIdle
	start := time.Now()

	logger.Info("run started",
		"topic", topic,
		"max_iterations", cfg.MaxIterations,
		"confidence_threshold", cfg.ConfidenceThreshold)

	for {
		if err := ctx.Err(); err != nil {
			logger.Warn("run canceled", "iterations", state.Iteration)
			return nil, err
		}

		current = phaseResearching
		logger.Debug("state transition", "state", current, "iteration", state.Iteration)
		draft, err := research.Research(ctx, state.Topic, state.Research, state.Iteration)
		if err != nil {
			current = phaseFailed
			logger.Error("run failed", "state", current, "iterations", state.Iteration, "error", err)
			return nil, err
		}

		current = phaseFactChecking
		logger.Debug("state transition", "state", current, "iteration", state.Iteration)
		verified, confidence, err := factCheck.FactCheck(ctx, draft, state.Iteration)
		if err != nil {
			current = phaseFailed
			logger.Error("run failed", "state", current, "iterations", state.Iteration, "error", err)
			return nil, err
		}

		// Replace, never mutate: iteration counts completed fact-check passes.
		state = IterationState{
			Topic:      state.Topic,
			Research:   verified,
			Iteration:  state.Iteration + 1,
			Confidence: confidence,
		}
		logger.Debug("round trip complete",
			"iteration", state.Iteration,
			"research_chars", len(state.Research),
			"confidence", confidenceAttr(state.Confidence))

		if state.Iteration >= cfg.MaxIterations {
			logger.Info("run finished", "reason", "iteration cap", "iterations", state.Iteration)
			break
		}
		if state.Confidence != nil && *state.Confidence >= cfg.ConfidenceThreshold {
			logger.Info("run finished", "reason", "confidence threshold",
				"iterations", state.Iteration, "confidence", *state.Confidence)
			break
		}
	}
	current = phaseDone
	logger.Debug("state transition", "state", current)

	return &Result{
		ID:         runID,
		Topic:      topic,
		Research:   state.Research,
		Iterations: state.Iteration,
		Confidence: state.Confidence,
		Elapsed:    time.Since(start),
	}, nil
}

// confidenceAttr renders an optional confidence for logging.
func confidenceAttr(c *float64) any {
	if c == nil {
		return "none"
	}
	return *c
}
