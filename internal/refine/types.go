// Package refine implements the two-stage research refinement loop: a
// research pass followed by a fact-check pass, repeated until the iteration
// cap or a confidence threshold is reached.
//
// The orchestrator handles loop mechanics (bounded iteration, state
// replacement, termination) while the stages build prompts and delegate to a
// completion client. Each run owns its own state, so concurrent runs do not
// interfere.
package refine

import (
	"context"
	"fmt"
	"time"
)

// CompletionClient is the single external collaborator: one prompt in, one
// text completion out. Implementations must be safe for concurrent use.
type CompletionClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// IterationState carries the refinement state for one run. It is replaced
// wholesale after each completed round trip, never mutated in place.
type IterationState struct {
	// Topic is the research subject. Immutable for the life of the run.
	Topic string

	// Research is the most recent fact-checked draft (empty before the
	// first round trip).
	Research string

	// Iteration counts completed fact-check passes.
	Iteration int

	// Confidence is the fact-check stage's accuracy estimate in [0,1],
	// or nil when the stage did not supply one.
	Confidence *float64
}

// Config controls one orchestration run. Read-only for the run's duration.
type Config struct {
	// MaxIterations caps the number of research+fact-check round trips.
	// Must be at least 1.
	MaxIterations int

	// ConfidenceThreshold ends the run early when the fact-check stage
	// reports confidence at or above it. Ignored when no confidence is
	// reported. Must be in [0,1].
	ConfidenceThreshold float64

	// ConfidenceProbe asks the fact-check stage to estimate its own
	// confidence. When false (the default) no stage ever supplies a
	// confidence value and only MaxIterations governs termination.
	ConfidenceProbe bool
}

// Validate checks the config before any AI call is issued.
func (c Config) Validate() error {
	if c.MaxIterations < 1 {
		return fmt.Errorf("MaxIterations must be at least 1, got %d", c.MaxIterations)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1 {
		return fmt.Errorf("ConfidenceThreshold must be in [0,1], got %v", c.ConfidenceThreshold)
	}
	return nil
}

// DefaultConfig returns the default refinement configuration.
func DefaultConfig() Config {
	return Config{
		MaxIterations:       3,
		ConfidenceThreshold: 0.9,
	}
}

// Result is the outcome of a completed run.
type Result struct {
	// ID uniquely identifies the run.
	ID string

	// Topic is the subject the run refined.
	Topic string

	// Research is the final fact-checked draft.
	Research string

	// Iterations is the number of completed fact-check passes.
	Iterations int

	// Confidence is the last reported confidence, or nil if none was
	// ever supplied.
	Confidence *float64

	// Elapsed is the total wall-clock duration of the run.
	Elapsed time.Duration
}

// phase tracks the orchestrator's position in its state machine.
type phase int

const (
	phaseIdle phase = iota
	phaseResearching
	phaseFactChecking
	phaseDone
	phaseFailed
)

func (p phase) String() string {
	switch p {
	case phaseIdle:
		return "idle"
	case phaseResearching:
		return "researching"
	case phaseFactChecking:
		return "fact_checking"
	case phaseDone:
		return "done"
	case phaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}
