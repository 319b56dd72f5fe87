package refine

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// ResearchStage produces a research draft for a topic via one completion
// call. Prompt construction is a pure function of its inputs.
type ResearchStage struct {
	client CompletionClient
	logger *slog.Logger
}

// NewResearchStage creates a research stage bound to a completion client.
func NewResearchStage(client CompletionClient, logger *slog.Logger) *ResearchStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResearchStage{client: client, logger: logger}
}

// Prompt builds the research prompt. The first pass uses the topic alone;
// later passes continue from the prior fact-checked draft.
func (s *ResearchStage) Prompt(topic, prior string) string {
	if prior == "" {
		return fmt.Sprintf("Research this topic: %s", topic)
	}
	return fmt.Sprintf(
		"Research this topic: %s\n\nContinue from the verified research below. Deepen it, fill gaps, and correct anything incomplete.\n\n%s",
		topic, prior)
}

// Research performs one research pass. Client errors pass through untouched.
func (s *ResearchStage) Research(ctx context.Context, topic, prior string, iteration int) (string, error) {
	s.logger.Debug("research pass started", "iteration", iteration, "continuation", prior != "")
	text, err := s.client.Complete(ctx, s.Prompt(topic, prior))
	if err != nil {
		return "", err
	}
	return text, nil
}

// confidenceMarker is the line prefix the fact-check prompt asks for when
// the confidence probe is enabled.
const confidenceMarker = "CONFIDENCE:"

// FactCheckStage verifies and improves a research draft via one completion
// call. A successful pass is what advances the run's iteration count.
type FactCheckStage struct {
	client CompletionClient
	logger *slog.Logger
	probe  bool
}

// NewFactCheckStage creates a fact-check stage. When probe is true the
// prompt asks the model to end with a CONFIDENCE: line, which is parsed
// into the returned confidence estimate.
func NewFactCheckStage(client CompletionClient, logger *slog.Logger, probe bool) *FactCheckStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &FactCheckStage{client: client, logger: logger, probe: probe}
}

// Prompt builds the fact-check prompt for a research draft.
func (s *FactCheckStage) Prompt(research string) string {
	prompt := fmt.Sprintf("Verify and improve: %s", research)
	if s.probe {
		prompt += "\n\nEnd your response with a single line of the form\nCONFIDENCE: <value between 0 and 1>\nestimating the factual accuracy of the improved text."
	}
	return prompt
}

// FactCheck performs one verification pass. Client failures are wrapped with
// pass context for diagnosis; the underlying error remains inspectable via
// errors.As. The confidence result is nil unless the probe is enabled and
// the response carried a parseable CONFIDENCE line.
func (s *FactCheckStage) FactCheck(ctx context.Context, research string, iteration int) (string, *float64, error) {
	s.logger.Debug("fact-check pass started", "iteration", iteration, "draft_chars", len(research))
	text, err := s.client.Complete(ctx, s.Prompt(research))
	if err != nil {
		return "", nil, fmt.Errorf("fact-check pass %d failed: %w", iteration+1, err)
	}
	if !s.probe {
		return text, nil, nil
	}
	stripped, confidence := extractConfidence(text)
	if confidence == nil {
		s.logger.Debug("no parseable confidence in fact-check response", "iteration", iteration)
	}
	return stripped, confidence, nil
}

// extractConfidence looks for a trailing "CONFIDENCE: <float>" line. It
// returns the text without that line and the parsed value, or the original
// text and nil when the line is absent, unparseable, or out of range.
func extractConfidence(text string) (string, *float64) {
	trimmed := strings.TrimRight(text, "\n \t")
	idx := strings.LastIndex(trimmed, "\n")
	last := trimmed
	if idx >= 0 {
		last = trimmed[idx+1:]
	}
	last = strings.TrimSpace(last)
	if !strings.HasPrefix(last, confidenceMarker) {
		return text, nil
	}
	raw := strings.TrimSpace(strings.TrimPrefix(last, confidenceMarker))
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value < 0 || value > 1 {
		return text, nil
	}
	if idx < 0 {
		return "", &value
	}
	return strings.TrimRight(trimmed[:idx], "\n \t"), &value
}
