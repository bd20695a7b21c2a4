// Package feedback produces the end-of-session report.
package feedback

import (
	"context"
	"log/slog"

	"github.com/ashureev/prosim/internal/collaborator"
	"github.com/ashureev/prosim/internal/domain"
)

// FallbackReport is attached when the synthesis reply cannot be parsed.
func FallbackReport() domain.Report {
	return domain.Report{
		OverallSummary:         "Good simulation session completed",
		Strengths:              []string{"Active participation", "Professional communication"},
		ImprovementAreas:       []string{"Continue practicing", "Focus on specific examples"},
		SpecificFeedback:       map[string]string{},
		ImprovementSuggestions: []string{"Practice more scenarios", "Work on clarity"},
		NextSteps:              []string{"Try advanced simulations", "Get additional feedback"},
	}
}

// Synthesizer turns final metrics and a transcript summary into a Report.
type Synthesizer struct {
	backend collaborator.Synthesizer
	logger  *slog.Logger
}

// New creates a Synthesizer over backend.
func New(backend collaborator.Synthesizer, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{backend: backend, logger: logger}
}

// Report asks the synthesis collaborator for a report. A failed call is
// returned as a CollaboratorError. An unparseable reply yields
// FallbackReport with usedFallback set.
func (s *Synthesizer) Report(ctx context.Context, scenarioID string, final domain.Metrics, summary string) (report domain.Report, usedFallback bool, err error) {
	raw, err := s.backend.Synthesize(ctx, collaborator.SynthesisRequest{
		Scenario: scenarioID,
		Metrics:  final,
		Summary:  summary,
	})
	if err != nil {
		return domain.Report{}, false, domain.NewCollaboratorError(domain.RoleSynthesis, err)
	}

	report, perr := collaborator.ParseReport(raw)
	if perr != nil {
		s.logger.Warn("Synthesis reply unparseable, using fallback report",
			"scenario", scenarioID,
			"error", perr)
		return FallbackReport(), true, nil
	}
	return report, false, nil
}
