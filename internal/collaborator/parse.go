package collaborator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/prosim/internal/domain"
	"github.com/ashureev/prosim/internal/metrics"
)

// ErrMalformed is returned when a collaborator reply does not match the
// expected schema.
var ErrMalformed = errors.New("malformed collaborator response")

// FallbackFeedback is the feedback text used when analysis cannot be parsed.
const FallbackFeedback = "Good response. Continue with the conversation."

// fallbackScore is the neutral score assigned to every dimension on fallback.
const fallbackScore = 7.0

// Analysis is the decoded per-turn assessment.
type Analysis struct {
	Scores           domain.Metrics
	Strengths        []string
	ImprovementAreas []string
	Feedback         string
}

// FallbackAnalysis is the neutral assessment substituted for unparseable replies.
func FallbackAnalysis() Analysis {
	return Analysis{
		Scores: domain.Metrics{
			Clarity:                    fallbackScore,
			TechnicalAccuracy:          fallbackScore,
			CommunicationEffectiveness: fallbackScore,
			ResponseRelevance:          fallbackScore,
		},
		Feedback: FallbackFeedback,
	}
}

type analysisWire struct {
	Clarity          *float64 `json:"clarity_score"`
	Technical        *float64 `json:"technical_accuracy"`
	Communication    *float64 `json:"communication_effectiveness"`
	Relevance        *float64 `json:"response_relevance"`
	Strengths        []string `json:"strengths"`
	ImprovementAreas []string `json:"improvement_areas"`
	Feedback         *string  `json:"feedback"`
}

// ParseAnalysis decodes an analysis reply. The body must be a single JSON
// object with all four scores in [0,10] and a non-empty feedback string.
func ParseAnalysis(raw string) (Analysis, error) {
	var w analysisWire
	if err := decodeStrict(raw, &w); err != nil {
		return Analysis{}, err
	}

	scores := map[string]*float64{
		"clarity_score":               w.Clarity,
		"technical_accuracy":          w.Technical,
		"communication_effectiveness": w.Communication,
		"response_relevance":          w.Relevance,
	}
	for name, v := range scores {
		if v == nil {
			return Analysis{}, fmt.Errorf("%w: missing %s", ErrMalformed, name)
		}
		if !metrics.InRange(*v) {
			return Analysis{}, fmt.Errorf("%w: %s out of range: %v", ErrMalformed, name, *v)
		}
	}
	if w.Feedback == nil || strings.TrimSpace(*w.Feedback) == "" {
		return Analysis{}, fmt.Errorf("%w: missing feedback", ErrMalformed)
	}

	return Analysis{
		Scores: domain.Metrics{
			Clarity:                    *w.Clarity,
			TechnicalAccuracy:          *w.Technical,
			CommunicationEffectiveness: *w.Communication,
			ResponseRelevance:          *w.Relevance,
		},
		Strengths:        w.Strengths,
		ImprovementAreas: w.ImprovementAreas,
		Feedback:         strings.TrimSpace(*w.Feedback),
	}, nil
}

type reportWire struct {
	OverallSummary         *string           `json:"overall_summary"`
	Strengths              []string          `json:"strengths"`
	ImprovementAreas       []string          `json:"improvement_areas"`
	SpecificFeedback       map[string]string `json:"specific_feedback"`
	ImprovementSuggestions []string          `json:"improvement_suggestions"`
	NextSteps              []string          `json:"next_steps"`
}

// ParseReport decodes a synthesis reply. The summary and the four lists are
// required; specific_feedback may be omitted.
func ParseReport(raw string) (domain.Report, error) {
	var w reportWire
	if err := decodeStrict(raw, &w); err != nil {
		return domain.Report{}, err
	}
	if w.OverallSummary == nil || strings.TrimSpace(*w.OverallSummary) == "" {
		return domain.Report{}, fmt.Errorf("%w: missing overall_summary", ErrMalformed)
	}
	lists := map[string][]string{
		"strengths":               w.Strengths,
		"improvement_areas":       w.ImprovementAreas,
		"improvement_suggestions": w.ImprovementSuggestions,
		"next_steps":              w.NextSteps,
	}
	for name, l := range lists {
		if l == nil {
			return domain.Report{}, fmt.Errorf("%w: missing %s", ErrMalformed, name)
		}
	}
	if w.SpecificFeedback == nil {
		w.SpecificFeedback = map[string]string{}
	}

	return domain.Report{
		OverallSummary:         strings.TrimSpace(*w.OverallSummary),
		Strengths:              w.Strengths,
		ImprovementAreas:       w.ImprovementAreas,
		SpecificFeedback:       w.SpecificFeedback,
		ImprovementSuggestions: w.ImprovementSuggestions,
		NextSteps:              w.NextSteps,
	}, nil
}

// decodeStrict requires raw to be exactly one JSON object. Keys outside the
// expected shape are ignored; required fields are checked by the callers.
func decodeStrict(raw string, v any) error {
	dec := json.NewDecoder(bytes.NewReader([]byte(strings.TrimSpace(raw))))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after object", ErrMalformed)
	}
	return nil
}
