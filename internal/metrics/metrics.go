// Package metrics turns per-turn analysis scores into rolling and final scores.
package metrics

import (
	"math"

	"github.com/ashureev/prosim/internal/domain"
)

const (
	// Alpha is the weight of the newest sample in the rolling average.
	Alpha = 0.3

	MinScore = 0.0
	MaxScore = 10.0
)

// Composite weights for the overall score. They sum to 1.
const (
	clarityWeight       = 0.25
	technicalWeight     = 0.25
	communicationWeight = 0.30
	relevanceWeight     = 0.20
)

// Rolling folds one sample into a previous rolling value.
func Rolling(prev, sample float64) float64 {
	return Clamp(prev*(1-Alpha) + sample*Alpha)
}

// Update applies Rolling to every dimension.
func Update(prev, sample domain.Metrics) domain.Metrics {
	return domain.Metrics{
		Clarity:                    Rolling(prev.Clarity, sample.Clarity),
		TechnicalAccuracy:          Rolling(prev.TechnicalAccuracy, sample.TechnicalAccuracy),
		CommunicationEffectiveness: Rolling(prev.CommunicationEffectiveness, sample.CommunicationEffectiveness),
		ResponseRelevance:          Rolling(prev.ResponseRelevance, sample.ResponseRelevance),
	}
}

// Overall is the weighted composite of the four dimensions, unrounded.
func Overall(m domain.Metrics) float64 {
	return Clamp(m.Clarity*clarityWeight +
		m.TechnicalAccuracy*technicalWeight +
		m.CommunicationEffectiveness*communicationWeight +
		m.ResponseRelevance*relevanceWeight)
}

// Final computes the scores reported when a session ends.
func Final(m domain.Metrics) domain.FinalScores {
	return domain.FinalScores{
		Overall:           Round1(Overall(m)),
		Clarity:           Round1(Clamp(m.Clarity)),
		TechnicalAccuracy: Round1(Clamp(m.TechnicalAccuracy)),
		Communication:     Round1(Clamp(m.CommunicationEffectiveness)),
		Relevance:         Round1(Clamp(m.ResponseRelevance)),
	}
}

// Clamp bounds v to [MinScore, MaxScore]. NaN becomes MinScore.
func Clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < MinScore:
		return MinScore
	case v > MaxScore:
		return MaxScore
	default:
		return v
	}
}

// Round1 rounds to one decimal place, halves away from zero.
func Round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// InRange reports whether v is a valid raw score.
func InRange(v float64) bool {
	return !math.IsNaN(v) && v >= MinScore && v <= MaxScore
}
