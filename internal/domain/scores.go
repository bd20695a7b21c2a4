package domain

// Metrics are the four rolling scores kept while a session is active.
type Metrics struct {
	Clarity                    float64 `json:"clarity_score"`
	TechnicalAccuracy          float64 `json:"technical_accuracy"`
	CommunicationEffectiveness float64 `json:"communication_effectiveness"`
	ResponseRelevance          float64 `json:"response_relevance"`
}

// FinalScores are computed once at the end of a session.
type FinalScores struct {
	Overall           float64 `json:"overall_score"`
	Clarity           float64 `json:"clarity"`
	TechnicalAccuracy float64 `json:"technical_accuracy"`
	Communication     float64 `json:"communication"`
	Relevance         float64 `json:"relevance"`
}

// Report is the narrative feedback attached to a completed session.
type Report struct {
	OverallSummary         string            `json:"overall_summary"`
	Strengths              []string          `json:"strengths"`
	ImprovementAreas       []string          `json:"improvement_areas"`
	SpecificFeedback       map[string]string `json:"specific_feedback"`
	ImprovementSuggestions []string          `json:"improvement_suggestions"`
	NextSteps              []string          `json:"next_steps"`
}

// Clone returns a deep copy of the report.
func (r Report) Clone() Report {
	r.Strengths = cloneStrings(r.Strengths)
	r.ImprovementAreas = cloneStrings(r.ImprovementAreas)
	r.ImprovementSuggestions = cloneStrings(r.ImprovementSuggestions)
	r.NextSteps = cloneStrings(r.NextSteps)
	if r.SpecificFeedback != nil {
		fb := make(map[string]string, len(r.SpecificFeedback))
		for k, v := range r.SpecificFeedback {
			fb[k] = v
		}
		r.SpecificFeedback = fb
	}
	return r
}
