package engine

import (
	"fmt"
	"strings"

	"github.com/ashureev/prosim/internal/domain"
	"github.com/ashureev/prosim/internal/scenario"
)

// StartResult is returned by Start.
type StartResult struct {
	SessionID      string   `json:"session_id"`
	ScenarioID     string   `json:"scenario"`
	PersonaName    string   `json:"ai_persona"`
	OpeningMessage string   `json:"opening_message"`
	Phase          string   `json:"current_phase"`
	Instructions   string   `json:"instructions"`
	Objectives     []string `json:"objectives"`
}

// RespondResult is returned by Respond. Transition is nil when the phase did
// not change.
type RespondResult struct {
	Reply      string               `json:"ai_response"`
	Phase      string               `json:"current_phase"`
	Feedback   string               `json:"performance_feedback"`
	Transition *scenario.Transition `json:"phase_transition"`
	Metrics    domain.Metrics       `json:"session_metrics"`

	UsedFallback bool `json:"-"`
}

// EndResult is returned by End.
type EndResult struct {
	SessionID              string              `json:"session_id"`
	Report                 domain.Report       `json:"final_feedback"`
	Scores                 domain.FinalScores  `json:"final_scores"`
	Summary                ConversationSummary `json:"conversation_summary"`
	ImprovementSuggestions []string            `json:"improvement_suggestions"`
	NextSteps              []string            `json:"next_steps"`

	UsedFallback bool `json:"-"`
}

// ConversationSummary describes the shape of a finished conversation.
type ConversationSummary struct {
	Scenario      string   `json:"scenario"`
	Exchanges     int      `json:"exchanges"`
	PhasesCovered []string `json:"phases_covered"`
	FinalPhase    string   `json:"final_phase"`
	Text          string   `json:"text"`
}

// Summarize builds the conversation summary for s.
func Summarize(s *domain.Session) ConversationSummary {
	var phases []string
	seen := make(map[string]bool)
	for _, t := range s.Transcript {
		if t.Phase != "" && !seen[t.Phase] {
			seen[t.Phase] = true
			phases = append(phases, t.Phase)
		}
	}
	if !seen[s.Phase] && s.Phase != "" {
		phases = append(phases, s.Phase)
	}

	cs := ConversationSummary{
		Scenario:      s.ScenarioID,
		Exchanges:     len(s.Transcript),
		PhasesCovered: phases,
		FinalPhase:    s.Phase,
	}
	cs.Text = cs.String()
	return cs
}

func (c ConversationSummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Simulation: %s\n", c.Scenario)
	fmt.Fprintf(&b, "Duration: %d exchanges\n", c.Exchanges)
	fmt.Fprintf(&b, "Phases covered: %s\n", strings.Join(c.PhasesCovered, ", "))
	return b.String()
}
