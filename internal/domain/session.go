// Package domain holds the simulation session model shared across packages.
package domain

import (
	"time"
)

// Speaker identifies who produced a transcript turn.
type Speaker string

const (
	// SpeakerUser marks a turn typed by the learner.
	SpeakerUser Speaker = "user"
	// SpeakerAI marks a turn produced by the persona.
	SpeakerAI Speaker = "ai"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	// StatusCancelled is recognised when reading snapshots but never set by the engine.
	StatusCancelled Status = "cancelled"
)

// Turn is one message in a session transcript.
type Turn struct {
	Speaker   Speaker   `json:"speaker"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Phase     string    `json:"phase"`
}

// Persona is the behavioural profile of the AI character.
type Persona struct {
	ID                 string   `json:"id" yaml:"id"`
	Name               string   `json:"name" yaml:"name"`
	Role               string   `json:"role" yaml:"role"`
	Personality        string   `json:"personality" yaml:"personality"`
	CommunicationStyle string   `json:"communication_style" yaml:"communication_style"`
	KnowledgeLevel     string   `json:"knowledge_level" yaml:"knowledge_level"`
	TypicalConcerns    []string `json:"typical_concerns" yaml:"typical_concerns"`
	ResponsePatterns   []string `json:"response_patterns" yaml:"response_patterns"`
}

// Clone returns a deep copy of the persona.
func (p Persona) Clone() Persona {
	p.TypicalConcerns = cloneStrings(p.TypicalConcerns)
	p.ResponsePatterns = cloneStrings(p.ResponsePatterns)
	return p
}

// Session is a single simulation attempt.
type Session struct {
	ID           string         `json:"session_id"`
	UserID       string         `json:"user_id"`
	ScenarioID   string         `json:"scenario"`
	Persona      Persona        `json:"persona"`
	Context      map[string]any `json:"context"`
	Transcript   []Turn         `json:"conversation_history"`
	Phase        string         `json:"current_phase"`
	Metrics      Metrics        `json:"performance_metrics"`
	Status       Status         `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	LastActivity time.Time      `json:"last_activity"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	Report       *Report        `json:"final_feedback,omitempty"`
	FinalScores  *FinalScores   `json:"final_scores,omitempty"`

	// Fallbacks counts collaborator replies replaced by fallback values.
	Fallbacks int `json:"fallbacks"`
}

// AppendTurn records a turn in the current phase.
func (s *Session) AppendTurn(speaker Speaker, message string, at time.Time) {
	s.Transcript = append(s.Transcript, Turn{
		Speaker:   speaker,
		Message:   message,
		Timestamp: at,
		Phase:     s.Phase,
	})
}

// RecentTurns returns the last n turns of the transcript.
func (s *Session) RecentTurns(n int) []Turn {
	if n <= 0 {
		return nil
	}
	if n >= len(s.Transcript) {
		return s.Transcript
	}
	return s.Transcript[len(s.Transcript)-n:]
}

// IsActive reports whether the session still accepts turns.
func (s *Session) IsActive() bool {
	return s.Status == StatusActive
}

// Clone returns a deep copy so callers can mutate freely before persisting.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.Persona = s.Persona.Clone()
	c.Context = cloneMap(s.Context)
	if s.Transcript != nil {
		c.Transcript = make([]Turn, len(s.Transcript))
		copy(c.Transcript, s.Transcript)
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	if s.Report != nil {
		r := s.Report.Clone()
		c.Report = &r
	}
	if s.FinalScores != nil {
		fs := *s.FinalScores
		c.FinalScores = &fs
	}
	return &c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return cloneStrings(t)
	default:
		return v
	}
}
