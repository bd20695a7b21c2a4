package collaborator

import (
	"context"
	"fmt"
	"sync"
)

// DefaultScriptedAnalysis is the analysis reply a Scripted backend gives by default.
const DefaultScriptedAnalysis = `{
  "clarity_score": 8,
  "technical_accuracy": 7,
  "communication_effectiveness": 8,
  "response_relevance": 9,
  "strengths": ["Stayed on topic"],
  "improvement_areas": ["Quantify the impact"],
  "feedback": "Solid answer. Tie it back to the numbers your listener cares about."
}`

// DefaultScriptedReport is the report reply a Scripted backend gives by default.
const DefaultScriptedReport = `{
  "overall_summary": "You kept the conversation focused and answered directly.",
  "strengths": ["Direct answers", "Calm under follow-up questions"],
  "improvement_areas": ["Business framing"],
  "specific_feedback": {
    "communication": "Clear and concise.",
    "technical_content": "Accurate, occasionally too detailed.",
    "professional_presence": "Confident."
  },
  "improvement_suggestions": ["Lead with impact before detail"],
  "next_steps": ["Repeat the scenario at a harder difficulty"]
}`

// Scripted is a deterministic Backend. It serves offline practice runs and
// tests: replies cycle through a fixed list, analysis and report text are
// fixed, errors can be injected per role and every call is recorded.
type Scripted struct {
	mu sync.Mutex

	replies     []string
	next        int
	analysis    string
	report      string
	dialogueErr error
	analysisErr error
	synthErr    error

	DialogueCalls  []DialogueRequest
	AnalysisCalls  []AnalysisRequest
	SynthesisCalls []SynthesisRequest
}

// NewScripted creates a Scripted backend with default replies.
func NewScripted() *Scripted {
	return &Scripted{
		analysis: DefaultScriptedAnalysis,
		report:   DefaultScriptedReport,
	}
}

// WithReplies sets the persona lines returned in order, wrapping around.
func (s *Scripted) WithReplies(replies ...string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies = replies
	s.next = 0
	return s
}

// WithAnalysis sets the raw analysis reply.
func (s *Scripted) WithAnalysis(raw string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analysis = raw
	return s
}

// WithReport sets the raw report reply.
func (s *Scripted) WithReport(raw string) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report = raw
	return s
}

// WithDialogueError makes Generate fail with err. Nil clears it.
func (s *Scripted) WithDialogueError(err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dialogueErr = err
	return s
}

// WithAnalysisError makes Analyze fail with err. Nil clears it.
func (s *Scripted) WithAnalysisError(err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analysisErr = err
	return s
}

// WithSynthesisError makes Synthesize fail with err. Nil clears it.
func (s *Scripted) WithSynthesisError(err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.synthErr = err
	return s
}

var _ Backend = (*Scripted)(nil)

// Generate implements Dialogue.
func (s *Scripted) Generate(_ context.Context, req DialogueRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.DialogueCalls = append(s.DialogueCalls, req)
	if s.dialogueErr != nil {
		return "", s.dialogueErr
	}
	if len(s.replies) > 0 {
		reply := s.replies[s.next%len(s.replies)]
		s.next++
		return reply, nil
	}
	if req.Opening() {
		return fmt.Sprintf("Hi, I'm %s, %s. Let's get started. What have you got for me?", req.Persona.Name, req.Persona.Role), nil
	}
	return fmt.Sprintf("Thanks. We're in the %s part now. Can you say more about how that affects us?", req.Phase), nil
}

// Analyze implements Analyzer.
func (s *Scripted) Analyze(_ context.Context, req AnalysisRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.AnalysisCalls = append(s.AnalysisCalls, req)
	if s.analysisErr != nil {
		return "", s.analysisErr
	}
	return s.analysis, nil
}

// Synthesize implements Synthesizer.
func (s *Scripted) Synthesize(_ context.Context, req SynthesisRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.SynthesisCalls = append(s.SynthesisCalls, req)
	if s.synthErr != nil {
		return "", s.synthErr
	}
	return s.report, nil
}

// Close implements Backend.
func (s *Scripted) Close() error {
	return nil
}

// Calls returns how many times each role was invoked.
func (s *Scripted) Calls() (dialogue, analysis, synthesis int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.DialogueCalls), len(s.AnalysisCalls), len(s.SynthesisCalls)
}
