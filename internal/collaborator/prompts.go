package collaborator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ashureev/prosim/internal/domain"
)

const (
	// SummaryTurns is how many recent turns go into a conversation summary.
	SummaryTurns = 4
	// summaryChars is the per-turn excerpt length in a summary.
	summaryChars = 50

	earlySummary = "Early in conversation"
)

// Summarize condenses the tail of a transcript for collaborator prompts.
// Short transcripts are reported as early in the conversation.
func Summarize(transcript []domain.Turn) string {
	if len(transcript) <= SummaryTurns {
		return earlySummary
	}

	var b strings.Builder
	for _, t := range transcript[len(transcript)-SummaryTurns:] {
		speaker := "AI"
		if t.Speaker == domain.SpeakerUser {
			speaker = "User"
		}
		fmt.Fprintf(&b, "%s: %s... ", speaker, excerpt(t.Message, summaryChars))
	}
	return strings.TrimSpace(b.String())
}

func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// Prompt is a system/user message pair for chat-style models.
type Prompt struct {
	System string
	User   string
}

// DialoguePrompt builds the prompt for an opening line or a persona reply.
func DialoguePrompt(req DialogueRequest) Prompt {
	p := req.Persona
	var sys strings.Builder
	fmt.Fprintf(&sys, "You are %s, a %s in a %s simulation.\n\n", p.Name, p.Role, req.Scenario)
	fmt.Fprintf(&sys, "PERSONALITY: %s\n", p.Personality)
	fmt.Fprintf(&sys, "COMMUNICATION STYLE: %s\n", p.CommunicationStyle)
	if len(p.TypicalConcerns) > 0 {
		fmt.Fprintf(&sys, "TYPICAL CONCERNS: %s\n", strings.Join(p.TypicalConcerns, ", "))
	}
	fmt.Fprintf(&sys, "SCENARIO CONTEXT: %s\n", contextJSON(req.Context))

	if req.Opening() {
		return Prompt{
			System: sys.String(),
			User: "Generate a realistic opening statement to start this simulation. " +
				"Be natural, professional, and true to your persona. Keep it conversational, " +
				"set appropriate expectations and make it feel like a real workplace interaction.",
		}
	}

	var user strings.Builder
	fmt.Fprintf(&user, "CURRENT PHASE: %s\n", req.Phase)
	fmt.Fprintf(&user, "USER JUST SAID: %s\n\n", req.UserMessage)
	fmt.Fprintf(&user, "CONVERSATION CONTEXT: %s\n\n", req.Summary)
	if len(req.Window) > 0 {
		user.WriteString("RECENT CONVERSATION:\n")
		for _, t := range req.Window {
			speaker := p.Name
			if t.Speaker == domain.SpeakerUser {
				speaker = "User"
			}
			fmt.Fprintf(&user, "%s: %s\n", speaker, t.Message)
		}
		user.WriteString("\n")
	}
	if req.Scores != nil {
		fmt.Fprintf(&user, "RESPONSE ANALYSIS: The user's response scored %.1f/10 for clarity and %.1f/10 for communication effectiveness.\n\n",
			req.Scores.Clarity, req.Scores.CommunicationEffectiveness)
	}
	user.WriteString("Reply in character. Respond naturally to what the user said, ask follow-up " +
		"questions that reflect your concerns, challenge where your role would, and move the " +
		"conversation forward. Be supportive but realistic.")

	return Prompt{System: sys.String(), User: user.String()}
}

// AnalysisPrompt builds the scoring prompt for one user message.
func AnalysisPrompt(req AnalysisRequest) Prompt {
	var user strings.Builder
	fmt.Fprintf(&user, "Analyze this user response in the context of a %s simulation.\n\n", req.Scenario)
	fmt.Fprintf(&user, "USER RESPONSE: %s\n", req.Message)
	fmt.Fprintf(&user, "CURRENT PHASE: %s\n", req.Phase)
	fmt.Fprintf(&user, "CONVERSATION HISTORY: %s\n\n", req.Summary)
	user.WriteString(`Reply with only this JSON object, scores from 0 to 10:
{
  "clarity_score": 8.5,
  "technical_accuracy": 7.0,
  "communication_effectiveness": 9.0,
  "response_relevance": 8.0,
  "strengths": ["..."],
  "improvement_areas": ["..."],
  "feedback": "one or two sentences of coaching"
}`)
	return Prompt{
		System: "You assess answers given in professional role-play practice. You reply with JSON only.",
		User:   user.String(),
	}
}

// SynthesisPrompt builds the end-of-session report prompt.
func SynthesisPrompt(req SynthesisRequest) Prompt {
	m := req.Metrics
	var user strings.Builder
	fmt.Fprintf(&user, "Provide comprehensive feedback for this %s simulation session.\n\n", req.Scenario)
	user.WriteString("PERFORMANCE METRICS:\n")
	fmt.Fprintf(&user, "- Clarity: %.1f/10\n", m.Clarity)
	fmt.Fprintf(&user, "- Technical Accuracy: %.1f/10\n", m.TechnicalAccuracy)
	fmt.Fprintf(&user, "- Communication: %.1f/10\n", m.CommunicationEffectiveness)
	fmt.Fprintf(&user, "- Relevance: %.1f/10\n\n", m.ResponseRelevance)
	fmt.Fprintf(&user, "CONVERSATION SUMMARY: %s\n\n", req.Summary)
	user.WriteString(`Reply with only this JSON object:
{
  "overall_summary": "...",
  "strengths": ["..."],
  "improvement_areas": ["..."],
  "specific_feedback": {
    "communication": "...",
    "technical_content": "...",
    "professional_presence": "..."
  },
  "improvement_suggestions": ["..."],
  "next_steps": ["..."]
}`)
	return Prompt{
		System: "You are a communication coach writing a debrief. You reply with JSON only.",
		User:   user.String(),
	}
}

func contextJSON(ctx map[string]any) string {
	if len(ctx) == 0 {
		return "{}"
	}
	b, err := json.Marshal(ctx)
	if err != nil {
		return fmt.Sprintf("%v", ctx)
	}
	return string(b)
}
