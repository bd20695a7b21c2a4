package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/prosim/internal/collaborator"
	"github.com/ashureev/prosim/internal/domain"
	"github.com/ashureev/prosim/internal/feedback"
	"github.com/ashureev/prosim/internal/metrics"
	"github.com/ashureev/prosim/internal/scenario"
	"github.com/ashureev/prosim/internal/store"
	"github.com/ashureev/prosim/internal/telemetry"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	engine   *Engine
	backend  *collaborator.Scripted
	sessions *store.TwoTier
	clock    *fakeClock
	metrics  *telemetry.Metrics
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()

	catalog, err := scenario.Builtin()
	require.NoError(t, err)

	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	sessions := store.NewTwoTier(store.NewMemoryDurable(clock.Now), store.WithClock(clock.Now))
	backend := collaborator.NewScripted()
	m := telemetry.NewMetrics(prometheus.NewRegistry())

	seq := 0
	base := []Option{
		WithClock(clock.Now),
		WithMetrics(m),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("sess-%d", seq)
		}),
	}
	e := New(catalog, sessions, backend, append(base, opts...)...)

	return &harness{engine: e, backend: backend, sessions: sessions, clock: clock, metrics: m}
}

func (h *harness) start(t *testing.T) StartResult {
	t.Helper()
	res, err := h.engine.Start(context.Background(), "stakeholder_meeting", "u1", map[string]any{"project": "churn model"})
	require.NoError(t, err)
	return res
}

func TestStart(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	res := h.start(t)
	assert.Equal(t, "sess-1", res.SessionID)
	assert.Equal(t, "stakeholder_meeting", res.ScenarioID)
	assert.Equal(t, "Sarah Johnson", res.PersonaName)
	assert.Equal(t, "introduction", res.Phase)
	assert.NotEmpty(t, res.OpeningMessage)
	assert.NotEmpty(t, res.Instructions)
	assert.NotEmpty(t, res.Objectives)

	s, err := h.engine.Status(context.Background(), res.SessionID)
	require.NoError(t, err)
	require.Len(t, s.Transcript, 1)
	assert.Equal(t, domain.SpeakerAI, s.Transcript[0].Speaker)
	assert.Equal(t, res.OpeningMessage, s.Transcript[0].Message)
	assert.Equal(t, "introduction", s.Transcript[0].Phase)
	assert.Equal(t, "u1", s.UserID)
	assert.Equal(t, domain.StatusActive, s.Status)
	assert.Equal(t, domain.Metrics{}, s.Metrics)
	assert.Equal(t, "churn model", s.Context["project"])

	require.Len(t, h.backend.DialogueCalls, 1)
	call := h.backend.DialogueCalls[0]
	assert.True(t, call.Opening())
	assert.Equal(t, "Sarah Johnson", call.Persona.Name)
	assert.Equal(t, "churn model", call.Context["project"])

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SessionsStarted.WithLabelValues("stakeholder_meeting")))
}

func TestStart_UnknownScenario(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := h.engine.Start(context.Background(), "poker_night", "u1", nil)
	assert.True(t, errors.Is(err, domain.ErrUnknownScenario))

	d, _, _ := h.backend.Calls()
	assert.Zero(t, d)
}

func TestStart_DialogueFailureStoresNothing(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	h.backend.WithDialogueError(errors.New("upstream 503"))

	_, err := h.engine.Start(context.Background(), "stakeholder_meeting", "u1", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCollaboratorFailure))

	var ce *domain.CollaboratorError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, domain.RoleDialogue, ce.Role)

	_, err = h.engine.Status(context.Background(), "sess-1")
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))
}

func TestStart_DuplicateID(t *testing.T) {
	t.Parallel()
	h := newHarness(t, WithIDGenerator(func() string { return "fixed" }))

	h.start(t)
	_, err := h.engine.Start(context.Background(), "negotiation", "u2", nil)
	assert.True(t, errors.Is(err, domain.ErrDuplicateSession))
}

func TestRespond_StakeholderPhaseProgression(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	id := h.start(t).SessionID

	want := []string{"presentation", "questions", "objections", "wrap_up"}
	prevLen := 1
	prevIdx := 0
	catalog, err := scenario.Builtin()
	require.NoError(t, err)
	stakeholder, err := catalog.Lookup("stakeholder_meeting")
	require.NoError(t, err)

	for i, phase := range want {
		res, err := h.engine.Respond(ctx, id, fmt.Sprintf("answer %d", i))
		require.NoError(t, err)
		require.NotNil(t, res.Transition, "respond %d", i)
		assert.Equal(t, phase, res.Transition.To)
		assert.Equal(t, "Moving to "+phase+" phase", res.Transition.Message)
		assert.Equal(t, phase, res.Phase)

		s, err := h.engine.Status(ctx, id)
		require.NoError(t, err)
		assert.Len(t, s.Transcript, prevLen+2)
		prevLen = len(s.Transcript)

		idx := stakeholder.PhaseIndex(s.Phase)
		assert.Equal(t, prevIdx+1, idx)
		prevIdx = idx
	}

	// Terminal phase: no further transitions.
	res, err := h.engine.Respond(ctx, id, "anything else?")
	require.NoError(t, err)
	assert.Nil(t, res.Transition)
	assert.Equal(t, "wrap_up", res.Phase)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.PhaseTransitions.WithLabelValues("stakeholder_meeting", "wrap_up")))
	assert.Equal(t, 5.0, testutil.ToFloat64(h.metrics.Turns.WithLabelValues("stakeholder_meeting")))
}

func TestRespond_TurnsRecordPhaseAndOrder(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	id := h.start(t).SessionID

	_, err := h.engine.Respond(ctx, id, "first")
	require.NoError(t, err)

	s, err := h.engine.Status(ctx, id)
	require.NoError(t, err)
	require.Len(t, s.Transcript, 3)
	assert.Equal(t, domain.SpeakerUser, s.Transcript[1].Speaker)
	assert.Equal(t, "first", s.Transcript[1].Message)
	assert.Equal(t, domain.SpeakerAI, s.Transcript[2].Speaker)
	// Both turns belong to the phase that was active when they were spoken.
	assert.Equal(t, "introduction", s.Transcript[1].Phase)
	assert.Equal(t, "introduction", s.Transcript[2].Phase)
	assert.Equal(t, "presentation", s.Phase)
}

func TestRespond_RollingMetrics(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	id := h.start(t).SessionID

	res, err := h.engine.Respond(ctx, id, "Revenue grew 12% after the change.")
	require.NoError(t, err)
	assert.False(t, res.UsedFallback)
	assert.Equal(t, "Solid answer. Tie it back to the numbers your listener cares about.", res.Feedback)

	assert.InDelta(t, 2.4, res.Metrics.Clarity, 1e-9)
	assert.InDelta(t, 2.1, res.Metrics.TechnicalAccuracy, 1e-9)
	assert.InDelta(t, 2.4, res.Metrics.CommunicationEffectiveness, 1e-9)
	assert.InDelta(t, 2.7, res.Metrics.ResponseRelevance, 1e-9)

	res, err = h.engine.Respond(ctx, id, "The cost is two sprints.")
	require.NoError(t, err)
	assert.InDelta(t, 2.4*0.7+8*0.3, res.Metrics.Clarity, 1e-9)

	require.Len(t, h.backend.AnalysisCalls, 2)
	assert.Equal(t, "The cost is two sprints.", h.backend.AnalysisCalls[1].Message)
	assert.Equal(t, "presentation", h.backend.AnalysisCalls[1].Phase)
	assert.Equal(t, "stakeholder_meeting", h.backend.AnalysisCalls[1].Scenario)

	// The dialogue call gets the raw scores of this turn, not the rolling ones.
	require.Len(t, h.backend.DialogueCalls, 3)
	last := h.backend.DialogueCalls[2]
	require.NotNil(t, last.Scores)
	assert.Equal(t, 8.0, last.Scores.Clarity)
	assert.Equal(t, "The cost is two sprints.", last.UserMessage)
}

func TestRespond_SummaryBounded(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	id := h.start(t).SessionID

	for _, msg := range []string{"one", "two", "three"} {
		_, err := h.engine.Respond(ctx, id, msg)
		require.NoError(t, err)
	}

	// The summary includes the user turn being analysed. Up to four turns
	// count as early in the conversation.
	require.Len(t, h.backend.AnalysisCalls, 3)
	assert.Equal(t, "Early in conversation", h.backend.AnalysisCalls[0].Summary)
	assert.Equal(t, "Early in conversation", h.backend.AnalysisCalls[1].Summary)
	assert.Contains(t, h.backend.AnalysisCalls[2].Summary, "User: three...")
	assert.NotContains(t, h.backend.AnalysisCalls[2].Summary, "User: one...")
}

func TestRespond_Window(t *testing.T) {
	t.Parallel()
	h := newHarness(t, WithWindow(2))
	ctx := context.Background()
	id := h.start(t).SessionID

	for i := 0; i < 3; i++ {
		_, err := h.engine.Respond(ctx, id, fmt.Sprintf("msg %d", i))
		require.NoError(t, err)
	}

	last := h.backend.DialogueCalls[len(h.backend.DialogueCalls)-1]
	require.Len(t, last.Window, 2)
	assert.Equal(t, "msg 2", last.Window[1].Message)
}

func TestRespond_AnalysisFallback(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	id := h.start(t).SessionID
	h.backend.WithAnalysis("Great answer! 9/10")

	res, err := h.engine.Respond(ctx, id, "hello")
	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, collaborator.FallbackFeedback, res.Feedback)
	assert.InDelta(t, 2.1, res.Metrics.Clarity, 1e-9)
	assert.InDelta(t, 2.1, res.Metrics.ResponseRelevance, 1e-9)

	s, err := h.engine.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, s.Fallbacks)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Fallbacks.WithLabelValues("analysis")))
}

func TestRespond_CollaboratorFailureKeepsPriorState(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		inject func(*collaborator.Scripted)
		role   domain.Role
	}{
		{
			name:   "analysis",
			inject: func(b *collaborator.Scripted) { b.WithAnalysisError(errors.New("timeout")) },
			role:   domain.RoleAnalysis,
		},
		{
			name:   "dialogue",
			inject: func(b *collaborator.Scripted) { b.WithDialogueError(errors.New("timeout")) },
			role:   domain.RoleDialogue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			ctx := context.Background()
			id := h.start(t).SessionID

			before, err := h.engine.Status(ctx, id)
			require.NoError(t, err)

			tt.inject(h.backend)
			_, err = h.engine.Respond(ctx, id, "hello")
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrCollaboratorFailure))

			var ce *domain.CollaboratorError
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, tt.role, ce.Role)

			after, err := h.engine.Status(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, before, after)
			assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CollaboratorErrors.WithLabelValues(string(tt.role))))
		})
	}
}

func TestRespond_InvalidMessage(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.start(t).SessionID

	_, err := h.engine.Respond(context.Background(), id, "   ")
	assert.True(t, errors.Is(err, domain.ErrInvalidMessage))

	_, a, _ := h.backend.Calls()
	assert.Zero(t, a)
}

func TestRespond_UnknownSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, err := h.engine.Respond(context.Background(), "nope", "hello")
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))
}

func TestRespond_ExpiredSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	id := h.start(t).SessionID

	h.clock.Advance(store.DefaultActiveTTL + time.Second)

	_, err := h.engine.Respond(context.Background(), id, "still there?")
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))
}

func TestRespond_Busy(t *testing.T) {
	t.Parallel()
	locker := store.NewMemoryLocker()
	h := newHarness(t, WithLocker(locker))
	ctx := context.Background()
	id := h.start(t).SessionID

	release, err := locker.Acquire(ctx, id)
	require.NoError(t, err)

	_, err = h.engine.Respond(ctx, id, "hello")
	assert.True(t, errors.Is(err, domain.ErrSessionBusy))

	require.NoError(t, release(ctx))
	_, err = h.engine.Respond(ctx, id, "hello")
	assert.NoError(t, err)
}

func TestEnd(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	id := h.start(t).SessionID

	var last RespondResult
	for i := 0; i < 2; i++ {
		var err error
		last, err = h.engine.Respond(ctx, id, fmt.Sprintf("point %d", i))
		require.NoError(t, err)
	}

	res, err := h.engine.End(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, res.SessionID)
	assert.False(t, res.UsedFallback)
	assert.Equal(t, "You kept the conversation focused and answered directly.", res.Report.OverallSummary)
	assert.Equal(t, metrics.Final(last.Metrics), res.Scores)
	assert.Equal(t, res.Report.ImprovementSuggestions, res.ImprovementSuggestions)
	assert.Equal(t, res.Report.NextSteps, res.NextSteps)

	assert.Equal(t, "stakeholder_meeting", res.Summary.Scenario)
	assert.Equal(t, 5, res.Summary.Exchanges)
	assert.Equal(t, []string{"introduction", "presentation", "questions"}, res.Summary.PhasesCovered)
	assert.Equal(t, "questions", res.Summary.FinalPhase)

	// Gone from the active path.
	_, err = h.engine.Status(ctx, id)
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))
	_, err = h.engine.Respond(ctx, id, "one more")
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))
	_, err = h.engine.End(ctx, id)
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))

	done, err := h.engine.Result(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	require.NotNil(t, done.Report)
	require.NotNil(t, done.FinalScores)
	assert.Equal(t, res.Scores, *done.FinalScores)
	assert.Equal(t, res.Report, *done.Report)

	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.SessionsCompleted.WithLabelValues("stakeholder_meeting")))
}

func TestEnd_ScoresInRange(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	id := h.start(t).SessionID
	h.backend.WithAnalysis(`{"clarity_score":10,"technical_accuracy":10,"communication_effectiveness":10,"response_relevance":10,"feedback":"Excellent."}`)

	for i := 0; i < 20; i++ {
		res, err := h.engine.Respond(ctx, id, "perfect")
		require.NoError(t, err)
		for _, v := range []float64{res.Metrics.Clarity, res.Metrics.TechnicalAccuracy, res.Metrics.CommunicationEffectiveness, res.Metrics.ResponseRelevance} {
			assert.True(t, metrics.InRange(v))
		}
	}

	res, err := h.engine.End(ctx, id)
	require.NoError(t, err)
	assert.LessOrEqual(t, res.Scores.Overall, 10.0)
	assert.Greater(t, res.Scores.Overall, 9.0)
}

func TestEnd_ReportFallback(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	id := h.start(t).SessionID
	h.backend.WithReport("```json\n{}\n```")

	res, err := h.engine.End(ctx, id)
	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, feedback.FallbackReport(), res.Report)

	done, err := h.engine.Result(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, done.Fallbacks)
}

func TestEnd_SynthesisFailureKeepsSessionActive(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := context.Background()
	id := h.start(t).SessionID
	h.backend.WithSynthesisError(errors.New("connection reset"))

	_, err := h.engine.End(ctx, id)
	assert.True(t, errors.Is(err, domain.ErrCollaboratorFailure))

	s, err := h.engine.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, s.Status)

	_, err = h.engine.Result(ctx, id)
	assert.True(t, errors.Is(err, domain.ErrSessionNotFound))
}

func TestEnd_ArchivesAndHistory(t *testing.T) {
	t.Parallel()
	archive, err := store.NewSQLite(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = archive.Close() })

	h := newHarness(t, WithArchive(archive))
	ctx := context.Background()
	id := h.start(t).SessionID
	_, err = h.engine.Respond(ctx, id, "hello")
	require.NoError(t, err)

	res, err := h.engine.End(ctx, id)
	require.NoError(t, err)

	records, err := h.engine.History(ctx, "u1", store.ListFilter{})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, id, records[0].SessionID)
	assert.Equal(t, domain.StatusCompleted, records[0].Status)
	assert.Equal(t, 3, records[0].Turns)
	assert.Equal(t, res.Scores.Overall, records[0].OverallScore)

	none, err := h.engine.History(ctx, "someone-else", store.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestHistory_NoArchive(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	records, err := h.engine.History(context.Background(), "u1", store.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSummarize(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s := &domain.Session{ScenarioID: "negotiation", Phase: "opening"}
	s.AppendTurn(domain.SpeakerAI, "hello", at)
	s.AppendTurn(domain.SpeakerUser, "hi", at)
	s.Phase = "positions"
	s.AppendTurn(domain.SpeakerAI, "so", at)
	s.Phase = "bargaining"

	cs := Summarize(s)
	assert.Equal(t, 3, cs.Exchanges)
	assert.Equal(t, []string{"opening", "positions", "bargaining"}, cs.PhasesCovered)
	assert.Equal(t, "bargaining", cs.FinalPhase)
	assert.Equal(t, "Simulation: negotiation\nDuration: 3 exchanges\nPhases covered: opening, positions, bargaining\n", cs.Text)
}
