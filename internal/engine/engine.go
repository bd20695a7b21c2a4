// Package engine runs simulation sessions: it owns the session lifecycle,
// drives phase progression and folds per-turn analysis into rolling scores.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ashureev/prosim/internal/collaborator"
	"github.com/ashureev/prosim/internal/domain"
	"github.com/ashureev/prosim/internal/feedback"
	"github.com/ashureev/prosim/internal/metrics"
	"github.com/ashureev/prosim/internal/scenario"
	"github.com/ashureev/prosim/internal/store"
	"github.com/ashureev/prosim/internal/telemetry"
)

// DefaultWindow is how many recent turns are sent with a dialogue request.
const DefaultWindow = 10

// Collaborators is the set of external text services the engine calls.
type Collaborators interface {
	collaborator.Dialogue
	collaborator.Analyzer
	collaborator.Synthesizer
}

// Engine coordinates sessions. It is safe for concurrent use across
// sessions; operations on the same session must be serialized by the caller
// or by a Locker.
type Engine struct {
	catalog  *scenario.Catalog
	sessions store.SessionStore
	collab   Collaborators
	feedback *feedback.Synthesizer

	locker  store.Locker
	archive store.Archive
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
	window  int
}

// Option configures an Engine.
type Option func(*Engine)

// WithLocker serializes Respond and End per session id.
func WithLocker(l store.Locker) Option {
	return func(e *Engine) { e.locker = l }
}

// WithArchive records ended sessions for history queries.
func WithArchive(a store.Archive) Option {
	return func(e *Engine) { e.archive = a }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIDGenerator replaces the session id generator.
func WithIDGenerator(gen func() string) Option {
	return func(e *Engine) { e.newID = gen }
}

// WithWindow sets how many recent turns accompany a dialogue request.
func WithWindow(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.window = n
		}
	}
}

// New creates an Engine.
func New(catalog *scenario.Catalog, sessions store.SessionStore, collab Collaborators, opts ...Option) *Engine {
	e := &Engine{
		catalog:  catalog,
		sessions: sessions,
		collab:   collab,
		tracer:   otel.Tracer("github.com/ashureev/prosim/internal/engine"),
		logger:   slog.Default(),
		now:      time.Now,
		newID:    uuid.NewString,
		window:   DefaultWindow,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.feedback = feedback.New(collab, e.logger)
	return e
}

// Scenarios lists the registered scenarios ordered by id.
func (e *Engine) Scenarios() []scenario.Definition {
	return e.catalog.List()
}

// Start creates a session for scenarioID and records the persona's opening line.
func (e *Engine) Start(ctx context.Context, scenarioID, userID string, sessionCtx map[string]any) (res StartResult, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.Start", trace.WithAttributes(
		attribute.String("scenario", scenarioID),
	))
	defer func() { endSpan(span, err) }()

	def, err := e.catalog.Lookup(scenarioID)
	if err != nil {
		return StartResult{}, err
	}

	now := e.now()
	if sessionCtx == nil {
		sessionCtx = map[string]any{}
	}
	s := &domain.Session{
		ID:           e.newID(),
		UserID:       userID,
		ScenarioID:   def.ID,
		Persona:      def.Persona.Clone(),
		Context:      sessionCtx,
		Phase:        def.FirstPhase(),
		Status:       domain.StatusActive,
		StartedAt:    now,
		LastActivity: now,
	}
	span.SetAttributes(attribute.String("session_id", s.ID))

	opening, err := e.generate(ctx, collaborator.DialogueRequest{
		Scenario: def.ID,
		Phase:    s.Phase,
		Persona:  s.Persona,
		Context:  s.Context,
	})
	if err != nil {
		return StartResult{}, err
	}
	s.AppendTurn(domain.SpeakerAI, opening, now)

	if err := e.sessions.Create(ctx, s); err != nil {
		return StartResult{}, err
	}

	e.metrics.SessionStarted(def.ID)
	e.logger.Info("Simulation session started",
		"session_id", s.ID,
		"scenario", def.ID,
		"user_id", userID)

	return StartResult{
		SessionID:      s.ID,
		ScenarioID:     def.ID,
		PersonaName:    s.Persona.Name,
		OpeningMessage: opening,
		Phase:          s.Phase,
		Instructions:   def.Instructions,
		Objectives:     def.Objectives,
	}, nil
}

// Respond records a user message, scores it, obtains the persona's reply and
// advances the phase when the transcript has grown enough. Nothing is
// persisted unless every step succeeds.
func (e *Engine) Respond(ctx context.Context, sessionID, message string) (res RespondResult, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.Respond", trace.WithAttributes(
		attribute.String("session_id", sessionID),
	))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(message) == "" {
		return RespondResult{}, domain.ErrInvalidMessage
	}

	release, err := e.acquire(ctx, sessionID)
	if err != nil {
		return RespondResult{}, err
	}
	defer release()

	s, def, err := e.load(ctx, sessionID)
	if err != nil {
		return RespondResult{}, err
	}

	s.AppendTurn(domain.SpeakerUser, message, e.now())
	summary := collaborator.Summarize(s.Transcript)

	analysis, usedFallback, err := e.analyze(ctx, collaborator.AnalysisRequest{
		Scenario: s.ScenarioID,
		Phase:    s.Phase,
		Message:  message,
		Summary:  summary,
	})
	if err != nil {
		return RespondResult{}, err
	}
	if usedFallback {
		s.Fallbacks++
	}
	s.Metrics = metrics.Update(s.Metrics, analysis.Scores)

	raw := analysis.Scores
	reply, err := e.generate(ctx, collaborator.DialogueRequest{
		Scenario:    s.ScenarioID,
		Phase:       s.Phase,
		Persona:     s.Persona,
		Context:     s.Context,
		Window:      s.RecentTurns(e.window),
		Summary:     summary,
		UserMessage: message,
		Scores:      &raw,
	})
	if err != nil {
		return RespondResult{}, err
	}

	now := e.now()
	s.AppendTurn(domain.SpeakerAI, reply, now)

	var transition *scenario.Transition
	if t, ok := def.Advance(s.Phase, len(s.Transcript)); ok {
		s.Phase = t.To
		transition = &t
	}
	s.LastActivity = now

	if err := e.sessions.Put(ctx, s); err != nil {
		return RespondResult{}, err
	}

	e.metrics.Turn(s.ScenarioID)
	if transition != nil {
		e.metrics.Transition(s.ScenarioID, transition.To)
		e.logger.Info("Simulation phase advanced",
			"session_id", s.ID,
			"from", transition.From,
			"phase", transition.To)
	}

	return RespondResult{
		Reply:        reply,
		Phase:        s.Phase,
		Feedback:     analysis.Feedback,
		Transition:   transition,
		Metrics:      s.Metrics,
		UsedFallback: usedFallback,
	}, nil
}

// End closes a session: it requests the final report, computes final scores
// and moves the session to the completed namespace.
func (e *Engine) End(ctx context.Context, sessionID string) (res EndResult, err error) {
	ctx, span := e.tracer.Start(ctx, "engine.End", trace.WithAttributes(
		attribute.String("session_id", sessionID),
	))
	defer func() { endSpan(span, err) }()

	release, err := e.acquire(ctx, sessionID)
	if err != nil {
		return EndResult{}, err
	}
	defer release()

	s, _, err := e.load(ctx, sessionID)
	if err != nil {
		return EndResult{}, err
	}

	start := time.Now()
	report, usedFallback, err := e.feedback.Report(ctx, s.ScenarioID, s.Metrics, collaborator.Summarize(s.Transcript))
	e.metrics.Collaborator(string(domain.RoleSynthesis), time.Since(start), err)
	if err != nil {
		return EndResult{}, err
	}
	if usedFallback {
		s.Fallbacks++
		e.metrics.Fallback(string(domain.RoleSynthesis))
	}

	final := metrics.Final(s.Metrics)
	now := e.now()
	s.Status = domain.StatusCompleted
	s.CompletedAt = &now
	s.LastActivity = now
	s.Report = &report
	s.FinalScores = &final

	if err := e.sessions.Retire(ctx, s); err != nil {
		return EndResult{}, err
	}

	if e.archive != nil {
		if err := e.archive.Record(ctx, s); err != nil {
			e.logger.Error("Failed to archive completed session",
				"session_id", s.ID,
				"error", err)
		}
	}

	e.metrics.SessionCompleted(s.ScenarioID, final.Overall)
	e.logger.Info("Simulation session completed",
		"session_id", s.ID,
		"scenario", s.ScenarioID,
		"overall_score", final.Overall,
		"turns", len(s.Transcript))

	return EndResult{
		SessionID:              s.ID,
		Report:                 report,
		Scores:                 final,
		Summary:                Summarize(s),
		ImprovementSuggestions: report.ImprovementSuggestions,
		NextSteps:              report.NextSteps,
		UsedFallback:           usedFallback,
	}, nil
}

// Status returns a copy of an active session.
func (e *Engine) Status(ctx context.Context, sessionID string) (*domain.Session, error) {
	return e.sessions.Get(ctx, sessionID)
}

// Result returns a copy of a completed session with its report and scores.
func (e *Engine) Result(ctx context.Context, sessionID string) (*domain.Session, error) {
	return e.sessions.GetCompleted(ctx, sessionID)
}

// History lists archived sessions for userID, newest first. It returns an
// empty list when no archive is configured.
func (e *Engine) History(ctx context.Context, userID string, filter store.ListFilter) ([]store.SessionRecord, error) {
	if e.archive == nil {
		return []store.SessionRecord{}, nil
	}
	records, err := e.archive.ListByUser(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("list sessions for %s: %w", userID, err)
	}
	return records, nil
}

// load fetches an active session and its scenario definition.
func (e *Engine) load(ctx context.Context, sessionID string) (*domain.Session, scenario.Definition, error) {
	s, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, scenario.Definition{}, err
	}
	if !s.IsActive() {
		return nil, scenario.Definition{}, fmt.Errorf("%w: %s", domain.ErrSessionCompleted, sessionID)
	}
	def, err := e.catalog.Lookup(s.ScenarioID)
	if err != nil {
		return nil, scenario.Definition{}, err
	}
	return s, def, nil
}

// acquire takes the per-session lock when one is configured.
func (e *Engine) acquire(ctx context.Context, sessionID string) (func(), error) {
	if e.locker == nil {
		return func() {}, nil
	}
	unlock, err := e.locker.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			e.logger.Warn("Failed to release session lock",
				"session_id", sessionID,
				"error", err)
		}
	}, nil
}

func (e *Engine) generate(ctx context.Context, req collaborator.DialogueRequest) (string, error) {
	ctx, span := e.tracer.Start(ctx, "collaborator.dialogue")
	defer span.End()

	start := time.Now()
	text, err := e.collab.Generate(ctx, req)
	e.metrics.Collaborator(string(domain.RoleDialogue), time.Since(start), err)
	if err != nil {
		markSpan(span, err)
		return "", domain.NewCollaboratorError(domain.RoleDialogue, err)
	}
	return strings.TrimSpace(text), nil
}

// analyze scores one message. An unparseable reply is replaced with the
// neutral fallback and reported through usedFallback.
func (e *Engine) analyze(ctx context.Context, req collaborator.AnalysisRequest) (collaborator.Analysis, bool, error) {
	ctx, span := e.tracer.Start(ctx, "collaborator.analysis")
	defer span.End()

	start := time.Now()
	raw, err := e.collab.Analyze(ctx, req)
	e.metrics.Collaborator(string(domain.RoleAnalysis), time.Since(start), err)
	if err != nil {
		markSpan(span, err)
		return collaborator.Analysis{}, false, domain.NewCollaboratorError(domain.RoleAnalysis, err)
	}

	analysis, err := collaborator.ParseAnalysis(raw)
	if err != nil {
		e.logger.Warn("Analysis reply unparseable, using neutral scores",
			"scenario", req.Scenario,
			"phase", req.Phase,
			"error", err)
		e.metrics.Fallback(string(domain.RoleAnalysis))
		span.SetAttributes(attribute.Bool("fallback", true))
		return collaborator.FallbackAnalysis(), true, nil
	}
	return analysis, false, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		markSpan(span, err)
	}
	span.End()
}

func markSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
