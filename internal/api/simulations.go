package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/prosim/internal/domain"
	"github.com/ashureev/prosim/internal/identity"
	"github.com/ashureev/prosim/internal/store"
)

const maxBodyBytes = 64 << 10

// SimulationHandler serves the simulation endpoints.
type SimulationHandler struct {
	*Handler
}

// NewSimulationHandler creates a SimulationHandler.
func NewSimulationHandler(base *Handler) *SimulationHandler {
	return &SimulationHandler{Handler: base}
}

// RegisterRoutes registers simulation routes.
func (h *SimulationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/simulations", func(r chi.Router) {
		r.Get("/available", h.Available)
		r.Post("/start", h.Start)
		r.Get("/user-sessions", h.UserSessions)
		r.Route("/session/{id}", func(r chi.Router) {
			r.Post("/respond", h.Respond)
			r.Post("/end", h.End)
			r.Get("/status", h.Status)
			r.Get("/result", h.Result)
		})
	})
}

type startRequest struct {
	Scenario string         `json:"scenario"`
	Context  map[string]any `json:"context"`
}

type respondRequest struct {
	Message string `json:"message"`
}

type statusResponse struct {
	SessionID    string         `json:"session_id"`
	Scenario     string         `json:"scenario"`
	Status       domain.Status  `json:"status"`
	Phase        string         `json:"current_phase"`
	Persona      string         `json:"ai_persona"`
	Turns        int            `json:"conversation_length"`
	Metrics      domain.Metrics `json:"performance_metrics"`
	Transcript   []domain.Turn  `json:"conversation_history"`
	StartedAt    time.Time      `json:"started_at"`
	LastActivity time.Time      `json:"last_activity"`
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

// Available lists the scenarios a user can start.
func (h *SimulationHandler) Available(w http.ResponseWriter, _ *http.Request) {
	scenarios := h.engine.Scenarios()
	JSON(w, http.StatusOK, map[string]any{
		"scenarios": scenarios,
		"total":     len(scenarios),
	})
}

// Start begins a simulation for the caller.
func (h *SimulationHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Scenario == "" {
		Error(w, http.StatusBadRequest, "scenario is required")
		return
	}

	userID := identity.UserIDFromContext(r.Context())
	res, err := h.engine.Start(r.Context(), req.Scenario, userID, req.Context)
	if err != nil {
		h.writeError(w, "start", err)
		return
	}
	JSON(w, http.StatusCreated, res)
}

// Respond submits one user message.
func (h *SimulationHandler) Respond(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")

	var req respondRequest
	if err := decode(w, r, &req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if _, err := h.ownedSession(r.Context(), sessionID); err != nil {
		h.writeError(w, "respond", err)
		return
	}

	res, err := h.engine.Respond(r.Context(), sessionID, req.Message)
	if err != nil {
		h.writeError(w, "respond", err)
		return
	}
	JSON(w, http.StatusOK, res)
}

// End finishes a simulation and returns the final report.
func (h *SimulationHandler) End(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if _, err := h.ownedSession(r.Context(), sessionID); err != nil {
		h.writeError(w, "end", err)
		return
	}

	res, err := h.engine.End(r.Context(), sessionID)
	if err != nil {
		h.writeError(w, "end", err)
		return
	}
	if h.conns != nil {
		h.conns.CloseSession(sessionID, "simulation ended")
	}
	JSON(w, http.StatusOK, res)
}

// Status returns the state of an active simulation.
func (h *SimulationHandler) Status(w http.ResponseWriter, r *http.Request) {
	s, err := h.ownedSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "status", err)
		return
	}

	JSON(w, http.StatusOK, statusResponse{
		SessionID:    s.ID,
		Scenario:     s.ScenarioID,
		Status:       s.Status,
		Phase:        s.Phase,
		Persona:      s.Persona.Name,
		Turns:        len(s.Transcript),
		Metrics:      s.Metrics,
		Transcript:   s.Transcript,
		StartedAt:    s.StartedAt,
		LastActivity: s.LastActivity,
	})
}

// Result returns a completed simulation with its report.
func (h *SimulationHandler) Result(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.Result(r.Context(), chi.URLParam(r, "id"))
	if err == nil && s.UserID != identity.UserIDFromContext(r.Context()) {
		err = domain.ErrSessionNotFound
	}
	if err != nil {
		h.writeError(w, "result", err)
		return
	}
	JSON(w, http.StatusOK, s)
}

// UserSessions lists the caller's archived simulations.
func (h *SimulationHandler) UserSessions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.engine.History(r.Context(), identity.UserIDFromContext(r.Context()), filter)
	if err != nil {
		h.writeError(w, "user-sessions", err)
		return
	}
	JSON(w, http.StatusOK, map[string]any{
		"sessions": records,
		"total":    len(records),
	})
}

const maxListLimit = 100

func parseListFilter(r *http.Request) (store.ListFilter, error) {
	q := r.URL.Query()
	var f store.ListFilter

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return f, errors.New("limit must be a positive integer")
		}
		f.Limit = min(n, maxListLimit)
	}

	switch status := domain.Status(q.Get("status")); status {
	case "":
	case domain.StatusActive, domain.StatusCompleted, domain.StatusCancelled:
		f.Status = status
	default:
		return f, errors.New("unknown status filter")
	}
	return f, nil
}
