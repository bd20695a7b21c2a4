// Package api provides HTTP handlers for the simulation API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ashureev/prosim/internal/domain"
	"github.com/ashureev/prosim/internal/engine"
	"github.com/ashureev/prosim/internal/identity"
)

// SessionCloser drops live connections attached to a simulation session.
type SessionCloser interface {
	CloseSession(sessionID, reason string)
}

// Handler provides common handler utilities.
type Handler struct {
	engine *engine.Engine
	conns  SessionCloser
	logger *slog.Logger
}

// NewHandler creates a new Handler. conns may be nil.
func NewHandler(e *engine.Engine, conns SessionCloser, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: e, conns: conns, logger: logger}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// StatusFor maps engine errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnknownScenario), errors.Is(err, domain.ErrInvalidMessage):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateSession),
		errors.Is(err, domain.ErrSessionBusy),
		errors.Is(err, domain.ErrSessionCompleted):
		return http.StatusConflict
	case errors.Is(err, domain.ErrCollaboratorFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the client-facing text for err. Internal failures are not
// described beyond their category.
func PublicMessage(err error) string {
	switch StatusFor(err) {
	case http.StatusBadRequest, http.StatusNotFound, http.StatusConflict:
		for _, known := range []error{
			domain.ErrUnknownScenario, domain.ErrInvalidMessage, domain.ErrSessionNotFound,
			domain.ErrDuplicateSession, domain.ErrSessionBusy, domain.ErrSessionCompleted,
		} {
			if errors.Is(err, known) {
				return known.Error()
			}
		}
	case http.StatusBadGateway:
		return "simulation partner is unavailable, please retry"
	}
	return "internal error"
}

// writeError logs err and writes the mapped response.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status := StatusFor(err)
	attrs := []any{"op", op, "status", status, "error", err}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Simulation request failed", attrs...)
	} else {
		h.logger.Info("Simulation request rejected", attrs...)
	}
	Error(w, status, PublicMessage(err))
}

// ownedSession returns the caller's active session. Sessions owned by other
// users are reported as not found.
func (h *Handler) ownedSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	s, err := h.engine.Status(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.UserID != identity.UserIDFromContext(ctx) {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}
