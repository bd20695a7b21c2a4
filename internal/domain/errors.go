package domain

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownScenario     = errors.New("unknown scenario")
	ErrSessionNotFound     = errors.New("session not found")
	ErrDuplicateSession    = errors.New("duplicate session")
	ErrCollaboratorFailure = errors.New("collaborator failure")
	ErrSessionCompleted    = errors.New("session already completed")
	ErrSessionBusy         = errors.New("session is busy")
	ErrInvalidMessage      = errors.New("message must not be empty")
)

// Role names the external collaborator involved in a call.
type Role string

const (
	RoleDialogue  Role = "dialogue"
	RoleAnalysis  Role = "analysis"
	RoleSynthesis Role = "synthesis"
)

// CollaboratorError wraps a failed dialogue, analysis or synthesis call.
// It matches ErrCollaboratorFailure with errors.Is.
type CollaboratorError struct {
	Role Role
	Err  error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s collaborator: %v", e.Role, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

// Is reports ErrCollaboratorFailure as a match.
func (e *CollaboratorError) Is(target error) bool {
	return target == ErrCollaboratorFailure
}

// NewCollaboratorError wraps err for the given role.
func NewCollaboratorError(role Role, err error) error {
	return &CollaboratorError{Role: role, Err: err}
}
