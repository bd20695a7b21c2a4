// Package store provides session persistence: a two-tier live store and a
// SQLite archive of completed sessions.
package store

import (
	"context"
	"time"

	"github.com/ashureev/prosim/internal/domain"
)

const (
	// DefaultActiveTTL is how long an active session survives without activity.
	DefaultActiveTTL = 2 * time.Hour
	// DefaultCompletedTTL is how long a completed session stays retrievable.
	DefaultCompletedTTL = 24 * time.Hour
)

// SessionStore holds live and recently completed sessions.
// Every method returns or stores copies; callers own what they receive.
type SessionStore interface {
	// Create stores a new session. It fails with ErrDuplicateSession if the id is taken.
	Create(ctx context.Context, s *domain.Session) error

	// Get returns an active session or ErrSessionNotFound.
	Get(ctx context.Context, id string) (*domain.Session, error)

	// Put overwrites an active session. Last writer wins.
	Put(ctx context.Context, s *domain.Session) error

	// Retire moves a session to the completed namespace and drops it from
	// the active path.
	Retire(ctx context.Context, s *domain.Session) error

	// GetCompleted returns a retired session or ErrSessionNotFound.
	GetCompleted(ctx context.Context, id string) (*domain.Session, error)
}

// Namespace separates active and completed sessions in the durable tier.
type Namespace int

const (
	Active Namespace = iota
	Completed
)

func (n Namespace) String() string {
	if n == Completed {
		return "completed"
	}
	return "active"
}

// Key returns the durable key for a session id.
func (n Namespace) Key(id string) string {
	if n == Completed {
		return "completed_session:" + id
	}
	return "simulation_session:" + id
}

// Durable is the TTL-bounded tier shared across processes.
type Durable interface {
	// Insert writes an active session only if the key does not exist.
	Insert(ctx context.Context, s *domain.Session, ttl time.Duration) error

	// Save writes a session into ns, replacing any previous value.
	Save(ctx context.Context, ns Namespace, s *domain.Session, ttl time.Duration) error

	// Load reads a session from ns. Missing or expired keys yield ErrSessionNotFound.
	Load(ctx context.Context, ns Namespace, id string) (*domain.Session, error)

	// Retire writes s to the completed namespace and deletes the active key.
	Retire(ctx context.Context, s *domain.Session, ttl time.Duration) error

	Close() error
}

// Archive keeps a permanent history of completed sessions.
type Archive interface {
	Record(ctx context.Context, s *domain.Session) error
	ListByUser(ctx context.Context, userID string, filter ListFilter) ([]SessionRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

// ListFilter narrows ListByUser results.
type ListFilter struct {
	Limit  int
	Status domain.Status
}

// SessionRecord is the archived summary of one session.
type SessionRecord struct {
	SessionID    string        `json:"session_id"`
	UserID       string        `json:"-"`
	ScenarioID   string        `json:"scenario"`
	Status       domain.Status `json:"status"`
	FinalPhase   string        `json:"final_phase"`
	Turns        int           `json:"turns"`
	OverallScore float64       `json:"final_score"`
	KeyFeedback  string        `json:"key_feedback"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  time.Time     `json:"completed_at"`
}

// Duration is the wall-clock length of the session.
func (r SessionRecord) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}
