package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/prosim/internal/domain"
)

type hotEntry struct {
	session *domain.Session
	touched time.Time
}

// TwoTier is a SessionStore backed by an in-process map in front of a
// Durable tier. The map is safe for concurrent use across sessions.
type TwoTier struct {
	mu  sync.RWMutex
	hot map[string]hotEntry

	durable      Durable
	activeTTL    time.Duration
	completedTTL time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

// Option configures a TwoTier store.
type Option func(*TwoTier)

// WithActiveTTL sets the inactivity window for active sessions.
func WithActiveTTL(ttl time.Duration) Option {
	return func(t *TwoTier) {
		if ttl > 0 {
			t.activeTTL = ttl
		}
	}
}

// WithCompletedTTL sets the retention of completed sessions.
func WithCompletedTTL(ttl time.Duration) Option {
	return func(t *TwoTier) {
		if ttl > 0 {
			t.completedTTL = ttl
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *TwoTier) {
		t.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *TwoTier) {
		t.logger = logger
	}
}

// NewTwoTier creates a store over durable.
func NewTwoTier(durable Durable, opts ...Option) *TwoTier {
	t := &TwoTier{
		hot:          make(map[string]hotEntry),
		durable:      durable,
		activeTTL:    DefaultActiveTTL,
		completedTTL: DefaultCompletedTTL,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ SessionStore = (*TwoTier)(nil)

// Create implements SessionStore.
func (t *TwoTier) Create(ctx context.Context, s *domain.Session) error {
	t.mu.RLock()
	_, exists := t.hot[s.ID]
	t.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateSession, s.ID)
	}

	if err := t.durable.Insert(ctx, s, t.activeTTL); err != nil {
		return fmt.Errorf("create session %s: %w", s.ID, err)
	}

	t.mu.Lock()
	t.hot[s.ID] = hotEntry{session: s.Clone(), touched: t.now()}
	t.mu.Unlock()
	return nil
}

// Get implements SessionStore.
func (t *TwoTier) Get(ctx context.Context, id string) (*domain.Session, error) {
	if s, ok := t.getHot(id); ok {
		return s, nil
	}

	s, err := t.durable.Load(ctx, Active, id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	// The durable TTL runs from the last write, which stamped LastActivity.
	touched := s.LastActivity
	if now := t.now(); touched.After(now) {
		touched = now
	}
	t.mu.Lock()
	t.hot[id] = hotEntry{session: s.Clone(), touched: touched}
	t.mu.Unlock()
	t.logger.Debug("Session rehydrated from durable tier", "session_id", id)
	return s, nil
}

// getHot returns a copy of a hot entry that has not outlived the active TTL.
// Stale entries are dropped so the durable tier decides.
func (t *TwoTier) getHot(id string) (*domain.Session, bool) {
	t.mu.RLock()
	e, ok := t.hot[id]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if t.now().Sub(e.touched) >= t.activeTTL {
		t.Evict(id)
		return nil, false
	}
	return e.session.Clone(), true
}

// Put implements SessionStore.
func (t *TwoTier) Put(ctx context.Context, s *domain.Session) error {
	if err := t.durable.Save(ctx, Active, s, t.activeTTL); err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	t.mu.Lock()
	t.hot[s.ID] = hotEntry{session: s.Clone(), touched: t.now()}
	t.mu.Unlock()
	return nil
}

// Retire implements SessionStore.
func (t *TwoTier) Retire(ctx context.Context, s *domain.Session) error {
	if err := t.durable.Retire(ctx, s, t.completedTTL); err != nil {
		return fmt.Errorf("retire session %s: %w", s.ID, err)
	}
	t.Evict(s.ID)
	return nil
}

// GetCompleted implements SessionStore.
func (t *TwoTier) GetCompleted(ctx context.Context, id string) (*domain.Session, error) {
	s, err := t.durable.Load(ctx, Completed, id)
	if err != nil {
		if errors.Is(err, domain.ErrSessionNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("load completed session %s: %w", id, err)
	}
	return s, nil
}

// Evict drops a session from the hot tier only.
func (t *TwoTier) Evict(id string) {
	t.mu.Lock()
	delete(t.hot, id)
	t.mu.Unlock()
}

// EvictIdle drops hot entries not written for longer than the active TTL and
// returns their ids.
func (t *TwoTier) EvictIdle() []string {
	cutoff := t.now().Add(-t.activeTTL)

	t.mu.Lock()
	defer t.mu.Unlock()

	var evicted []string
	for id, e := range t.hot {
		if !e.touched.After(cutoff) {
			delete(t.hot, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// HotLen returns the number of sessions held in memory.
func (t *TwoTier) HotLen() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.hot)
}

// Close closes the durable tier.
func (t *TwoTier) Close() error {
	return t.durable.Close()
}
