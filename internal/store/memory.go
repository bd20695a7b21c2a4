package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/prosim/internal/domain"
)

type memoryItem struct {
	session *domain.Session
	expires time.Time
}

// MemoryDurable is a process-local Durable with lazy TTL expiry. It backs
// single-process deployments and tests.
type MemoryDurable struct {
	mu    sync.Mutex
	items map[string]memoryItem
	now   func() time.Time
}

// NewMemoryDurable creates an empty durable tier. A nil clock uses time.Now.
func NewMemoryDurable(now func() time.Time) *MemoryDurable {
	if now == nil {
		now = time.Now
	}
	return &MemoryDurable{
		items: make(map[string]memoryItem),
		now:   now,
	}
}

var _ Durable = (*MemoryDurable)(nil)

// Insert implements Durable.
func (m *MemoryDurable) Insert(_ context.Context, s *domain.Session, ttl time.Duration) error {
	key := Active.Key(s.ID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.live(key); ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateSession, s.ID)
	}
	m.items[key] = memoryItem{session: s.Clone(), expires: m.now().Add(ttl)}
	return nil
}

// Save implements Durable.
func (m *MemoryDurable) Save(_ context.Context, ns Namespace, s *domain.Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[ns.Key(s.ID)] = memoryItem{session: s.Clone(), expires: m.now().Add(ttl)}
	return nil
}

// Load implements Durable.
func (m *MemoryDurable) Load(_ context.Context, ns Namespace, id string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.live(ns.Key(id))
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return item.session.Clone(), nil
}

// Retire implements Durable.
func (m *MemoryDurable) Retire(_ context.Context, s *domain.Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[Completed.Key(s.ID)] = memoryItem{session: s.Clone(), expires: m.now().Add(ttl)}
	delete(m.items, Active.Key(s.ID))
	return nil
}

// Close implements Durable.
func (m *MemoryDurable) Close() error {
	return nil
}

// live returns an unexpired item, deleting it if expired. Caller holds mu.
func (m *MemoryDurable) live(key string) (memoryItem, bool) {
	item, ok := m.items[key]
	if !ok {
		return memoryItem{}, false
	}
	if !m.now().Before(item.expires) {
		delete(m.items, key)
		return memoryItem{}, false
	}
	return item, true
}
