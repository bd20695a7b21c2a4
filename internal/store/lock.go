package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ashureev/prosim/internal/domain"
)

// Locker serialises operations on one session id. Acquire fails with
// ErrSessionBusy when another holder owns the lock.
type Locker interface {
	Acquire(ctx context.Context, sessionID string) (release func(context.Context) error, err error)
}

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a SET NX PX lock shared across engine instances.
type RedisLocker struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewRedisLocker creates a locker whose locks expire after ttl.
func NewRedisLocker(client redis.UniversalClient, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisLocker{client: client, ttl: ttl}
}

func lockKey(sessionID string) string {
	return "simulation_lock:" + sessionID
}

// Acquire implements Locker.
func (l *RedisLocker) Acquire(ctx context.Context, sessionID string) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, lockKey(sessionID), token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionBusy, sessionID)
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{lockKey(sessionID)}, token).Err(); err != nil {
			return fmt.Errorf("release lock: %w", err)
		}
		return nil
	}, nil
}

// MemoryLocker is a process-local Locker.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewMemoryLocker creates an empty locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

// Acquire implements Locker.
func (l *MemoryLocker) Acquire(_ context.Context, sessionID string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[sessionID]; busy {
		return nil, fmt.Errorf("%w: %s", domain.ErrSessionBusy, sessionID)
	}
	l.held[sessionID] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, sessionID)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
