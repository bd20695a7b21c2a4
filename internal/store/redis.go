package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashureev/prosim/internal/domain"
)

// RedisDurable stores JSON session snapshots in Redis with per-key TTLs.
type RedisDurable struct {
	client redis.UniversalClient
}

// NewRedisDurable wraps an existing client.
func NewRedisDurable(client redis.UniversalClient) *RedisDurable {
	return &RedisDurable{client: client}
}

// DialRedis parses a redis:// URL and verifies the server answers.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

var _ Durable = (*RedisDurable)(nil)

// Insert implements Durable with SET NX.
func (r *RedisDurable) Insert(ctx context.Context, s *domain.Session, ttl time.Duration) error {
	val, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ok, err := r.client.SetNX(ctx, Active.Key(s.ID), val, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrDuplicateSession, s.ID)
	}
	return nil
}

// Save implements Durable.
func (r *RedisDurable) Save(ctx context.Context, ns Namespace, s *domain.Session, ttl time.Duration) error {
	val, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := r.client.Set(ctx, ns.Key(s.ID), val, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Load implements Durable.
func (r *RedisDurable) Load(ctx context.Context, ns Namespace, id string) (*domain.Session, error) {
	val, err := r.client.Get(ctx, ns.Key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var s domain.Session
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &s, nil
}

// Retire implements Durable. Both writes go in one MULTI/EXEC.
func (r *RedisDurable) Retire(ctx context.Context, s *domain.Session, ttl time.Duration) error {
	val, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, Completed.Key(s.ID), val, ttl)
		pipe.Del(ctx, Active.Key(s.ID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis retire: %w", err)
	}
	return nil
}

// Close implements Durable.
func (r *RedisDurable) Close() error {
	return r.client.Close()
}
