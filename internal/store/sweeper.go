package store

import (
	"context"
	"log/slog"
	"time"
)

const defaultSweepInterval = 5 * time.Minute

// EvictCallback is called for each session dropped from the hot tier.
type EvictCallback func(sessionID string)

// StartSweeper runs a background goroutine that periodically evicts idle
// sessions from the hot tier. The durable copy is left alone; its own TTL
// decides when the session is gone for good.
func StartSweeper(ctx context.Context, t *TwoTier, interval time.Duration, onEvict EvictCallback) {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		slog.Info("Session sweeper started", "interval", interval, "ttl", t.activeTTL)

		for {
			select {
			case <-ticker.C:
				sweep(t, onEvict)
			case <-ctx.Done():
				slog.Info("Session sweeper shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func sweep(t *TwoTier, onEvict EvictCallback) {
	evicted := t.EvictIdle()
	if len(evicted) == 0 {
		return
	}

	slog.Info("Session sweeper evicted idle sessions", "count", len(evicted), "remaining", t.HotLen())
	if onEvict == nil {
		return
	}
	for _, id := range evicted {
		onEvict(id)
	}
}
