package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashureev/prosim/internal/domain"
)

const defaultListLimit = 10

// SQLiteArchive implements Archive using SQLite.
type SQLiteArchive struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed archive.
func NewSQLite(dbPath string) (*SQLiteArchive, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	a := &SQLiteArchive{db: db}
	if err := a.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return a, nil
}

var _ Archive = (*SQLiteArchive)(nil)

func (a *SQLiteArchive) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS completed_sessions (
		session_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		scenario_id TEXT NOT NULL,
		status TEXT NOT NULL,
		final_phase TEXT NOT NULL,
		turns INTEGER NOT NULL,
		overall_score REAL NOT NULL,
		key_feedback TEXT NOT NULL DEFAULT '',
		started_at INTEGER NOT NULL,
		completed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_completed_user ON completed_sessions(user_id, completed_at DESC);
	`
	if _, err := a.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (a *SQLiteArchive) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Close closes the database connection.
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}

// Record stores the summary of a completed session. Recording the same
// session twice keeps the latest values.
func (a *SQLiteArchive) Record(ctx context.Context, s *domain.Session) error {
	completedAt := time.Now()
	if s.CompletedAt != nil {
		completedAt = *s.CompletedAt
	}
	var overall float64
	if s.FinalScores != nil {
		overall = s.FinalScores.Overall
	}
	var feedback string
	if s.Report != nil {
		feedback = s.Report.OverallSummary
	}

	query := `
	INSERT INTO completed_sessions (session_id, user_id, scenario_id, status, final_phase, turns,
		overall_score, key_feedback, started_at, completed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET
		status = excluded.status,
		final_phase = excluded.final_phase,
		turns = excluded.turns,
		overall_score = excluded.overall_score,
		key_feedback = excluded.key_feedback,
		completed_at = excluded.completed_at`

	const maxRetries = 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		_, err = a.db.ExecContext(ctx, query,
			s.ID, s.UserID, s.ScenarioID, string(s.Status), s.Phase, len(s.Transcript),
			overall, feedback, s.StartedAt.Unix(), completedAt.Unix(),
		)
		if err == nil {
			return nil
		}
		if !isBusy(err) || i == maxRetries-1 {
			break
		}

		delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("Archive write hit a locked database, retrying",
			"session_id", s.ID,
			"attempt", i+1,
			"delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("record session: %w", ctx.Err())
		}
	}
	return fmt.Errorf("record session: %w", err)
}

// isBusy matches SQLITE_BUSY and "database is locked" errors.
func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// ListByUser returns a user's archived sessions, newest first.
func (a *SQLiteArchive) ListByUser(ctx context.Context, userID string, filter ListFilter) ([]SessionRecord, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `
		SELECT session_id, user_id, scenario_id, status, final_phase, turns,
		       overall_score, key_feedback, started_at, completed_at
		FROM completed_sessions WHERE user_id = ?`
	args := []any{userID}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY completed_at DESC, session_id LIMIT ?`
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var r SessionRecord
		var status string
		var startedAt, completedAt int64
		if err := rows.Scan(
			&r.SessionID, &r.UserID, &r.ScenarioID, &status, &r.FinalPhase, &r.Turns,
			&r.OverallScore, &r.KeyFeedback, &startedAt, &completedAt,
		); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		r.Status = domain.Status(status)
		r.StartedAt = time.Unix(startedAt, 0)
		r.CompletedAt = time.Unix(completedAt, 0)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}
