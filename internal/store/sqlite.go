package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/gymchat/internal/domain"
	"github.com/ashureev/gymchat/internal/shared"
	_ "modernc.org/sqlite"
)

const (
	deleteRetries   = 3
	deleteBaseDelay = 100 * time.Millisecond
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // serializes writes to avoid SQLITE_BUSY
}

// NewSQLite opens (creating if needed) the session database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS sessions (
		email TEXT NOT NULL,
		personality TEXT NOT NULL,
		session_id TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT '',
		show_interstitial INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		last_seen_at INTEGER NOT NULL,
		PRIMARY KEY (email, personality)
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_last_seen ON sessions(last_seen_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// GetSession retrieves the session for an email and personality.
func (s *SQLiteStore) GetSession(ctx context.Context, email string, personality domain.Personality) (*domain.SessionRecord, error) {
	query := `
		SELECT session_id, email, personality, role, show_interstitial,
		       created_at, last_seen_at
		FROM sessions WHERE email = ? AND personality = ?`

	var (
		rec                 domain.SessionRecord
		personalityName     string
		createdAt, lastSeen int64
	)
	err := s.db.QueryRowContext(ctx, query, email, string(personality)).Scan(
		&rec.SessionID, &rec.Email, &personalityName, &rec.Role,
		&rec.ShowInterstitialPrompt, &createdAt, &lastSeen,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session row: %w", err)
	}

	rec.Personality = domain.Personality(personalityName)
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.LastSeenAt = time.Unix(lastSeen, 0)
	return &rec, nil
}

// UpsertSession creates or replaces a session record. Zero timestamps are
// filled with the current time; created_at survives an update.
func (s *SQLiteStore) UpsertSession(ctx context.Context, rec *domain.SessionRecord) error {
	if rec.SessionID == "" {
		return errors.New("upsert session: empty session id")
	}
	now := time.Now()
	createdAt, lastSeen := rec.CreatedAt, rec.LastSeenAt
	if createdAt.IsZero() {
		createdAt = now
	}
	if lastSeen.IsZero() {
		lastSeen = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
	INSERT INTO sessions (email, personality, session_id, role, show_interstitial, created_at, last_seen_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(email, personality) DO UPDATE SET
		session_id = excluded.session_id,
		role = excluded.role,
		show_interstitial = excluded.show_interstitial,
		last_seen_at = excluded.last_seen_at`

	_, err := s.db.ExecContext(ctx, query,
		rec.Email, string(rec.Personality), rec.SessionID, rec.Role,
		rec.ShowInterstitialPrompt, createdAt.Unix(), lastSeen.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	return nil
}

// TouchSession updates the last_seen_at timestamp of a session.
func (s *SQLiteStore) TouchSession(ctx context.Context, email string, personality domain.Personality, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_seen_at = ? WHERE email = ? AND personality = ?`,
		at.Unix(), email, string(personality),
	)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("TouchSession affected 0 rows", "personality", personality)
	}
	return nil
}

// DeleteSession removes a stored session, retrying with exponential backoff
// while the database is busy.
func (s *SQLiteStore) DeleteSession(ctx context.Context, email string, personality domain.Personality) error {
	var (
		err      error
		attempts int
	)
	for i := range deleteRetries {
		attempts++
		err = s.deleteSessionOnce(ctx, email, personality)
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == deleteRetries-1 {
			break
		}
		delay := deleteBaseDelay * time.Duration(1<<i)
		slog.Debug("DeleteSession hit a locked database, retrying", "attempt", i+1, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("delete session after %d attempts: %w", attempts, err)
}

func (s *SQLiteStore) deleteSessionOnce(ctx context.Context, email string, personality domain.Personality) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE email = ? AND personality = ?`, email, string(personality))
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// CleanupExpiredSessions removes sessions not seen within ttl.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := time.Now().Add(-ttl).Unix()
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE last_seen_at < ?`, threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired sessions: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
