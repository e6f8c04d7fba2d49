// Package store persists backend session identifiers between runs.
package store

import (
	"context"
	"time"

	"github.com/ashureev/gymchat/internal/domain"
)

// Repository defines the interface for persisting session records.
type Repository interface {
	// GetSession retrieves the session for an email and personality.
	// It returns nil, nil when no session is stored.
	GetSession(ctx context.Context, email string, personality domain.Personality) (*domain.SessionRecord, error)

	// UpsertSession creates or replaces a session record.
	UpsertSession(ctx context.Context, record *domain.SessionRecord) error

	// TouchSession updates the last_seen_at timestamp of a session.
	TouchSession(ctx context.Context, email string, personality domain.Personality, at time.Time) error

	// DeleteSession removes a stored session.
	DeleteSession(ctx context.Context, email string, personality domain.Personality) error

	// CleanupExpiredSessions removes sessions not seen within ttl.
	CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
