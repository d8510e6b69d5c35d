// Package research implements the session-scoped, credit-gated persistent
// cache. A research session binds a user's cached results together so
// repeated requests within the session window avoid re-fetching and
// re-charging.
package research

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Session statuses. Sessions are superseded, never mutated back to active.
const (
	StatusActive  = "active"
	StatusExpired = "expired"
)

// Session is one time-bounded research scope for a (user, component) pair.
type Session struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Component string    `json:"component"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SessionRepository persists research sessions.
type SessionRepository struct {
	db    *sql.DB
	log   zerolog.Logger
	clock func() time.Time
}

// NewSessionRepository creates a repository over db.
func NewSessionRepository(db *sql.DB, log zerolog.Logger) *SessionRepository {
	return &SessionRepository{
		db:    db,
		log:   log.With().Str("component", "sessions").Logger(),
		clock: time.Now,
	}
}

// SetClock overrides the time source. Used in tests.
func (r *SessionRepository) SetClock(clock func() time.Time) {
	r.clock = clock
}

// GetActive returns the user's unexpired active session for component, or
// nil when none exists.
func (r *SessionRepository) GetActive(userID, component string) (*Session, error) {
	var s Session
	var createdAt, expiresAt int64
	err := r.db.QueryRow(`
		SELECT session_id, user_id, component, status, created_at, expires_at
		FROM research_sessions
		WHERE user_id = ? AND component = ? AND status = ? AND expires_at > ?
		ORDER BY created_at DESC
		LIMIT 1`,
		userID, component, StatusActive, r.clock().Unix(),
	).Scan(&s.SessionID, &s.UserID, &s.Component, &s.Status, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query active session: %w", err)
	}

	s.CreatedAt = time.Unix(createdAt, 0)
	s.ExpiresAt = time.Unix(expiresAt, 0)
	return &s, nil
}

// Create starts a new active session lasting duration.
func (r *SessionRepository) Create(userID, component string, duration time.Duration) (*Session, error) {
	now := r.clock()
	s := &Session{
		SessionID: uuid.NewString(),
		UserID:    userID,
		Component: component,
		Status:    StatusActive,
		CreatedAt: now,
		ExpiresAt: now.Add(duration),
	}

	_, err := r.db.Exec(`
		INSERT INTO research_sessions (session_id, user_id, component, status, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.SessionID, s.UserID, s.Component, s.Status, s.CreatedAt.Unix(), s.ExpiresAt.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	r.log.Info().
		Str("session_id", s.SessionID).
		Str("user_id", userID).
		Str("component", component).
		Time("expires_at", s.ExpiresAt).
		Msg("Created research session")
	return s, nil
}

// ExpireStale flips every overdue active session to expired and returns
// the sessions transitioned. The rows stay in place as history; new
// sessions supersede them.
func (r *SessionRepository) ExpireStale() ([]Session, error) {
	now := r.clock().Unix()

	rows, err := r.db.Query(`
		SELECT session_id, user_id, component, created_at, expires_at
		FROM research_sessions
		WHERE status = ? AND expires_at <= ?`,
		StatusActive, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue sessions: %w", err)
	}
	defer rows.Close()

	var expired []Session
	for rows.Next() {
		var s Session
		var createdAt, expiresAt int64
		if err := rows.Scan(&s.SessionID, &s.UserID, &s.Component, &createdAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan overdue session: %w", err)
		}
		s.Status = StatusExpired
		s.CreatedAt = time.Unix(createdAt, 0)
		s.ExpiresAt = time.Unix(expiresAt, 0)
		expired = append(expired, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list overdue sessions: %w", err)
	}
	if len(expired) == 0 {
		return nil, nil
	}

	_, err = r.db.Exec(
		"UPDATE research_sessions SET status = ? WHERE status = ? AND expires_at <= ?",
		StatusExpired, StatusActive, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to expire stale sessions: %w", err)
	}
	return expired, nil
}
