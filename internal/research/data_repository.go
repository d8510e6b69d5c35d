package research

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Record is one cached research payload bound to the session that paid
// for it. Records are never mutated, only superseded or expired.
type Record struct {
	ID              int64           `json:"id"`
	UserID          string          `json:"user_id"`
	SessionID       string          `json:"session_id"`
	QueryType       string          `json:"query_type"`
	Tickers         []string        `json:"tickers"`
	TimeRange       string          `json:"time_range"`
	Payload         json.RawMessage `json:"sentiment_data"`
	APIMetadata     json.RawMessage `json:"api_metadata,omitempty"`
	FetchedAt       time.Time       `json:"fetched_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	FetchDurationMs int64           `json:"fetch_duration_ms"`
	CreditsConsumed int             `json:"credits_consumed"`
}

// DataRepository persists cached research payloads.
type DataRepository struct {
	db    *sql.DB
	log   zerolog.Logger
	clock func() time.Time
}

// NewDataRepository creates a repository over db.
func NewDataRepository(db *sql.DB, log zerolog.Logger) *DataRepository {
	return &DataRepository{
		db:    db,
		log:   log.With().Str("component", "research_data").Logger(),
		clock: time.Now,
	}
}

// SetClock overrides the time source. Used in tests.
func (r *DataRepository) SetClock(clock func() time.Time) {
	r.clock = clock
}

const recordColumns = `id, user_id, session_id, query_type, tickers, time_range,
	sentiment_data, api_metadata, fetched_at, expires_at, fetch_duration_ms, credits_consumed`

// GetFresh returns the newest unexpired record for (user, queryType,
// timeRange), or nil when none exists.
func (r *DataRepository) GetFresh(userID, queryType, timeRange string) (*Record, error) {
	return r.getOne(userID, queryType, timeRange, true)
}

// GetAny returns the newest record regardless of expiry. Used as the
// stale fallback when a fresh fetch fails - stale data is better than no
// data.
func (r *DataRepository) GetAny(userID, queryType, timeRange string) (*Record, error) {
	return r.getOne(userID, queryType, timeRange, false)
}

func (r *DataRepository) getOne(userID, queryType, timeRange string, freshOnly bool) (*Record, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM sentiment_research_data
		WHERE user_id = ? AND query_type = ? AND time_range = ?`, recordColumns)
	args := []any{userID, queryType, timeRange}
	if freshOnly {
		query += " AND expires_at > ?"
		args = append(args, r.clock().Unix())
	}
	query += " ORDER BY fetched_at DESC, id DESC LIMIT 1"

	rec, err := scanRecord(r.db.QueryRow(query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query research data: %w", err)
	}
	return rec, nil
}

// Store persists a new record.
func (r *DataRepository) Store(rec *Record) error {
	tickersJSON, err := json.Marshal(rec.Tickers)
	if err != nil {
		return fmt.Errorf("failed to marshal tickers: %w", err)
	}

	var metadata any
	if len(rec.APIMetadata) > 0 {
		metadata = string(rec.APIMetadata)
	}

	result, err := r.db.Exec(`
		INSERT INTO sentiment_research_data
			(user_id, session_id, query_type, tickers, time_range, sentiment_data,
			 api_metadata, fetched_at, expires_at, fetch_duration_ms, credits_consumed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.UserID, rec.SessionID, rec.QueryType, string(tickersJSON), rec.TimeRange,
		string(rec.Payload), metadata, rec.FetchedAt.Unix(), rec.ExpiresAt.Unix(),
		rec.FetchDurationMs, rec.CreditsConsumed,
	)
	if err != nil {
		return fmt.Errorf("failed to store research data: %w", err)
	}

	rec.ID, _ = result.LastInsertId()
	return nil
}

// DeleteExpired removes records whose expiry has passed. Returns the
// number of rows deleted.
func (r *DataRepository) DeleteExpired() (int64, error) {
	result, err := r.db.Exec(
		"DELETE FROM sentiment_research_data WHERE expires_at < ?",
		r.clock().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired research data: %w", err)
	}
	return result.RowsAffected()
}

// scanRecord reads one row into a Record.
func scanRecord(row *sql.Row) (*Record, error) {
	var rec Record
	var tickersJSON, payload string
	var metadata sql.NullString
	var fetchedAt, expiresAt int64

	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.SessionID, &rec.QueryType, &tickersJSON,
		&rec.TimeRange, &payload, &metadata, &fetchedAt, &expiresAt,
		&rec.FetchDurationMs, &rec.CreditsConsumed,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tickersJSON), &rec.Tickers); err != nil {
		return nil, fmt.Errorf("failed to decode tickers: %w", err)
	}
	rec.Payload = json.RawMessage(payload)
	if metadata.Valid && metadata.String != "" {
		rec.APIMetadata = json.RawMessage(metadata.String)
	}
	rec.FetchedAt = time.Unix(fetchedAt, 0)
	rec.ExpiresAt = time.Unix(expiresAt, 0)
	return &rec, nil
}
