// Package credits manages user credit balances and the append-only
// transaction ledger that audits every debit.
//
// Financial correctness outweighs availability here: a balance update and
// its ledger row commit in one transaction, and any failure rolls back
// both. Credit errors never degrade silently.
package credits

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sentiq/sentiq/internal/database"
	"github.com/sentiq/sentiq/internal/ttlpolicy"
)

// InsufficientCreditsError is returned when a user's balance cannot cover
// the cost of a fresh fetch. No side effects precede it.
type InsufficientCreditsError struct {
	Required  int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: %d required, %d available", e.Required, e.Available)
}

// Balance is a user's current credit state.
type Balance struct {
	UserID    string         `json:"user_id"`
	Tier      ttlpolicy.Tier `json:"tier"`
	Remaining int            `json:"remaining"`
}

// Transaction is one row of the append-only audit ledger.
type Transaction struct {
	ID               int64          `json:"id"`
	UserID           string         `json:"user_id"`
	Action           string         `json:"action"`
	CreditsUsed      int            `json:"credits_used"`
	CreditsRemaining int            `json:"credits_remaining"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Ledger provides balance and audit-trail operations on the credits
// database.
type Ledger struct {
	db    *sql.DB
	log   zerolog.Logger
	clock func() time.Time
}

// NewLedger creates a ledger over db.
func NewLedger(db *sql.DB, log zerolog.Logger) *Ledger {
	return &Ledger{
		db:    db,
		log:   log.With().Str("component", "credits").Logger(),
		clock: time.Now,
	}
}

// SetClock overrides the time source. Used in tests.
func (l *Ledger) SetClock(clock func() time.Time) {
	l.clock = clock
}

// GetBalance returns the user's balance. Unknown users have a zero balance
// on the free tier; no row is created until credits are granted.
func (l *Ledger) GetBalance(userID string) (*Balance, error) {
	var tier string
	var remaining int
	err := l.db.QueryRow(
		"SELECT tier, credits_remaining FROM user_credits WHERE user_id = ?",
		userID,
	).Scan(&tier, &remaining)
	if err == sql.ErrNoRows {
		return &Balance{UserID: userID, Tier: ttlpolicy.TierFree}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read balance for %s: %w", userID, err)
	}

	return &Balance{UserID: userID, Tier: ttlpolicy.Tier(tier), Remaining: remaining}, nil
}

// Grant adds credits to a user's balance, creating the account on first
// grant, and appends the matching ledger row in the same transaction.
func (l *Ledger) Grant(userID string, tier ttlpolicy.Tier, amount int, action string) error {
	if amount <= 0 {
		return fmt.Errorf("grant amount must be positive, got %d", amount)
	}

	now := l.clock().Unix()
	return database.WithTransaction(l.db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO user_credits (user_id, tier, credits_remaining, updated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
				tier = excluded.tier,
				credits_remaining = credits_remaining + excluded.credits_remaining,
				updated_at = excluded.updated_at`,
			userID, string(tier), amount, now,
		)
		if err != nil {
			return fmt.Errorf("failed to grant credits: %w", err)
		}

		var remaining int
		if err := tx.QueryRow(
			"SELECT credits_remaining FROM user_credits WHERE user_id = ?", userID,
		).Scan(&remaining); err != nil {
			return fmt.Errorf("failed to read balance after grant: %w", err)
		}

		return l.appendTransaction(tx, userID, action, -amount, remaining, nil)
	})
}

// Debit removes amount credits from the user's balance and records the
// matching ledger row, all or nothing. The balance is re-checked inside
// the transaction so concurrent debits cannot overdraw.
// Returns the remaining balance after the debit.
func (l *Ledger) Debit(userID string, amount int, action string, metadata map[string]any) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	var remaining int
	err := database.WithTransaction(l.db, func(tx *sql.Tx) error {
		var current int
		err := tx.QueryRow(
			"SELECT credits_remaining FROM user_credits WHERE user_id = ?", userID,
		).Scan(&current)
		if err == sql.ErrNoRows {
			return &InsufficientCreditsError{Required: amount, Available: 0}
		}
		if err != nil {
			return fmt.Errorf("failed to read balance: %w", err)
		}
		if current < amount {
			return &InsufficientCreditsError{Required: amount, Available: current}
		}

		remaining = current - amount
		if _, err := tx.Exec(
			"UPDATE user_credits SET credits_remaining = ?, updated_at = ? WHERE user_id = ?",
			remaining, l.clock().Unix(), userID,
		); err != nil {
			return fmt.Errorf("failed to update balance: %w", err)
		}

		return l.appendTransaction(tx, userID, action, amount, remaining, metadata)
	})
	if err != nil {
		return 0, err
	}

	l.log.Debug().
		Str("user_id", userID).
		Str("action", action).
		Int("credits_used", amount).
		Int("credits_remaining", remaining).
		Msg("Debited credits")
	return remaining, nil
}

// appendTransaction writes one audit row inside an open transaction.
// Grants record a negative credits_used so the ledger sums to the balance.
func (l *Ledger) appendTransaction(tx *sql.Tx, userID, action string, used, remaining int, metadata map[string]any) error {
	var metaJSON any
	if metadata != nil {
		b, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal transaction metadata: %w", err)
		}
		metaJSON = string(b)
	}

	_, err := tx.Exec(`
		INSERT INTO credit_transactions (user_id, action, credits_used, credits_remaining, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		userID, action, used, remaining, metaJSON, l.clock().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to append credit transaction: %w", err)
	}
	return nil
}

// Transactions returns the most recent ledger rows for a user, newest
// first.
func (l *Ledger) Transactions(userID string, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.db.Query(`
		SELECT id, user_id, action, credits_used, credits_remaining, metadata, created_at
		FROM credit_transactions
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit transactions: %w", err)
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var t Transaction
		var metaJSON sql.NullString
		var createdAt int64
		if err := rows.Scan(&t.ID, &t.UserID, &t.Action, &t.CreditsUsed, &t.CreditsRemaining, &metaJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan credit transaction: %w", err)
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &t.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode transaction metadata: %w", err)
			}
		}
		t.CreatedAt = time.Unix(createdAt, 0)
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
