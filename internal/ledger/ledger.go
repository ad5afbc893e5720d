// Package ledger tracks per-user run entitlement: how many autonomous
// runs a subscription still covers. Reservation is a compare-and-
// decrement on the subscription row so two concurrent callers can never
// both spend the last credit.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrInsufficientCredit is returned when a user has no active
// subscription or no runs remaining.
var ErrInsufficientCredit = errors.New("no runs remaining")

const schema = `
CREATE TABLE IF NOT EXISTS subscriptions (
    user_id TEXT PRIMARY KEY,
    plan TEXT NOT NULL,
    runs_remaining INTEGER NOT NULL DEFAULT 0 CHECK (runs_remaining >= 0),
    status TEXT NOT NULL DEFAULT 'ACTIVE',
    cycle_end TIMESTAMP
);

CREATE TABLE IF NOT EXISTS reservations (
    token TEXT PRIMARY KEY,
    user_id TEXT NOT NULL REFERENCES subscriptions(user_id),
    released BOOLEAN NOT NULL DEFAULT FALSE,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS payment_events (
    reference TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    plan TEXT NOT NULL,
    processed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// Entry is one user's ledger state
type Entry struct {
	UserID        string
	Plan          string
	RunsRemaining int
	Status        string
	CycleEnd      *time.Time
}

// Reservation represents one successfully decremented run credit,
// pending confirmation of use.
type Reservation struct {
	Token  string
	UserID string
}

// Ledger provides SQLite-backed entitlement accounting
type Ledger struct {
	db *sql.DB
}

// New creates a Ledger on an existing database handle
func New(db *sql.DB) (*Ledger, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Open creates a Ledger with its own connection to the given path
func Open(dbPath string) (*Ledger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One writer at a time; keeps concurrent reservations serialized
	// through the pool instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return New(db)
}

// Get returns a user's ledger entry
func (l *Ledger) Get(userID string) (*Entry, error) {
	var e Entry
	var cycleEnd sql.NullTime
	err := l.db.QueryRow(`
		SELECT user_id, plan, runs_remaining, status, cycle_end
		FROM subscriptions WHERE user_id = ?
	`, userID).Scan(&e.UserID, &e.Plan, &e.RunsRemaining, &e.Status, &cycleEnd)
	if err != nil {
		return nil, err
	}
	if cycleEnd.Valid {
		t := cycleEnd.Time
		e.CycleEnd = &t
	}
	return &e, nil
}

// Reserve atomically spends one run credit and returns a reservation
// token. The decrement and the remaining-count check are one UPDATE, so
// concurrent callers serialize on the subscription row: with M credits
// and N callers exactly min(N, M) succeed.
func (l *Ledger) Reserve(userID string) (*Reservation, error) {
	tx, err := l.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE subscriptions SET runs_remaining = runs_remaining - 1
		WHERE user_id = ? AND status = 'ACTIVE' AND runs_remaining > 0
	`, userID)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrInsufficientCredit
	}

	r := &Reservation{Token: uuid.NewString(), UserID: userID}
	if _, err := tx.Exec(`
		INSERT INTO reservations (token, user_id) VALUES (?, ?)
	`, r.Token, r.UserID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return r, nil
}

// Release restores the credit behind a reservation. Idempotent per
// token: releasing twice restores exactly one credit.
func (l *Ledger) Release(r *Reservation) error {
	if r == nil {
		return nil
	}

	tx, err := l.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE reservations SET released = TRUE WHERE token = ? AND released = FALSE
	`, r.Token)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Unknown or already-released token: nothing to restore.
		return nil
	}

	if _, err := tx.Exec(`
		UPDATE subscriptions SET runs_remaining = runs_remaining + 1 WHERE user_id = ?
	`, r.UserID); err != nil {
		return err
	}

	return tx.Commit()
}

// ApplyPayment processes a payment confirmation: sets the user's plan,
// restores the run quota, and activates the subscription. Idempotent
// per external transaction reference: a replayed notification is
// acknowledged without touching the ledger again.
func (l *Ledger) ApplyPayment(reference, userID, planKey string) error {
	plan, ok := LookupPlan(planKey)
	if !ok {
		return fmt.Errorf("unknown plan %q", planKey)
	}

	tx, err := l.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO payment_events (reference, user_id, plan) VALUES (?, ?, ?)
		ON CONFLICT(reference) DO NOTHING
	`, reference, userID, planKey)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Replay of a processed transaction.
		return nil
	}

	cycleEnd := time.Now().AddDate(0, 0, plan.DurationDays)
	if _, err := tx.Exec(`
		INSERT INTO subscriptions (user_id, plan, runs_remaining, status, cycle_end)
		VALUES (?, ?, ?, 'ACTIVE', ?)
		ON CONFLICT(user_id) DO UPDATE SET
			plan = excluded.plan,
			runs_remaining = excluded.runs_remaining,
			status = 'ACTIVE',
			cycle_end = excluded.cycle_end
	`, userID, planKey, plan.Runs, cycleEnd); err != nil {
		return err
	}

	return tx.Commit()
}
