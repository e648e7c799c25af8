package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/event/v3/health"
)

/*
PostgreSQL Schema:

CREATE TABLE ledger_entries (
    id             VARCHAR(36) PRIMARY KEY,
    owner_id       VARCHAR(36) NOT NULL,
    amount         BIGINT NOT NULL,
    source         VARCHAR(64) NOT NULL,
    ref            VARCHAR(36),
    contributor_id VARCHAR(36),
    reverses       VARCHAR(36) UNIQUE,
    created_at     TIMESTAMP NOT NULL
);

CREATE TABLE ledger_accounts (
    owner_id      VARCHAR(36) PRIMARY KEY,
    xp            BIGINT NOT NULL DEFAULT 0,
    level         INT NOT NULL DEFAULT 1,
    next_level_at BIGINT NOT NULL
);

CREATE INDEX idx_ledger_entries_owner ON ledger_entries(owner_id);
CREATE INDEX idx_ledger_entries_ref ON ledger_entries(ref);
*/

// PostgresStore is a PostgreSQL-backed ledger. Separate instances with
// separate tables serve the actor ledger and the guild ledger; each call
// commits in its own transaction, which is exactly the isolation the
// completion saga assumes.
type PostgresStore struct {
	db            *sql.DB
	curve         Curve
	entriesTable  string
	accountsTable string
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*postgresOptions)

type postgresOptions struct {
	entriesTable  string
	accountsTable string
}

// WithTables sets custom table names for the ledger store.
func WithTables(entries, accounts string) PostgresOption {
	return func(o *postgresOptions) {
		if entries != "" {
			o.entriesTable = entries
		}
		if accounts != "" {
			o.accountsTable = accounts
		}
	}
}

// NewPostgresStore creates a PostgreSQL ledger store.
//
// Default table names are "ledger_entries" and "ledger_accounts".
func NewPostgresStore(db *sql.DB, curve Curve, opts ...PostgresOption) *PostgresStore {
	o := &postgresOptions{
		entriesTable:  "ledger_entries",
		accountsTable: "ledger_accounts",
	}
	for _, opt := range opts {
		opt(o)
	}

	return &PostgresStore{
		db:            db,
		curve:         curve,
		entriesTable:  o.entriesTable,
		accountsTable: o.accountsTable,
	}
}

// Grant appends a grant entry and updates the derived account in one
// transaction.
func (s *PostgresStore) Grant(ctx context.Context, g Grant) (*Entry, error) {
	if g.OwnerID == "" {
		return nil, fmt.Errorf("ledger: owner ID is required")
	}
	if g.Amount <= 0 {
		return nil, fmt.Errorf("ledger: grant amount must be positive, got %d", g.Amount)
	}

	entry := &Entry{
		ID:            uuid.NewString(),
		OwnerID:       g.OwnerID,
		Amount:        g.Amount,
		Source:        g.Source,
		Ref:           g.Ref,
		ContributorID: g.ContributorID,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.append(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// Revoke appends a reversal for a previously granted entry.
func (s *PostgresStore) Revoke(ctx context.Context, entryID string) (*Entry, error) {
	orig, err := s.entry(ctx, entryID)
	if err != nil {
		return nil, err
	}

	rev := &Entry{
		ID:            uuid.NewString(),
		OwnerID:       orig.OwnerID,
		Amount:        -orig.Amount,
		Source:        orig.Source,
		Ref:           orig.Ref,
		ContributorID: orig.ContributorID,
		Reverses:      orig.ID,
		CreatedAt:     time.Now().UTC(),
	}

	if err := s.append(ctx, rev); err != nil {
		// The UNIQUE constraint on reverses makes double revocation fail
		// on insert.
		return nil, fmt.Errorf("%w: %v", ErrAlreadyRevoked, err)
	}
	return rev, nil
}

// Account returns the derived state for an owner.
func (s *PostgresStore) Account(ctx context.Context, ownerID string) (*Account, error) {
	query := fmt.Sprintf(`
		SELECT owner_id, xp, level, next_level_at
		FROM %s
		WHERE owner_id = $1
	`, s.accountsTable)

	acc := &Account{}
	err := s.db.QueryRowContext(ctx, query, ownerID).Scan(
		&acc.OwnerID,
		&acc.XP,
		&acc.Level,
		&acc.NextLevelAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		level, nextAt := s.curve.Progress(0)
		return &Account{OwnerID: ownerID, Level: level, NextLevelAt: nextAt}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query account: %w", err)
	}
	return acc, nil
}

// append inserts the entry and recomputes the account row transactionally.
func (s *PostgresStore) append(ctx context.Context, e *Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	insert := fmt.Sprintf(`
		INSERT INTO %s (id, owner_id, amount, source, ref, contributor_id, reverses, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8)
	`, s.entriesTable)

	if _, err := tx.ExecContext(ctx, insert,
		e.ID,
		e.OwnerID,
		e.Amount,
		e.Source,
		e.Ref,
		e.ContributorID,
		e.Reverses,
		e.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert entry: %w", err)
	}

	upsert := fmt.Sprintf(`
		INSERT INTO %s (owner_id, xp, level, next_level_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (owner_id) DO UPDATE SET xp = %s.xp + $2
		RETURNING xp
	`, s.accountsTable, s.accountsTable)

	var total int64
	if err := tx.QueryRowContext(ctx, upsert, e.OwnerID, e.Amount, s.curve.Threshold(1)).Scan(&total); err != nil {
		return fmt.Errorf("update account: %w", err)
	}

	level, nextAt := s.curve.Progress(total)
	levelUpdate := fmt.Sprintf(`
		UPDATE %s SET level = $2, next_level_at = $3 WHERE owner_id = $1
	`, s.accountsTable)

	if _, err := tx.ExecContext(ctx, levelUpdate, e.OwnerID, level, nextAt); err != nil {
		return fmt.Errorf("update level: %w", err)
	}

	return tx.Commit()
}

// entry loads one ledger entry by ID.
func (s *PostgresStore) entry(ctx context.Context, id string) (*Entry, error) {
	query := fmt.Sprintf(`
		SELECT id, owner_id, amount, source, ref, contributor_id, COALESCE(reverses, ''), created_at
		FROM %s
		WHERE id = $1
	`, s.entriesTable)

	e := &Entry{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&e.ID,
		&e.OwnerID,
		&e.Amount,
		&e.Source,
		&e.Ref,
		&e.ContributorID,
		&e.Reverses,
		&e.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query entry: %w", err)
	}
	return e, nil
}

// Health performs a connectivity check against PostgreSQL.
func (s *PostgresStore) Health(ctx context.Context) *health.Result {
	start := time.Now()

	if err := s.db.PingContext(ctx); err != nil {
		return &health.Result{
			Status:    health.StatusUnhealthy,
			Message:   fmt.Sprintf("postgres connectivity failed: %v", err),
			Latency:   time.Since(start),
			CheckedAt: start,
		}
	}

	return &health.Result{
		Status:    health.StatusHealthy,
		Latency:   time.Since(start),
		CheckedAt: start,
		Details: map[string]any{
			"entries_table":  s.entriesTable,
			"accounts_table": s.accountsTable,
		},
	}
}

// Compile-time checks
var (
	_ Ledger         = (*PostgresStore)(nil)
	_ health.Checker = (*PostgresStore)(nil)
)
