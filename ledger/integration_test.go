//go:build integration

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
)

// getPostgresDB creates a PostgreSQL connection for integration tests.
// Set POSTGRES_URI environment variable to override the default connection string.
func getPostgresDB(t *testing.T) *sql.DB {
	t.Helper()

	uri := os.Getenv("POSTGRES_URI")
	if uri == "" {
		uri = "postgres://localhost:5432/test?sslmode=disable"
	}

	db, err := sql.Open("postgres", uri)
	if err != nil {
		t.Skipf("PostgreSQL not available: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		t.Skipf("PostgreSQL not available: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestPostgresStoreIntegration(t *testing.T) {
	db := getPostgresDB(t)
	ctx := context.Background()

	// Use unique tables for this test
	suffix := time.Now().Format("20060102150405")
	entriesTable := "ledger_entries_" + suffix
	accountsTable := "ledger_accounts_" + suffix

	entriesDDL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id             VARCHAR(36) PRIMARY KEY,
			owner_id       VARCHAR(36) NOT NULL,
			amount         BIGINT NOT NULL,
			source         VARCHAR(64) NOT NULL,
			ref            VARCHAR(36),
			contributor_id VARCHAR(36),
			reverses       VARCHAR(36) UNIQUE,
			created_at     TIMESTAMP NOT NULL
		)
	`, entriesTable)
	accountsDDL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			owner_id      VARCHAR(36) PRIMARY KEY,
			xp            BIGINT NOT NULL DEFAULT 0,
			level         INT NOT NULL DEFAULT 1,
			next_level_at BIGINT NOT NULL
		)
	`, accountsTable)

	if _, err := db.ExecContext(ctx, entriesDDL); err != nil {
		t.Fatalf("Create entries table failed: %v", err)
	}
	if _, err := db.ExecContext(ctx, accountsDDL); err != nil {
		t.Fatalf("Create accounts table failed: %v", err)
	}

	t.Cleanup(func() {
		db.Exec("DROP TABLE IF EXISTS " + entriesTable)
		db.Exec("DROP TABLE IF EXISTS " + accountsTable)
	})

	store := NewPostgresStore(db, nil, WithTables(entriesTable, accountsTable))

	t.Run("Grant and Account", func(t *testing.T) {
		entry, err := store.Grant(ctx, Grant{OwnerID: "actor-1", Amount: 600, Source: "mission", Ref: "exec-1"})
		if err != nil {
			t.Fatalf("Grant failed: %v", err)
		}
		if entry.Amount != 600 {
			t.Errorf("expected amount 600, got %d", entry.Amount)
		}

		acc, err := store.Account(ctx, "actor-1")
		if err != nil {
			t.Fatalf("Account failed: %v", err)
		}
		if acc.XP != 600 || acc.Level != 2 || acc.NextLevelAt != 1000 {
			t.Errorf("unexpected account: %+v", acc)
		}
	})

	t.Run("Revoke is idempotence-guarded", func(t *testing.T) {
		entry, err := store.Grant(ctx, Grant{OwnerID: "actor-2", Amount: 100, Source: "mission", Ref: "exec-2"})
		if err != nil {
			t.Fatalf("Grant failed: %v", err)
		}

		if _, err := store.Revoke(ctx, entry.ID); err != nil {
			t.Fatalf("Revoke failed: %v", err)
		}
		if _, err := store.Revoke(ctx, entry.ID); !errors.Is(err, ErrAlreadyRevoked) {
			t.Errorf("expected ErrAlreadyRevoked, got %v", err)
		}

		acc, err := store.Account(ctx, "actor-2")
		if err != nil {
			t.Fatalf("Account failed: %v", err)
		}
		if acc.XP != 0 {
			t.Errorf("expected XP back to 0, got %d", acc.XP)
		}
	})

	t.Run("Unknown account starts fresh", func(t *testing.T) {
		acc, err := store.Account(ctx, "nobody")
		if err != nil {
			t.Fatalf("Account failed: %v", err)
		}
		if acc.XP != 0 || acc.Level != 1 || acc.NextLevelAt != 500 {
			t.Errorf("unexpected fresh account: %+v", acc)
		}
	})
}
