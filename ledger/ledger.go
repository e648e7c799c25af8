// Package ledger provides append-style experience ledgers for actors and
// guilds. Every grant and revocation is an immutable entry; an owner's
// current level and capacity are derived from the cumulative total.
//
// Revocation is the semantic inverse of a grant: it appends a reversal
// entry for the same amount rather than deleting the original, so the
// history of a rolled-back transaction stays visible.
package ledger

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when an entry or account does not exist.
	ErrNotFound = errors.New("ledger: not found")

	// ErrAlreadyRevoked is returned when revoking an entry twice.
	ErrAlreadyRevoked = errors.New("ledger: entry already revoked")
)

// Grant describes one experience award.
type Grant struct {
	OwnerID string // actor or guild receiving the experience
	Amount  int64
	Source  string // e.g. "mission", "pinned_mission"
	Ref     string // the execution/instance that earned it
	// ContributorID is set on guild grants to credit the member whose
	// completion earned the experience. Empty for actor grants.
	ContributorID string
}

// Entry is one committed ledger row. Amount is negative for reversals.
type Entry struct {
	ID            string
	OwnerID       string
	Amount        int64
	Source        string
	Ref           string
	ContributorID string
	// Reverses holds the ID of the entry this reversal undoes, if any.
	Reverses  string
	CreatedAt time.Time
}

// Account is the derived state for one owner.
type Account struct {
	OwnerID string
	XP      int64 // cumulative experience, reversals included
	Level   int
	// NextLevelAt is the cumulative XP required to reach the next level
	// (the capacity value for the current level).
	NextLevelAt int64
}

// Ledger is the collaborator contract consumed by the completion saga.
// Grant and Revoke each commit in their own transactional scope.
type Ledger interface {
	// Grant appends a grant entry and updates the derived account.
	Grant(ctx context.Context, g Grant) (*Entry, error)

	// Revoke appends a reversal for a previously granted entry and updates
	// the derived account. Revoking the same entry twice returns
	// ErrAlreadyRevoked.
	Revoke(ctx context.Context, entryID string) (*Entry, error)

	// Account returns the derived state for an owner. An owner with no
	// entries has XP 0 at level 1.
	Account(ctx context.Context, ownerID string) (*Account, error)
}

// defaultLevelStep is the per-level increment of the default capacity
// formula used when a level has no configured threshold.
const defaultLevelStep = 500

// Curve maps a level to the cumulative XP required to advance past it.
// Levels absent from the map fall back to the default formula
// level * 500 (cumulative).
type Curve map[int]int64

// Threshold returns the cumulative XP needed to advance past level.
func (c Curve) Threshold(level int) int64 {
	if v, ok := c[level]; ok {
		return v
	}
	return int64(level) * defaultLevelStep
}

// Progress computes the level and next-level capacity for a cumulative
// XP total. A fresh account (total 0) is level 1.
func (c Curve) Progress(total int64) (level int, nextAt int64) {
	level = 1
	nextAt = c.Threshold(1)
	for total >= nextAt {
		level++
		next := c.Threshold(level)
		if next <= nextAt {
			// Misconfigured curve; stop rather than loop forever.
			break
		}
		nextAt = next
	}
	return level, nextAt
}
