package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/event/v3/health"
)

// Memory is an in-memory ledger for tests and single-process use.
type Memory struct {
	curve Curve

	mu       sync.Mutex
	entries  map[string]*Entry
	accounts map[string]*Account
}

// NewMemory creates an in-memory ledger using the given level curve
// (nil for the default formula).
func NewMemory(curve Curve) *Memory {
	return &Memory{
		curve:    curve,
		entries:  make(map[string]*Entry),
		accounts: make(map[string]*Account),
	}
}

// Grant appends a grant entry and updates the derived account.
func (m *Memory) Grant(ctx context.Context, g Grant) (*Entry, error) {
	if g.OwnerID == "" {
		return nil, fmt.Errorf("ledger: owner ID is required")
	}
	if g.Amount <= 0 {
		return nil, fmt.Errorf("ledger: grant amount must be positive, got %d", g.Amount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := &Entry{
		ID:            uuid.NewString(),
		OwnerID:       g.OwnerID,
		Amount:        g.Amount,
		Source:        g.Source,
		Ref:           g.Ref,
		ContributorID: g.ContributorID,
		CreatedAt:     time.Now().UTC(),
	}
	m.entries[entry.ID] = entry
	m.apply(g.OwnerID, g.Amount)

	out := *entry
	return &out, nil
}

// Revoke appends a reversal for a previously granted entry.
func (m *Memory) Revoke(ctx context.Context, entryID string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	orig, ok := m.entries[entryID]
	if !ok {
		return nil, ErrNotFound
	}
	for _, e := range m.entries {
		if e.Reverses == entryID {
			return nil, ErrAlreadyRevoked
		}
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
	m.entries[rev.ID] = rev
	m.apply(orig.OwnerID, rev.Amount)

	out := *rev
	return &out, nil
}

// Account returns the derived state for an owner.
func (m *Memory) Account(ctx context.Context, ownerID string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acc, ok := m.accounts[ownerID]
	if !ok {
		level, nextAt := m.curve.Progress(0)
		return &Account{OwnerID: ownerID, Level: level, NextLevelAt: nextAt}, nil
	}
	out := *acc
	return &out, nil
}

// apply updates the derived account under the lock.
func (m *Memory) apply(ownerID string, delta int64) {
	acc, ok := m.accounts[ownerID]
	if !ok {
		acc = &Account{OwnerID: ownerID}
		m.accounts[ownerID] = acc
	}
	acc.XP += delta
	acc.Level, acc.NextLevelAt = m.curve.Progress(acc.XP)
}

// Health reports the ledger as healthy; in-memory ledgers have no
// connectivity to fail.
func (m *Memory) Health(ctx context.Context) *health.Result {
	m.mu.Lock()
	count := len(m.entries)
	m.mu.Unlock()

	return &health.Result{
		Status:    health.StatusHealthy,
		CheckedAt: time.Now(),
		Details: map[string]any{
			"entries_count": count,
		},
	}
}

// Compile-time checks
var (
	_ Ledger         = (*Memory)(nil)
	_ health.Checker = (*Memory)(nil)
)
