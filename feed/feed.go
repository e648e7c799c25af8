// Package feed provides the social-feed store consumed by the
// mission-completion saga. Creating an entry is the forward operation;
// deleting it by ID is the inverse used during compensation.
package feed

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rbaliyan/event/v3/health"
)

// ErrNotFound is returned when a feed entry does not exist.
var ErrNotFound = errors.New("feed: entry not found")

// Entry is one feed item.
type Entry struct {
	ID        string
	ActorID   string
	Kind      string // e.g. "mission_completed", "pinned_completed"
	MissionID string
	RefID     string // the execution or instance that produced the entry
	Title     string
	XP        int64
	CreatedAt time.Time
}

// Store is the collaborator contract consumed by the completion saga.
type Store interface {
	// Create stores the entry and returns its ID.
	Create(ctx context.Context, e Entry) (string, error)

	// Delete removes an entry by ID. Deleting a missing entry returns
	// ErrNotFound.
	Delete(ctx context.Context, id string) error

	// Get returns an entry by ID.
	Get(ctx context.Context, id string) (*Entry, error)
}

// Memory is an in-memory feed store for tests.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*Entry
}

// NewMemory creates an in-memory feed store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*Entry)}
}

// Create stores the entry and returns its ID.
func (m *Memory) Create(ctx context.Context, e Entry) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	stored := e
	m.entries[e.ID] = &stored
	return e.ID, nil
}

// Delete removes an entry by ID.
func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[id]; !ok {
		return ErrNotFound
	}
	delete(m.entries, id)
	return nil
}

// Get returns an entry by ID.
func (m *Memory) Get(ctx context.Context, id string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *e
	return &out, nil
}

// Health reports the store as healthy.
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
	_ Store          = (*Memory)(nil)
	_ health.Checker = (*Memory)(nil)
)
