package feed

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	id, err := store.Create(ctx, Entry{
		ActorID:   "actor-1",
		Kind:      "mission_completed",
		MissionID: "mission-1",
		RefID:     "exec-1",
		Title:     "Cleared the ruins",
		XP:        150,
	})
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err, "generated entry ID should be a UUID")

	got, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "actor-1", got.ActorID)
	assert.Equal(t, "exec-1", got.RefID)
	assert.Equal(t, int64(150), got.XP)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	id, err := store.Create(ctx, Entry{ActorID: "actor-1", Kind: "mission_completed"})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, id))

	_, err = store.Get(ctx, id)
	assert.True(t, errors.Is(err, ErrNotFound))

	// Delete is the compensation path; a second delete reports not found.
	err = store.Delete(ctx, id)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryPreservesExplicitID(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	id, err := store.Create(ctx, Entry{ID: "fixed-id", ActorID: "actor-1"})
	require.NoError(t, err)
	assert.Equal(t, "fixed-id", id)
}

func TestMongoEntryRoundTrip(t *testing.T) {
	e := Entry{
		ID:        "entry-1",
		ActorID:   "actor-1",
		Kind:      "pinned_completed",
		MissionID: "mission-1",
		RefID:     "inst-1",
		Title:     "Morning run",
		XP:        80,
	}
	got := fromEntry(e).toEntry()
	assert.Equal(t, e.ID, got.ID)
	assert.Equal(t, e.Kind, got.Kind)
	assert.Equal(t, e.RefID, got.RefID)
	assert.Equal(t, e.XP, got.XP)
}
