package stats

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/rbaliyan/event/v3/health"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) redis.Cmdable {
	t.Helper()
	srv := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: srv.Addr()})
}

func TestAggregatorRecordAndSnapshot(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator(newTestClient(t), nil)

	snap, err := agg.Snapshot(ctx, "actor-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Completions)

	require.NoError(t, agg.RecordCompletion(ctx, "actor-1", false))
	require.NoError(t, agg.RecordCompletion(ctx, "actor-1", true))

	snap, err = agg.Snapshot(ctx, "actor-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Completions)
	assert.Equal(t, int64(1), snap.GuildCompletions)
}

func TestSnapshotRejectsCorruptCounter(t *testing.T) {
	ctx := context.Background()
	client := newTestClient(t)
	agg := NewAggregator(client, nil)

	require.NoError(t, client.HSet(ctx, "stats:actor:actor-1", fieldCompletions, "not-a-number").Err())

	_, err := agg.Snapshot(ctx, "actor-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), fieldCompletions)
}

func TestAggregatorRestore(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator(newTestClient(t), nil)

	before, err := agg.Snapshot(ctx, "actor-1")
	require.NoError(t, err)

	require.NoError(t, agg.RecordCompletion(ctx, "actor-1", true))
	require.NoError(t, agg.Restore(ctx, "actor-1", before))

	after, err := agg.Snapshot(ctx, "actor-1")
	require.NoError(t, err)
	assert.Equal(t, before.Completions, after.Completions)
	assert.Equal(t, before.GuildCompletions, after.GuildCompletions)

	require.Error(t, agg.Restore(ctx, "actor-1", nil))
}

func TestCheckAchievements(t *testing.T) {
	ctx := context.Background()
	achievements := []Achievement{
		{ID: "first", Title: "First", Threshold: 1},
		{ID: "fifth", Title: "Fifth", Threshold: 5},
		{ID: "guild-first", Title: "Guild First", Threshold: 1, Guild: true},
	}
	agg := NewAggregator(newTestClient(t), achievements)

	require.NoError(t, agg.RecordCompletion(ctx, "actor-1", false))

	unlocked, err := agg.CheckAchievements(ctx, "actor-1", "mission")
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.Equal(t, "first", unlocked[0].ID)

	// Already unlocked achievements are not returned again.
	unlocked, err = agg.CheckAchievements(ctx, "actor-1", "mission")
	require.NoError(t, err)
	assert.Empty(t, unlocked)

	// A guild completion unlocks the guild achievement.
	require.NoError(t, agg.RecordCompletion(ctx, "actor-1", true))
	unlocked, err = agg.CheckAchievements(ctx, "actor-1", "mission")
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.Equal(t, "guild-first", unlocked[0].ID)
}

func TestCheckAchievementsSourceFilter(t *testing.T) {
	ctx := context.Background()
	achievements := []Achievement{
		{ID: "pinned-only", Title: "Pinned Only", Threshold: 1, Source: "pinned_mission"},
	}
	agg := NewAggregator(newTestClient(t), achievements)

	require.NoError(t, agg.RecordCompletion(ctx, "actor-1", false))

	unlocked, err := agg.CheckAchievements(ctx, "actor-1", "mission")
	require.NoError(t, err)
	assert.Empty(t, unlocked)

	unlocked, err = agg.CheckAchievements(ctx, "actor-1", "pinned_mission")
	require.NoError(t, err)
	require.Len(t, unlocked, 1)
	assert.Equal(t, "pinned-only", unlocked[0].ID)
}

func TestQuestTracker(t *testing.T) {
	ctx := context.Background()
	tracker := NewQuestTracker(newTestClient(t))

	n, err := tracker.Progress(ctx, "actor-1", "mission_completion")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	require.NoError(t, tracker.IncrementProgress(ctx, "actor-1", "mission_completion", 1))
	require.NoError(t, tracker.IncrementProgress(ctx, "actor-1", "mission_completion", 2))

	n, err = tracker.Progress(ctx, "actor-1", "mission_completion")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestAggregatorHealth(t *testing.T) {
	ctx := context.Background()
	agg := NewAggregator(newTestClient(t), DefaultAchievements())

	res := agg.Health(ctx)
	require.NotNil(t, res)
	assert.Equal(t, health.StatusHealthy, res.Status)
}
