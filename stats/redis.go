package stats

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rbaliyan/event/v3/health"
	"github.com/redis/go-redis/v9"
)

/*
Redis Schema:

- stats:actor:{id} - Hash of completion counters
    completions:       total completions
    guild_completions: completions of guild missions
- stats:actor:{id}:unlocked - Set of unlocked achievement IDs
- stats:quest:{id} - Hash of quest progress by action type
*/

const (
	fieldCompletions      = "completions"
	fieldGuildCompletions = "guild_completions"
)

// Aggregator is a Redis-backed completion-stat aggregator.
//
// Example:
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	agg := stats.NewAggregator(rdb, stats.DefaultAchievements())
type Aggregator struct {
	client       redis.Cmdable
	prefix       string
	achievements []Achievement
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithKeyPrefix sets a custom key prefix. The default is "stats:".
func WithKeyPrefix(prefix string) AggregatorOption {
	return func(a *Aggregator) {
		if prefix != "" {
			a.prefix = prefix
		}
	}
}

// NewAggregator creates a Redis stat aggregator with the given achievement
// set (nil for none).
func NewAggregator(client redis.Cmdable, achievements []Achievement, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{
		client:       client,
		prefix:       "stats:",
		achievements: achievements,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) actorKey(actorID string) string {
	return a.prefix + "actor:" + actorID
}

func (a *Aggregator) unlockedKey(actorID string) string {
	return a.prefix + "actor:" + actorID + ":unlocked"
}

// Snapshot copies the actor's current counters.
func (a *Aggregator) Snapshot(ctx context.Context, actorID string) (*Snapshot, error) {
	fields, err := a.client.HGetAll(ctx, a.actorKey(actorID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read counters: %w", err)
	}

	snap := &Snapshot{}
	if v, ok := fields[fieldCompletions]; ok {
		if snap.Completions, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("parse %s counter: %w", fieldCompletions, err)
		}
	}
	if v, ok := fields[fieldGuildCompletions]; ok {
		if snap.GuildCompletions, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("parse %s counter: %w", fieldGuildCompletions, err)
		}
	}
	return snap, nil
}

// Restore writes a previously taken snapshot back.
func (a *Aggregator) Restore(ctx context.Context, actorID string, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("stats: nil snapshot")
	}
	err := a.client.HSet(ctx, a.actorKey(actorID),
		fieldCompletions, snap.Completions,
		fieldGuildCompletions, snap.GuildCompletions,
	).Err()
	if err != nil {
		return fmt.Errorf("restore counters: %w", err)
	}
	return nil
}

// RecordCompletion increments the actor's counters.
func (a *Aggregator) RecordCompletion(ctx context.Context, actorID string, guildMission bool) error {
	key := a.actorKey(actorID)
	if err := a.client.HIncrBy(ctx, key, fieldCompletions, 1).Err(); err != nil {
		return fmt.Errorf("increment completions: %w", err)
	}
	if guildMission {
		if err := a.client.HIncrBy(ctx, key, fieldGuildCompletions, 1).Err(); err != nil {
			return fmt.Errorf("increment guild completions: %w", err)
		}
	}
	return nil
}

// CheckAchievements evaluates the achievement set against the actor's
// counters and returns the newly unlocked achievements.
func (a *Aggregator) CheckAchievements(ctx context.Context, actorID, source string) ([]Achievement, error) {
	snap, err := a.Snapshot(ctx, actorID)
	if err != nil {
		return nil, err
	}

	var unlocked []Achievement
	for _, ach := range a.achievements {
		if ach.Source != "" && ach.Source != source {
			continue
		}
		count := snap.Completions
		if ach.Guild {
			count = snap.GuildCompletions
		}
		if count < ach.Threshold {
			continue
		}

		// SAdd returns the number of members actually added, so an
		// already-unlocked achievement is filtered here.
		added, err := a.client.SAdd(ctx, a.unlockedKey(actorID), ach.ID).Result()
		if err != nil {
			return unlocked, fmt.Errorf("unlock achievement: %w", err)
		}
		if added > 0 {
			unlocked = append(unlocked, ach)
		}
	}
	return unlocked, nil
}

// Health performs a connectivity check against Redis.
func (a *Aggregator) Health(ctx context.Context) *health.Result {
	start := time.Now()

	if err := a.client.Ping(ctx).Err(); err != nil {
		return &health.Result{
			Status:    health.StatusUnhealthy,
			Message:   fmt.Sprintf("redis connectivity failed: %v", err),
			Latency:   time.Since(start),
			CheckedAt: start,
		}
	}

	return &health.Result{
		Status:    health.StatusHealthy,
		Latency:   time.Since(start),
		CheckedAt: start,
		Details: map[string]any{
			"prefix":       a.prefix,
			"achievements": len(a.achievements),
		},
	}
}

// QuestTracker is a Redis-backed quest progress tracker.
type QuestTracker struct {
	client redis.Cmdable
	prefix string
}

// NewQuestTracker creates a Redis quest tracker. The default key prefix
// is "stats:".
func NewQuestTracker(client redis.Cmdable, opts ...func(*QuestTracker)) *QuestTracker {
	t := &QuestTracker{client: client, prefix: "stats:"}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// WithQuestKeyPrefix sets a custom key prefix on a QuestTracker.
func WithQuestKeyPrefix(prefix string) func(*QuestTracker) {
	return func(t *QuestTracker) {
		if prefix != "" {
			t.prefix = prefix
		}
	}
}

// IncrementProgress adds amount to the actor's progress for an action type.
func (t *QuestTracker) IncrementProgress(ctx context.Context, actorID, action string, amount int64) error {
	if err := t.client.HIncrBy(ctx, t.prefix+"quest:"+actorID, action, amount).Err(); err != nil {
		return fmt.Errorf("increment quest progress: %w", err)
	}
	return nil
}

// Progress returns the actor's progress for an action type.
func (t *QuestTracker) Progress(ctx context.Context, actorID, action string) (int64, error) {
	v, err := t.client.HGet(ctx, t.prefix+"quest:"+actorID, action).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read quest progress: %w", err)
	}
	return strconv.ParseInt(v, 10, 64)
}

// Compile-time checks
var (
	_ Recorder       = (*Aggregator)(nil)
	_ Tracker        = (*QuestTracker)(nil)
	_ health.Checker = (*Aggregator)(nil)
)
