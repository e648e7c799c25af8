package mission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/guildforge/guildforge/feed"
	"github.com/guildforge/guildforge/ledger"
	"github.com/guildforge/guildforge/notify"
	"github.com/guildforge/guildforge/saga"
	"github.com/guildforge/guildforge/stats"
)

// Quest action tags reported to the quest tracker.
const (
	questActionMission = "mission_completion"
	questActionPinned  = "pinned_completion"
)

// defaultSpawnInterval is how far ahead the successor of a completed
// pinned instance is due.
const defaultSpawnInterval = 24 * time.Hour

// Config wires the collaborators both completion workflows run against.
type Config struct {
	Missions     MissionStore
	Executions   ExecutionStore
	Instances    InstanceStore
	Participants ParticipantStore

	Actors ledger.Ledger // actor experience ledger
	Guilds ledger.Ledger // guild experience ledger

	Feed     feed.Store
	Stats    stats.Recorder
	Quests   stats.Tracker
	Notifier notify.Notifier

	// DailyLimit caps pinned completions per actor per UTC day; once
	// reached, completing still succeeds but no successor is spawned.
	// Zero disables the cap.
	DailyLimit int

	// SpawnInterval is the due-at offset for spawned successors.
	// Defaults to 24 hours.
	SpawnInterval time.Duration

	Logger  *slog.Logger
	Metrics *saga.MetricsRecorder

	// Now and NewID are injectable for tests. They default to
	// time.Now().UTC and a random UUID.
	Now   func() time.Time
	NewID func() string
}

func (cfg *Config) defaults() {
	if cfg.SpawnInterval <= 0 {
		cfg.SpawnInterval = defaultSpawnInterval
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
}

func (cfg *Config) options() []saga.Option {
	var opts []saga.Option
	if cfg.Logger != nil {
		opts = append(opts, saga.WithLogger(cfg.Logger))
	}
	if cfg.Metrics != nil {
		opts = append(opts, saga.WithMetrics(cfg.Metrics))
	}
	return opts
}

type requirement struct {
	name string
	ok   bool
}

func validate(reqs []requirement) error {
	for _, r := range reqs {
		if !r.ok {
			return fmt.Errorf("mission: %s is required", r.name)
		}
	}
	return nil
}

// ExecutionCompleter runs the ad-hoc completion workflow: validate and
// commit the execution, grant actor (and, for guild missions, guild)
// experience, bump participant progress, then fan out to the feed, quest
// tracker, stat aggregator and notifier.
type ExecutionCompleter struct {
	orch *saga.Orchestrator[*Completion]
	now  func() time.Time
}

// NewExecutionCompleter assembles the ad-hoc workflow.
func NewExecutionCompleter(cfg Config) (*ExecutionCompleter, error) {
	cfg.defaults()
	err := validate([]requirement{
		{"mission store", cfg.Missions != nil},
		{"execution store", cfg.Executions != nil},
		{"participant store", cfg.Participants != nil},
		{"actor ledger", cfg.Actors != nil},
		{"guild ledger", cfg.Guilds != nil},
		{"feed store", cfg.Feed != nil},
		{"stat recorder", cfg.Stats != nil},
		{"quest tracker", cfg.Quests != nil},
		{"notifier", cfg.Notifier != nil},
	})
	if err != nil {
		return nil, err
	}

	steps := []saga.Step[*Completion]{
		&loadExecution{executions: cfg.Executions, missions: cfg.Missions},
		&completeExecution{executions: cfg.Executions},
		&grantActorXP{actors: cfg.Actors},
		&grantGuildXP{guilds: cfg.Guilds},
		&updateParticipantProgress{participants: cfg.Participants},
		&publishFeedEntry{feed: cfg.Feed},
		&trackQuestProgress{tracker: cfg.Quests, action: questActionMission},
		&recordStats{recorder: cfg.Stats},
		&sendNotification{notifier: cfg.Notifier},
	}

	orch, err := saga.New("mission-execution-completion", steps, cfg.options()...)
	if err != nil {
		return nil, err
	}
	return &ExecutionCompleter{orch: orch, now: cfg.Now}, nil
}

// Complete finishes one execution on behalf of an actor. The returned
// result's Payload carries the awarded experience on success.
func (w *ExecutionCompleter) Complete(ctx context.Context, actorID, executionID string, share bool) saga.Result {
	c := &Completion{
		ActorID:     actorID,
		ExecutionID: executionID,
		ShareToFeed: share,
		Now:         w.now(),
	}

	res := w.orch.Run(ctx, executionID, c)
	if res.Success {
		res.Payload = c.AwardedXP
	}
	return res
}

// PinnedCompleter runs the recurring completion workflow: validate and
// commit one occurrence, grant duration-scaled experience, fan out to the
// aggregator, feed and notifier, and spawn the next occurrence subject to
// the daily limit.
type PinnedCompleter struct {
	orch *saga.Orchestrator[*Completion]
	now  func() time.Time
}

// NewPinnedCompleter assembles the recurring workflow.
func NewPinnedCompleter(cfg Config) (*PinnedCompleter, error) {
	cfg.defaults()
	err := validate([]requirement{
		{"mission store", cfg.Missions != nil},
		{"instance store", cfg.Instances != nil},
		{"actor ledger", cfg.Actors != nil},
		{"feed store", cfg.Feed != nil},
		{"stat recorder", cfg.Stats != nil},
		{"quest tracker", cfg.Quests != nil},
		{"notifier", cfg.Notifier != nil},
	})
	if err != nil {
		return nil, err
	}

	steps := []saga.Step[*Completion]{
		&loadInstance{instances: cfg.Instances, missions: cfg.Missions},
		&completeInstance{instances: cfg.Instances},
		&grantActorXP{actors: cfg.Actors},
		&recordStats{recorder: cfg.Stats},
		&publishFeedEntry{feed: cfg.Feed},
		&linkFeedEntry{instances: cfg.Instances},
		&trackQuestProgress{tracker: cfg.Quests, action: questActionPinned},
		&sendNotification{notifier: cfg.Notifier},
		&spawnNextInstance{
			instances:  cfg.Instances,
			dailyLimit: cfg.DailyLimit,
			interval:   cfg.SpawnInterval,
			newID:      cfg.NewID,
		},
	}

	orch, err := saga.New("pinned-instance-completion", steps, cfg.options()...)
	if err != nil {
		return nil, err
	}
	return &PinnedCompleter{orch: orch, now: cfg.Now}, nil
}

// Complete finishes one pinned instance on behalf of an actor. The
// returned result's Payload carries the awarded experience on success.
func (w *PinnedCompleter) Complete(ctx context.Context, actorID, instanceID string, share bool) saga.Result {
	c := &Completion{
		ActorID:     actorID,
		InstanceID:  instanceID,
		ShareToFeed: share,
		Now:         w.now(),
	}

	res := w.orch.Run(ctx, instanceID, c)
	if res.Success {
		res.Payload = c.AwardedXP
	}
	return res
}
