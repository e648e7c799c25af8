package mission

import (
	"time"

	"github.com/guildforge/guildforge/ledger"
	"github.com/guildforge/guildforge/stats"
)

// Completion is the per-run saga context for both completion workflows.
//
// The workflow seeds the input fields; each step writes the output of its
// forward action and the snapshot its own compensation needs. A snapshot
// field left at its zero value means the owning step never reached its
// commit point, and its Compensate is a no-op.
type Completion struct {
	// Inputs, seeded by the workflow before the run.
	ActorID     string
	ExecutionID string // ad-hoc workflow
	InstanceID  string // pinned workflow
	ShareToFeed bool
	Now         time.Time

	// Loaded state.
	Mission   *Mission
	Execution *Execution
	Instance  *PinnedInstance

	// Computed awards.
	ActorXP int64
	GuildXP int64

	// Outputs.
	AwardedXP   int64
	FeedEntryID string
	Unlocked    []stats.Achievement
	NextSeq     int // sequence number of the spawned instance, 0 if none

	// Per-step compensation snapshots.
	PrevExecutionStatus ExecutionStatus // completeExecution
	PrevInstanceStatus  InstanceStatus  // completeInstance
	ActorGrant          *ledger.Entry   // grantActorXP
	GuildGrant          *ledger.Entry   // grantGuildXP
	PrevCompletions     int64           // updateParticipantProgress
	HadParticipant      bool            // updateParticipantProgress
	StatsBefore         *stats.Snapshot // recordStats
	SpawnedInstanceID   string          // spawnNextInstance
	LinkedFeedEntry     bool            // linkFeedEntry
}

// Source returns the ledger source tag for this run's workflow.
func (c *Completion) Source() string {
	if c.InstanceID != "" {
		return SourcePinnedMission
	}
	return SourceMission
}

// RefID returns the execution or instance identifier the run is about.
func (c *Completion) RefID() string {
	if c.InstanceID != "" {
		return c.InstanceID
	}
	return c.ExecutionID
}
