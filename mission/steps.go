package mission

import (
	"context"
	"errors"
	"time"

	"github.com/guildforge/guildforge/feed"
	"github.com/guildforge/guildforge/ledger"
	"github.com/guildforge/guildforge/notify"
	"github.com/guildforge/guildforge/saga"
	"github.com/guildforge/guildforge/stats"
)

// grantRetryDelay is the fixed delay between ledger grant attempts.
const grantRetryDelay = 100 * time.Millisecond

// loadExecution loads and validates the execution and its mission, then
// computes the award. Pure reads, nothing to compensate.
type loadExecution struct {
	saga.Base[*Completion]
	executions ExecutionStore
	missions   MissionStore
}

func (s *loadExecution) Name() string { return "load-execution" }

func (s *loadExecution) Execute(ctx context.Context, c *Completion) saga.Result {
	exec, err := s.executions.Execution(ctx, c.ExecutionID)
	if err != nil {
		return saga.Failf("execution %s not found: %v", c.ExecutionID, err)
	}
	if exec.ActorID != c.ActorID {
		return saga.Failf("execution %s does not belong to actor %s", exec.ID, c.ActorID)
	}
	switch exec.Status {
	case ExecutionInProgress:
	case ExecutionCompleted:
		return saga.Failf("execution %s already completed", exec.ID)
	default:
		return saga.Failf("execution %s is %s, cannot complete", exec.ID, exec.Status)
	}

	mission, err := s.missions.Mission(ctx, exec.MissionID)
	if err != nil {
		return saga.Failf("mission %s not found: %v", exec.MissionID, err)
	}

	c.Execution = exec
	c.Mission = mission
	c.ActorXP = ExecutionXP(mission)
	if mission.IsGuildMission() {
		c.GuildXP = mission.GuildXP
	}
	return saga.OK("execution loaded")
}

func (s *loadExecution) Compensate(ctx context.Context, c *Completion) saga.Result {
	return saga.OK("nothing to undo")
}

// completeExecution commits the status transition. The conditional update
// makes the second of two racing completions fail here with a status
// conflict instead of double-granting.
type completeExecution struct {
	saga.Base[*Completion]
	executions ExecutionStore
}

func (s *completeExecution) Name() string { return "complete-execution" }

func (s *completeExecution) Execute(ctx context.Context, c *Completion) saga.Result {
	err := s.executions.CompleteExecution(ctx, c.ExecutionID, c.Execution.Status, ExecutionCompleted, c.Now, c.ActorXP)
	if err != nil {
		return saga.Failf("complete execution %s: %v", c.ExecutionID, err)
	}
	c.PrevExecutionStatus = c.Execution.Status
	c.AwardedXP = c.ActorXP
	return saga.OK("execution completed")
}

func (s *completeExecution) Compensate(ctx context.Context, c *Completion) saga.Result {
	if c.PrevExecutionStatus == "" {
		return saga.OK("nothing to undo")
	}
	if err := s.executions.SetExecutionStatus(ctx, c.ExecutionID, c.PrevExecutionStatus); err != nil {
		return saga.Wrap(err)
	}
	c.AwardedXP = 0
	return saga.OK("execution status restored")
}

// grantActorXP credits the actor's experience ledger. Retried because the
// ledger sits behind a network hop; revoked on rollback.
type grantActorXP struct {
	saga.Base[*Completion]
	actors ledger.Ledger
}

func (s *grantActorXP) Name() string { return "grant-actor-xp" }

func (s *grantActorXP) MaxRetries() int { return 2 }

func (s *grantActorXP) RetryDelay() time.Duration { return grantRetryDelay }

func (s *grantActorXP) Execute(ctx context.Context, c *Completion) saga.Result {
	entry, err := s.actors.Grant(ctx, ledger.Grant{
		OwnerID: c.ActorID,
		Amount:  c.ActorXP,
		Source:  c.Source(),
		Ref:     c.RefID(),
	})
	if err != nil {
		return saga.Wrap(err)
	}
	c.ActorGrant = entry
	return saga.OKWith("actor experience granted", entry.Amount)
}

func (s *grantActorXP) Compensate(ctx context.Context, c *Completion) saga.Result {
	if c.ActorGrant == nil {
		return saga.OK("nothing to undo")
	}
	if _, err := s.actors.Revoke(ctx, c.ActorGrant.ID); err != nil {
		return saga.Wrap(err)
	}
	return saga.OK("actor grant revoked")
}

// grantGuildXP credits the guild's ledger for guild missions, with the
// completing actor recorded as contributor.
type grantGuildXP struct {
	saga.Base[*Completion]
	guilds ledger.Ledger
}

func (s *grantGuildXP) Name() string { return "grant-guild-xp" }

func (s *grantGuildXP) ShouldExecute(c *Completion) bool {
	return c.Mission != nil && c.Mission.IsGuildMission() && c.GuildXP > 0
}

func (s *grantGuildXP) MaxRetries() int { return 2 }

func (s *grantGuildXP) RetryDelay() time.Duration { return grantRetryDelay }

func (s *grantGuildXP) Execute(ctx context.Context, c *Completion) saga.Result {
	entry, err := s.guilds.Grant(ctx, ledger.Grant{
		OwnerID:       c.Mission.GuildID,
		Amount:        c.GuildXP,
		Source:        c.Source(),
		Ref:           c.RefID(),
		ContributorID: c.ActorID,
	})
	if err != nil {
		return saga.Wrap(err)
	}
	c.GuildGrant = entry
	return saga.OKWith("guild experience granted", entry.Amount)
}

func (s *grantGuildXP) Compensate(ctx context.Context, c *Completion) saga.Result {
	if c.GuildGrant == nil {
		return saga.OK("nothing to undo")
	}
	if _, err := s.guilds.Revoke(ctx, c.GuildGrant.ID); err != nil {
		return saga.Wrap(err)
	}
	return saga.OK("guild grant revoked")
}

// updateParticipantProgress bumps the actor's completion counter on the
// mission membership record.
type updateParticipantProgress struct {
	saga.Base[*Completion]
	participants ParticipantStore
}

func (s *updateParticipantProgress) Name() string { return "update-participant-progress" }

func (s *updateParticipantProgress) Execute(ctx context.Context, c *Completion) saga.Result {
	p, err := s.participants.Participant(ctx, c.Mission.ID, c.ActorID)
	switch {
	case err == nil:
		c.PrevCompletions = p.Completions
		c.HadParticipant = true
	case errors.Is(err, ErrNotFound):
		c.PrevCompletions = 0
		c.HadParticipant = true // record is created below; restore rewrites it to zero
	default:
		return saga.Wrap(err)
	}

	if err := s.participants.SetCompletions(ctx, c.Mission.ID, c.ActorID, c.PrevCompletions+1); err != nil {
		return saga.Wrap(err)
	}
	return saga.OK("participant progress updated")
}

func (s *updateParticipantProgress) Compensate(ctx context.Context, c *Completion) saga.Result {
	if !c.HadParticipant {
		return saga.OK("nothing to undo")
	}
	if err := s.participants.SetCompletions(ctx, c.Mission.ID, c.ActorID, c.PrevCompletions); err != nil {
		return saga.Wrap(err)
	}
	return saga.OK("participant progress restored")
}

// publishFeedEntry shares the completion to the social feed. Optional: a
// feed outage never voids a completion.
type publishFeedEntry struct {
	saga.Base[*Completion]
	feed feed.Store
}

func (s *publishFeedEntry) Name() string { return "publish-feed-entry" }

func (s *publishFeedEntry) ShouldExecute(c *Completion) bool { return c.ShareToFeed }

func (s *publishFeedEntry) Mandatory() bool { return false }

func (s *publishFeedEntry) Execute(ctx context.Context, c *Completion) saga.Result {
	kind := "mission_completed"
	if c.Source() == SourcePinnedMission {
		kind = "pinned_completed"
	}

	id, err := s.feed.Create(ctx, feed.Entry{
		ActorID:   c.ActorID,
		Kind:      kind,
		MissionID: c.Mission.ID,
		RefID:     c.RefID(),
		Title:     c.Mission.Title,
		XP:        c.ActorXP,
		CreatedAt: c.Now,
	})
	if err != nil {
		return saga.Wrap(err)
	}
	c.FeedEntryID = id
	return saga.OKWith("feed entry published", id)
}

func (s *publishFeedEntry) Compensate(ctx context.Context, c *Completion) saga.Result {
	if c.FeedEntryID == "" {
		return saga.OK("nothing to undo")
	}
	if err := s.feed.Delete(ctx, c.FeedEntryID); err != nil {
		return saga.Wrap(err)
	}
	c.FeedEntryID = ""
	return saga.OK("feed entry deleted")
}

// trackQuestProgress increments quest counters. The tracker exposes no
// inverse, so the step is optional and its compensation is a documented
// no-op.
type trackQuestProgress struct {
	saga.Base[*Completion]
	tracker stats.Tracker
	action  string
}

func (s *trackQuestProgress) Name() string { return "track-quest-progress" }

func (s *trackQuestProgress) Mandatory() bool { return false }

func (s *trackQuestProgress) Execute(ctx context.Context, c *Completion) saga.Result {
	if err := s.tracker.IncrementProgress(ctx, c.ActorID, s.action, 1); err != nil {
		return saga.Wrap(err)
	}
	return saga.OK("quest progress tracked")
}

func (s *trackQuestProgress) Compensate(ctx context.Context, c *Completion) saga.Result {
	return saga.OK("quest progress is not reversible")
}

// recordStats bumps the completion counters and evaluates achievements.
// Optional; the counter restore on rollback is best effort.
type recordStats struct {
	saga.Base[*Completion]
	recorder stats.Recorder
}

func (s *recordStats) Name() string { return "record-stats" }

func (s *recordStats) Mandatory() bool { return false }

func (s *recordStats) Execute(ctx context.Context, c *Completion) saga.Result {
	snap, err := s.recorder.Snapshot(ctx, c.ActorID)
	if err != nil {
		return saga.Wrap(err)
	}

	guild := c.Mission.IsGuildMission()
	if err := s.recorder.RecordCompletion(ctx, c.ActorID, guild); err != nil {
		return saga.Wrap(err)
	}
	c.StatsBefore = snap

	unlocked, err := s.recorder.CheckAchievements(ctx, c.ActorID, c.Source())
	if err != nil {
		return saga.Failf("check achievements: %v", err)
	}
	c.Unlocked = unlocked
	return saga.OK("stats recorded")
}

func (s *recordStats) Compensate(ctx context.Context, c *Completion) saga.Result {
	if c.StatsBefore == nil {
		return saga.OK("nothing to undo")
	}
	if err := s.recorder.Restore(ctx, c.ActorID, c.StatsBefore); err != nil {
		return saga.Wrap(err)
	}
	return saga.OK("stats restored")
}

// sendNotification tells the actor about the completion. Sending is
// irreversible and the step is optional.
type sendNotification struct {
	saga.Base[*Completion]
	notifier notify.Notifier
}

func (s *sendNotification) Name() string { return "send-notification" }

func (s *sendNotification) Mandatory() bool { return false }

func (s *sendNotification) Execute(ctx context.Context, c *Completion) saga.Result {
	err := s.notifier.Notify(ctx, c.ActorID, notify.Notification{
		Kind:      "mission_completed",
		Title:     c.Mission.Title,
		MissionID: c.Mission.ID,
		XP:        c.ActorXP,
	})
	if err != nil {
		return saga.Wrap(err)
	}
	return saga.OK("notification sent")
}

func (s *sendNotification) Compensate(ctx context.Context, c *Completion) saga.Result {
	return saga.OK("notifications are not recalled")
}

// loadInstance loads and validates the pinned instance and its mission,
// then computes the duration-based award.
type loadInstance struct {
	saga.Base[*Completion]
	instances InstanceStore
	missions  MissionStore
}

func (s *loadInstance) Name() string { return "load-instance" }

func (s *loadInstance) Execute(ctx context.Context, c *Completion) saga.Result {
	inst, err := s.instances.Instance(ctx, c.InstanceID)
	if err != nil {
		return saga.Failf("instance %s not found: %v", c.InstanceID, err)
	}
	if inst.ActorID != c.ActorID {
		return saga.Failf("instance %s does not belong to actor %s", inst.ID, c.ActorID)
	}
	switch inst.Status {
	case InstancePending:
	case InstanceDone:
		return saga.Failf("instance %s already completed", inst.ID)
	default:
		return saga.Failf("instance %s is %s, cannot complete", inst.ID, inst.Status)
	}

	mission, err := s.missions.Mission(ctx, inst.MissionID)
	if err != nil {
		return saga.Failf("mission %s not found: %v", inst.MissionID, err)
	}

	var duration time.Duration
	if inst.StartedAt != nil {
		duration = c.Now.Sub(*inst.StartedAt)
	}

	c.Instance = inst
	c.Mission = mission
	c.ActorXP = InstanceXP(mission, duration)
	return saga.OK("instance loaded")
}

func (s *loadInstance) Compensate(ctx context.Context, c *Completion) saga.Result {
	return saga.OK("nothing to undo")
}

// completeInstance commits the status transition for a pinned instance,
// conditional on the loaded status like completeExecution.
type completeInstance struct {
	saga.Base[*Completion]
	instances InstanceStore
}

func (s *completeInstance) Name() string { return "complete-instance" }

func (s *completeInstance) Execute(ctx context.Context, c *Completion) saga.Result {
	err := s.instances.CompleteInstance(ctx, c.InstanceID, c.Instance.Status, InstanceDone, c.Now, c.ActorXP)
	if err != nil {
		return saga.Failf("complete instance %s: %v", c.InstanceID, err)
	}
	c.PrevInstanceStatus = c.Instance.Status
	c.AwardedXP = c.ActorXP
	return saga.OK("instance completed")
}

func (s *completeInstance) Compensate(ctx context.Context, c *Completion) saga.Result {
	if c.PrevInstanceStatus == "" {
		return saga.OK("nothing to undo")
	}
	if err := s.instances.SetInstanceStatus(ctx, c.InstanceID, c.PrevInstanceStatus); err != nil {
		return saga.Wrap(err)
	}
	c.AwardedXP = 0
	return saga.OK("instance status restored")
}

// linkFeedEntry writes the published feed entry's ID onto the instance so
// the feed item can be found from the instance later. Runs only when a
// feed entry was actually published.
type linkFeedEntry struct {
	saga.Base[*Completion]
	instances InstanceStore
}

func (s *linkFeedEntry) Name() string { return "link-feed-entry" }

func (s *linkFeedEntry) ShouldExecute(c *Completion) bool { return c.FeedEntryID != "" }

func (s *linkFeedEntry) Mandatory() bool { return false }

func (s *linkFeedEntry) Execute(ctx context.Context, c *Completion) saga.Result {
	if err := s.instances.SetInstanceFeedEntry(ctx, c.InstanceID, c.FeedEntryID); err != nil {
		return saga.Wrap(err)
	}
	c.LinkedFeedEntry = true
	return saga.OK("feed entry linked")
}

func (s *linkFeedEntry) Compensate(ctx context.Context, c *Completion) saga.Result {
	if !c.LinkedFeedEntry {
		return saga.OK("nothing to undo")
	}
	if err := s.instances.SetInstanceFeedEntry(ctx, c.InstanceID, ""); err != nil {
		return saga.Wrap(err)
	}
	c.LinkedFeedEntry = false
	return saga.OK("feed entry unlinked")
}

// spawnNextInstance creates the successor occurrence of a recurring
// mission. Mandatory: a completed occurrence with no successor breaks the
// recurrence chain. Hitting the daily completion limit is a successful
// no-op, not a failure.
type spawnNextInstance struct {
	saga.Base[*Completion]
	instances  InstanceStore
	dailyLimit int
	interval   time.Duration
	newID      func() string
}

func (s *spawnNextInstance) Name() string { return "spawn-next-instance" }

func (s *spawnNextInstance) Execute(ctx context.Context, c *Completion) saga.Result {
	if s.dailyLimit > 0 {
		count, err := s.instances.CountCompletedOn(ctx, c.ActorID, c.Now)
		if err != nil {
			return saga.Wrap(err)
		}
		if count >= s.dailyLimit {
			return saga.OK("daily limit reached, no next instance spawned")
		}
	}

	maxSeq, err := s.instances.MaxSeq(ctx, c.Mission.ID, c.ActorID)
	if err != nil {
		return saga.Wrap(err)
	}

	next := &PinnedInstance{
		ID:        s.newID(),
		MissionID: c.Mission.ID,
		ActorID:   c.ActorID,
		Seq:       maxSeq + 1,
		Status:    InstancePending,
		DueAt:     c.Now.Add(s.interval),
	}
	if err := s.instances.SaveInstance(ctx, next); err != nil {
		return saga.Wrap(err)
	}

	c.SpawnedInstanceID = next.ID
	c.NextSeq = next.Seq
	return saga.OKWith("next instance spawned", next.ID)
}

func (s *spawnNextInstance) Compensate(ctx context.Context, c *Completion) saga.Result {
	if c.SpawnedInstanceID == "" {
		return saga.OK("nothing to undo")
	}
	if err := s.instances.DeleteInstance(ctx, c.SpawnedInstanceID); err != nil {
		return saga.Wrap(err)
	}
	c.SpawnedInstanceID = ""
	c.NextSeq = 0
	return saga.OK("spawned instance deleted")
}
