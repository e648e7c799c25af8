package mission

import (
	"context"
	"sync"
	"time"

	"github.com/rbaliyan/event/v3/health"
)

// Memory implements all four stores in process. Intended for tests and
// local development.
type Memory struct {
	mu           sync.Mutex
	missions     map[string]*Mission
	executions   map[string]*Execution
	instances    map[string]*PinnedInstance
	participants map[string]*Participant // key: missionID + "/" + actorID
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		missions:     make(map[string]*Mission),
		executions:   make(map[string]*Execution),
		instances:    make(map[string]*PinnedInstance),
		participants: make(map[string]*Participant),
	}
}

// AddMission seeds a mission definition.
func (m *Memory) AddMission(mission *Mission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *mission
	m.missions[mission.ID] = &stored
}

// AddExecution seeds an execution.
func (m *Memory) AddExecution(exec *Execution) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *exec
	m.executions[exec.ID] = &stored
}

// AddInstance seeds a pinned instance.
func (m *Memory) AddInstance(inst *PinnedInstance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *inst
	m.instances[inst.ID] = &stored
}

// AddParticipant seeds a membership record.
func (m *Memory) AddParticipant(p *Participant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *p
	m.participants[participantKey(p.MissionID, p.ActorID)] = &stored
}

func participantKey(missionID, actorID string) string {
	return missionID + "/" + actorID
}

// Mission returns a mission by ID.
func (m *Memory) Mission(ctx context.Context, id string) (*Mission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mission, ok := m.missions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *mission
	return &out, nil
}

// Execution returns an execution by ID.
func (m *Memory) Execution(ctx context.Context, id string) (*Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec, ok := m.executions[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *exec
	return &out, nil
}

// CompleteExecution transitions an execution conditionally on its current
// status.
func (m *Memory) CompleteExecution(ctx context.Context, id string, from, to ExecutionStatus, completedAt time.Time, awardedXP int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec, ok := m.executions[id]
	if !ok {
		return ErrNotFound
	}
	if exec.Status != from {
		return ErrStatusConflict
	}
	exec.Status = to
	at := completedAt
	exec.CompletedAt = &at
	exec.AwardedXP = awardedXP
	return nil
}

// SetExecutionStatus rewrites the status and clears the completion fields.
func (m *Memory) SetExecutionStatus(ctx context.Context, id string, status ExecutionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	exec, ok := m.executions[id]
	if !ok {
		return ErrNotFound
	}
	exec.Status = status
	exec.CompletedAt = nil
	exec.AwardedXP = 0
	return nil
}

// Instance returns an instance by ID.
func (m *Memory) Instance(ctx context.Context, id string) (*PinnedInstance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *inst
	return &out, nil
}

// CompleteInstance transitions an instance conditionally on its current
// status.
func (m *Memory) CompleteInstance(ctx context.Context, id string, from, to InstanceStatus, completedAt time.Time, awardedXP int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[id]
	if !ok {
		return ErrNotFound
	}
	if inst.Status != from {
		return ErrStatusConflict
	}
	inst.Status = to
	at := completedAt
	inst.CompletedAt = &at
	inst.AwardedXP = awardedXP
	return nil
}

// SetInstanceStatus rewrites the status and clears the completion fields.
func (m *Memory) SetInstanceStatus(ctx context.Context, id string, status InstanceStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[id]
	if !ok {
		return ErrNotFound
	}
	inst.Status = status
	inst.CompletedAt = nil
	inst.AwardedXP = 0
	return nil
}

// SetInstanceFeedEntry records or clears the linked feed entry.
func (m *Memory) SetInstanceFeedEntry(ctx context.Context, id, feedEntryID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[id]
	if !ok {
		return ErrNotFound
	}
	inst.FeedEntryID = feedEntryID
	return nil
}

// MaxSeq returns the highest sequence number among an actor's instances of
// one mission.
func (m *Memory) MaxSeq(ctx context.Context, missionID, actorID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	max := 0
	for _, inst := range m.instances {
		if inst.MissionID == missionID && inst.ActorID == actorID && inst.Seq > max {
			max = inst.Seq
		}
	}
	return max, nil
}

// CountCompletedOn counts the actor's instances completed on the given UTC
// calendar day.
func (m *Memory) CountCompletedOn(ctx context.Context, actorID string, day time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	y, mo, d := day.UTC().Date()
	count := 0
	for _, inst := range m.instances {
		if inst.ActorID != actorID || inst.Status != InstanceDone || inst.CompletedAt == nil {
			continue
		}
		cy, cmo, cd := inst.CompletedAt.UTC().Date()
		if cy == y && cmo == mo && cd == d {
			count++
		}
	}
	return count, nil
}

// SaveInstance inserts or replaces an instance.
func (m *Memory) SaveInstance(ctx context.Context, inst *PinnedInstance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *inst
	m.instances[inst.ID] = &stored
	return nil
}

// DeleteInstance removes an instance by ID.
func (m *Memory) DeleteInstance(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.instances[id]; !ok {
		return ErrNotFound
	}
	delete(m.instances, id)
	return nil
}

// Participant returns the membership record for one actor on one mission.
func (m *Memory) Participant(ctx context.Context, missionID, actorID string) (*Participant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.participants[participantKey(missionID, actorID)]
	if !ok {
		return nil, ErrNotFound
	}
	out := *p
	return &out, nil
}

// SetCompletions rewrites the actor's completion counter for the mission.
func (m *Memory) SetCompletions(ctx context.Context, missionID, actorID string, completions int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := participantKey(missionID, actorID)
	p, ok := m.participants[key]
	if !ok {
		p = &Participant{MissionID: missionID, ActorID: actorID}
		m.participants[key] = p
	}
	p.Completions = completions
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Health reports the store as healthy.
func (m *Memory) Health(ctx context.Context) *health.Result {
	m.mu.Lock()
	missions := len(m.missions)
	executions := len(m.executions)
	instances := len(m.instances)
	m.mu.Unlock()

	return &health.Result{
		Status:    health.StatusHealthy,
		CheckedAt: time.Now(),
		Details: map[string]any{
			"missions_count":   missions,
			"executions_count": executions,
			"instances_count":  instances,
		},
	}
}

// Compile-time checks
var (
	_ MissionStore     = (*Memory)(nil)
	_ ExecutionStore   = (*Memory)(nil)
	_ InstanceStore    = (*Memory)(nil)
	_ ParticipantStore = (*Memory)(nil)
	_ health.Checker   = (*Memory)(nil)
)
