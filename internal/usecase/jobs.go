package usecase

import (
	"fmt"
	"sort"
	"time"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/agentlock"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
)

// AgentStatus is one row of the active-agents snapshot.
type AgentStatus struct {
	UserID string               `json:"user_id"`
	JobID  string               `json:"job_id"`
	Kind   domain.OperationKind `json:"kind"`
	Since  time.Time            `json:"since"`
}

// JobsService is the observational surface over the queue, the agent lock
// and the sync history. It adds no behaviour beyond input guards and
// stable ordering; state lives in the collaborators.
type JobsService struct {
	Queue      domain.Queue
	Lock       *agentlock.Lock
	SyncEvents domain.SyncEventStore
}

// NewJobsService constructs a JobsService.
func NewJobsService(q domain.Queue, l *agentlock.Lock, se domain.SyncEventStore) JobsService {
	return JobsService{Queue: q, Lock: l, SyncEvents: se}
}

// Get returns the queue view of one job.
func (s JobsService) Get(ctx domain.Context, jobID string) (domain.JobInfo, error) {
	if jobID == "" {
		return domain.JobInfo{}, fmt.Errorf("op=jobs.get: empty job id: %w", domain.ErrInvalidArgument)
	}
	return s.Queue.GetJob(ctx, jobID)
}

// Cancel removes a queued job or signals cancellation to an active one.
// Missing jobs are reported, not errors.
func (s JobsService) Cancel(ctx domain.Context, jobID string) (bool, error) {
	if jobID == "" {
		return false, fmt.Errorf("op=jobs.cancel: empty job id: %w", domain.ErrInvalidArgument)
	}
	return s.Queue.CancelJob(ctx, jobID)
}

// ListForAgent returns the agent's jobs across queue states.
func (s JobsService) ListForAgent(ctx domain.Context, userID string) ([]domain.JobInfo, error) {
	if userID == "" {
		return nil, fmt.Errorf("op=jobs.list: empty user id: %w", domain.ErrInvalidArgument)
	}
	return s.Queue.GetJobsForAgent(ctx, userID)
}

// Counts returns the queue census.
func (s JobsService) Counts(ctx domain.Context) (domain.JobCounts, error) {
	return s.Queue.GetJobCounts(ctx)
}

// ActiveAgents snapshots which agents are executing right now, ordered by
// agent id for stable output.
func (s JobsService) ActiveAgents() []AgentStatus {
	active := s.Lock.AllActive()
	out := make([]AgentStatus, 0, len(active))
	for userID, job := range active {
		out = append(out, AgentStatus{UserID: userID, JobID: job.JobID, Kind: job.Kind, Since: job.Since})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// RecentSyncEvents returns the agent's newest sync history rows.
func (s JobsService) RecentSyncEvents(ctx domain.Context, userID string, limit int) ([]domain.SyncEvent, error) {
	if userID == "" {
		return nil, fmt.Errorf("op=jobs.sync_events: empty user id: %w", domain.ErrInvalidArgument)
	}
	return s.SyncEvents.Recent(ctx, userID, limit)
}
