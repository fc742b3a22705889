package asynqadp

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/hibiken/asynq"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
)

func stateOf(s asynq.TaskState) domain.JobState {
	switch s {
	case asynq.TaskStateActive:
		return domain.JobStateActive
	case asynq.TaskStatePending, asynq.TaskStateAggregating:
		return domain.JobStateWaiting
	case asynq.TaskStateScheduled, asynq.TaskStateRetry:
		return domain.JobStateDelayed
	case asynq.TaskStateCompleted:
		return domain.JobStateCompleted
	case asynq.TaskStateArchived:
		return domain.JobStateFailed
	default:
		return domain.JobStateWaiting
	}
}

func notFoundish(err error) bool {
	return errors.Is(err, asynq.ErrQueueNotFound) || errors.Is(err, asynq.ErrTaskNotFound)
}

// infoFromTask projects an asynq task into the domain view. The envelope
// supplies everything asynq does not track itself.
func (q *Queue) infoFromTask(ctx domain.Context, ti *asynq.TaskInfo) domain.JobInfo {
	env, err := decodeEnvelope(ti.Payload)
	if err != nil {
		env = envelope{Kind: domain.OperationKind(ti.Queue)}
	}
	info := domain.JobInfo{
		ID:             ti.ID,
		Kind:           env.Kind,
		UserID:         env.UserID,
		State:          stateOf(ti.State),
		Queue:          ti.Queue,
		RequeueCount:   env.RequeueCount,
		Retried:        ti.Retried,
		MaxRetry:       ti.MaxRetry,
		EnqueuedAt:     env.EnqueuedAt,
		NextRunAt:      ti.NextProcessAt,
		CompletedAt:    ti.CompletedAt,
		LastError:      ti.LastErr,
		IdempotencyKey: env.IdempotencyKey,
	}
	if len(ti.Result) > 0 {
		info.Result = json.RawMessage(ti.Result)
	}
	if info.State == domain.JobStateActive {
		info.Progress = q.progressOf(ctx, ti.ID)
	}
	return info
}

// GetJob finds a job by id across all operation queues.
func (q *Queue) GetJob(ctx domain.Context, jobID string) (domain.JobInfo, error) {
	if jobID == "" {
		return domain.JobInfo{}, fmt.Errorf("op=queue.getjob: empty job id: %w", domain.ErrInvalidArgument)
	}
	for _, kind := range domain.Kinds() {
		ti, err := q.inspector.GetTaskInfo(string(kind), jobID)
		if err != nil {
			if notFoundish(err) {
				continue
			}
			return domain.JobInfo{}, fmt.Errorf("op=queue.getjob: %w", err)
		}
		return q.infoFromTask(ctx, ti), nil
	}
	return domain.JobInfo{}, fmt.Errorf("op=queue.getjob: job %q: %w", jobID, domain.ErrNotFound)
}

// GetJobsForAgent lists the agent's unfinished jobs (active, waiting and
// delayed) across all operation queues, oldest first.
func (q *Queue) GetJobsForAgent(ctx domain.Context, userID string) ([]domain.JobInfo, error) {
	if userID == "" {
		return nil, fmt.Errorf("op=queue.agentjobs: empty user id: %w", domain.ErrInvalidArgument)
	}
	listers := []func(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error){
		q.inspector.ListActiveTasks,
		q.inspector.ListPendingTasks,
		q.inspector.ListScheduledTasks,
		q.inspector.ListRetryTasks,
	}
	var out []domain.JobInfo
	for _, kind := range domain.Kinds() {
		for _, list := range listers {
			tasks, err := list(string(kind), asynq.PageSize(200))
			if err != nil {
				if notFoundish(err) {
					break
				}
				return nil, fmt.Errorf("op=queue.agentjobs: %w", err)
			}
			for _, ti := range tasks {
				info := q.infoFromTask(ctx, ti)
				if info.UserID == userID {
					out = append(out, info)
				}
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	return out, nil
}

// GetJobCounts aggregates queue state per kind and in total. Queues that
// have never seen a task count as zero.
func (q *Queue) GetJobCounts(_ domain.Context) (domain.JobCounts, error) {
	counts := domain.JobCounts{ByKind: make(map[domain.OperationKind]domain.StateCounts, len(domain.Kinds()))}
	for _, kind := range domain.Kinds() {
		qi, err := q.inspector.GetQueueInfo(string(kind))
		if err != nil {
			if notFoundish(err) {
				counts.ByKind[kind] = domain.StateCounts{}
				continue
			}
			return domain.JobCounts{}, fmt.Errorf("op=queue.counts: %w", err)
		}
		sc := domain.StateCounts{
			Waiting:   qi.Pending + qi.Aggregating,
			Active:    qi.Active,
			Delayed:   qi.Scheduled + qi.Retry,
			Completed: qi.Completed,
			Failed:    qi.Archived,
		}
		counts.ByKind[kind] = sc
		counts.Total.Waiting += sc.Waiting
		counts.Total.Active += sc.Active
		counts.Total.Delayed += sc.Delayed
		counts.Total.Completed += sc.Completed
		counts.Total.Failed += sc.Failed
	}
	return counts, nil
}

// CancelJob removes a queued job, or signals cancellation when it is
// already running. Missing jobs report found=false without error.
func (q *Queue) CancelJob(ctx domain.Context, jobID string) (bool, error) {
	if jobID == "" {
		return false, fmt.Errorf("op=queue.cancel: empty job id: %w", domain.ErrInvalidArgument)
	}
	for _, kind := range domain.Kinds() {
		ti, err := q.inspector.GetTaskInfo(string(kind), jobID)
		if err != nil {
			if notFoundish(err) {
				continue
			}
			return false, fmt.Errorf("op=queue.cancel: %w", err)
		}
		if ti.State == asynq.TaskStateActive {
			// Cancellation of a running job is cooperative: asynq cancels the
			// handler context and the processor reports the abort.
			if err := q.inspector.CancelProcessing(jobID); err != nil {
				return false, fmt.Errorf("op=queue.cancel: %w", err)
			}
			return true, nil
		}
		if err := q.inspector.DeleteTask(string(kind), jobID); err != nil {
			if notFoundish(err) {
				continue
			}
			return false, fmt.Errorf("op=queue.cancel: %w", err)
		}
		q.clearProgress(ctx, jobID)
		return true, nil
	}
	return false, nil
}
