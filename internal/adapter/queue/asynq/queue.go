package asynqadp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/adapter/observability"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
)

// executionSlack pads the asynq-side task deadline beyond the handler
// timeout, leaving room for admission polling and preemption waits before
// the handler starts.
const executionSlack = 2 * time.Minute

// defaultRetention keeps finished tasks inspectable for a day.
const defaultRetention = 24 * time.Hour

const progressKeyPrefix = "archibald:progress:"

func progressKey(jobID string) string { return progressKeyPrefix + jobID }

// enqueueClient is the slice of *asynq.Client the queue uses; tests
// substitute a fake.
type enqueueClient interface {
	EnqueueContext(ctx domain.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// taskInspector is the slice of *asynq.Inspector the queue uses for job
// status and cancellation.
type taskInspector interface {
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	ListActiveTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListPendingTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListScheduledTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListRetryTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	CancelProcessing(id string) error
	DeleteTask(queue, id string) error
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// Queue implements domain.Queue on top of asynq, with job progress kept in
// a Redis hash next to the queue itself.
type Queue struct {
	client    enqueueClient
	inspector taskInspector
	redis     *redis.Client
	retention time.Duration

	ownedClient *asynq.Client
}

// New connects to Redis and builds the queue adapter.
func New(redisURL string) (*Queue, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("op=queue.new: redis: %w", err)
	}
	ropt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("op=queue.new: redis: %w", err)
	}
	client := asynq.NewClient(opt)
	return &Queue{
		client:      client,
		inspector:   asynq.NewInspector(opt),
		redis:       redis.NewClient(ropt),
		retention:   defaultRetention,
		ownedClient: client,
	}, nil
}

// NewWithClients wires explicit collaborators; used by tests.
func NewWithClients(client enqueueClient, inspector taskInspector, rdb *redis.Client) *Queue {
	return &Queue{client: client, inspector: inspector, redis: rdb, retention: defaultRetention}
}

// Close releases the underlying connections.
func (q *Queue) Close() error {
	var errs []error
	if q.ownedClient != nil {
		errs = append(errs, q.ownedClient.Close())
	}
	if q.redis != nil {
		errs = append(errs, q.redis.Close())
	}
	return errors.Join(errs...)
}

// Ping verifies the Redis connection; used by readiness probes.
func (q *Queue) Ping(ctx domain.Context) error {
	if err := q.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("op=queue.ping: %w", err)
	}
	return nil
}

// Enqueue pushes one operation into its kind's queue. The idempotency key
// doubles as the task id, so re-sending the same key returns the original
// job id instead of a duplicate; an empty key gets a synthesized one.
func (q *Queue) Enqueue(ctx domain.Context, kind domain.OperationKind, userID string, data json.RawMessage, idemKey string, opts domain.EnqueueOptions) (string, error) {
	if !domain.Valid(kind) {
		return "", fmt.Errorf("op=queue.enqueue: unknown kind %q: %w", kind, domain.ErrInvalidArgument)
	}
	if userID == "" {
		return "", fmt.Errorf("op=queue.enqueue: empty user id: %w", domain.ErrInvalidArgument)
	}
	now := time.Now().UTC()
	if idemKey == "" {
		idemKey = synthesizeKey(kind, userID, now)
	}
	env := envelope{
		Kind:           kind,
		UserID:         userID,
		Data:           data,
		IdempotencyKey: idemKey,
		RequeueCount:   opts.RequeueCount,
		EnqueuedAt:     now,
	}
	payload, err := env.marshal()
	if err != nil {
		return "", err
	}

	taskID := taskIDFor(idemKey, opts.RequeueCount)
	aopts := []asynq.Option{
		asynq.TaskID(taskID),
		asynq.Queue(string(kind)),
		asynq.MaxRetry(domain.MaxRetry(kind)),
		asynq.Timeout(domain.Timeout(kind) + executionSlack),
		asynq.Retention(q.retention),
	}
	if opts.Delay > 0 {
		aopts = append(aopts, asynq.ProcessIn(opts.Delay))
	}

	info, err := q.client.EnqueueContext(ctx, asynq.NewTask(taskType(kind), payload), aopts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			// Duplicate idempotency key: the job already exists under this id.
			return taskID, nil
		}
		return "", fmt.Errorf("op=queue.enqueue: %w", err)
	}
	observability.EnqueueOperation(string(kind))
	return info.ID, nil
}

// UpdateProgress stores the progress record for an active job. The record
// expires with the task retention window.
func (q *Queue) UpdateProgress(ctx domain.Context, jobID string, percent int, label string) error {
	if jobID == "" {
		return fmt.Errorf("op=queue.progress: empty job id: %w", domain.ErrInvalidArgument)
	}
	key := progressKey(jobID)
	pipe := q.redis.TxPipeline()
	pipe.HSet(ctx, key,
		"percent", percent,
		"label", label,
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	)
	pipe.Expire(ctx, key, q.retention)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("op=queue.progress: %w", err)
	}
	return nil
}

// progressOf reads the progress record; missing or unreadable records
// yield the zero value.
func (q *Queue) progressOf(ctx domain.Context, jobID string) domain.Progress {
	vals, err := q.redis.HGetAll(ctx, progressKey(jobID)).Result()
	if err != nil || len(vals) == 0 {
		return domain.Progress{}
	}
	var p domain.Progress
	if n, err := strconv.Atoi(vals["percent"]); err == nil {
		p.Percent = n
	}
	p.Label = vals["label"]
	if ts, err := time.Parse(time.RFC3339Nano, vals["updated_at"]); err == nil {
		p.UpdatedAt = ts
	}
	return p
}

func (q *Queue) clearProgress(ctx domain.Context, jobID string) {
	_ = q.redis.Del(ctx, progressKey(jobID)).Err()
}
