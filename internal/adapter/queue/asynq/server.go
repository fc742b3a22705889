package asynqadp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/processor"
)

// jobProcessor is what the server needs from the processor.
type jobProcessor interface {
	Process(ctx context.Context, job *domain.Job) (processor.Outcome, error)
}

// Server drains the operation queues and feeds deliveries to the
// processor. One server instance runs inside the backend process,
// strictly preferring higher-priority queues.
type Server struct {
	srv *asynq.Server
	mux *asynq.ServeMux
}

// NewServer builds the queue server. Concurrency bounds how many
// deliveries run at once across all agents; per-agent exclusivity is the
// processor's job.
func NewServer(redisURL string, proc jobProcessor, concurrency int) (*Server, error) {
	if proc == nil {
		return nil, fmt.Errorf("op=queue.server: nil processor: %w", domain.ErrInvalidArgument)
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("op=queue.server: redis: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency:    concurrency,
		Queues:         queueWeights(),
		StrictPriority: true,
		RetryDelayFunc: retryDelay,
		ErrorHandler:   asynq.ErrorHandlerFunc(logTaskError),
	})

	h := &taskHandler{proc: proc}
	mux := asynq.NewServeMux()
	for _, kind := range domain.Kinds() {
		mux.HandleFunc(taskType(kind), h.handle)
	}
	return &Server{srv: srv, mux: mux}, nil
}

// Start launches the worker pool; it returns once the server is running.
func (s *Server) Start() error {
	if err := s.srv.Start(s.mux); err != nil {
		return fmt.Errorf("op=queue.server: start: %w", err)
	}
	return nil
}

// Shutdown drains in-flight deliveries and stops the server.
func (s *Server) Shutdown() { s.srv.Shutdown() }

// queueWeights maps every kind to its queue weight. Lower registry
// priority numbers mean more urgent, so the weight inverts the priority;
// with StrictPriority the weights become a total drain order.
func queueWeights() map[string]int {
	weights := make(map[string]int, len(domain.Kinds()))
	for _, kind := range domain.Kinds() {
		weights[string(kind)] = 16 - domain.Priority(kind)
	}
	return weights
}

// retryDelay translates the per-kind retry policy for asynq. asynq hands
// us the number of retries so far; the policy speaks in 1-based attempts.
func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	kind, ok := kindFromTaskType(task.Type())
	if !ok {
		return asynq.DefaultRetryDelayFunc(n, err, task)
	}
	return domain.RetryDelay(kind, n+1)
}

func logTaskError(ctx context.Context, task *asynq.Task, err error) {
	id, _ := asynq.GetTaskID(ctx)
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	slog.Error("task failed",
		slog.String("task_id", id),
		slog.String("task_type", task.Type()),
		slog.Int("retried", retried),
		slog.Int("max_retry", maxRetry),
		slog.Any("error", err))
}

type taskHandler struct {
	proc jobProcessor
}

// deliveryResult is what a finished delivery leaves in the task's result
// slot: either the handler result or the requeue bookkeeping.
type deliveryResult struct {
	Requeued      bool   `json:"requeued,omitempty"`
	RequeueCount  int    `json:"requeue_count,omitempty"`
	ReplacementID string `json:"replacement_id,omitempty"`
	Result        any    `json:"result,omitempty"`
}

func (h *taskHandler) handle(ctx context.Context, t *asynq.Task) error {
	kind, ok := kindFromTaskType(t.Type())
	if !ok {
		return fmt.Errorf("op=queue.handle: unknown task type %q: %w", t.Type(), asynq.SkipRetry)
	}
	env, err := decodeEnvelope(t.Payload())
	if err != nil {
		return fmt.Errorf("op=queue.handle: %w: %w", err, asynq.SkipRetry)
	}
	jobID, _ := asynq.GetTaskID(ctx)
	enqueuedAt := env.EnqueuedAt
	if enqueuedAt.IsZero() {
		// Scheduler-born tasks carry no enqueue time in the payload.
		enqueuedAt = time.Now().UTC()
	}
	job := &domain.Job{
		ID:             jobID,
		Kind:           kind,
		UserID:         env.UserID,
		Data:           env.Data,
		IdempotencyKey: env.IdempotencyKey,
		RequeueCount:   env.RequeueCount,
		EnqueuedAt:     enqueuedAt,
	}

	outcome, err := h.proc.Process(ctx, job)
	if err != nil {
		if domain.IsUnrecoverable(err) {
			return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
		}
		return err
	}

	if w := t.ResultWriter(); w != nil {
		res := deliveryResult{
			Requeued:      outcome.Requeued,
			RequeueCount:  outcome.RequeueCount,
			ReplacementID: outcome.ReplacementID,
			Result:        outcome.Result,
		}
		if b, merr := json.Marshal(res); merr == nil {
			if _, werr := w.Write(b); werr != nil {
				slog.Debug("task result not written", slog.String("task_id", jobID), slog.Any("error", werr))
			}
		}
	}
	return nil
}
