// Package processor dispatches queue deliveries: admission against the
// agent lock (including write-over-sync preemption), handler execution
// under the per-kind timeout, lifecycle event broadcasting and
// finalisation.
//
// One Processor instance serves all queue workers; per-delivery state
// lives on the stack of Process.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/adapter/observability"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/agentlock"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
	obsctx "github.com/H4tholdir/archibaldblackant-sub012/internal/observability"
)

// Defaults for the scheduling tunables. Overridden through Deps, normally
// from configuration.
const (
	DefaultPollInterval     = 500 * time.Millisecond
	DefaultPreemptionWait   = 30 * time.Second
	DefaultRequeueBaseDelay = 2 * time.Second
	DefaultRequeueMaxDelay  = 30 * time.Second
)

// Deps are the collaborators and tunables of a Processor. All ports are
// required; zero-valued tunables take the package defaults.
type Deps struct {
	Lock       *agentlock.Lock
	Queue      domain.Queue
	Pool       domain.BrowserPool
	Broadcast  domain.Broadcaster
	BotResults domain.BotResultStore
	SyncEvents domain.SyncEventStore
	Handlers   *Registry

	PollInterval     time.Duration
	PreemptionWait   time.Duration
	RequeueBaseDelay time.Duration
	RequeueMaxDelay  time.Duration

	// Timeouts overrides the registry timeout per kind; tests shrink it,
	// production leaves it nil. A non-positive return falls back to the
	// registry value.
	Timeouts func(domain.OperationKind) time.Duration
}

// Outcome describes how a delivery ended, for queue-side bookkeeping. A
// requeued delivery is not a failure: the replacement job carries the work
// forward and the current delivery completes.
type Outcome struct {
	Requeued      bool
	RequeueCount  int
	Delay         time.Duration
	ReplacementID string
	Result        any
}

// Processor coordinates one delivery at a time per agent. It is safe for
// concurrent use by the queue's worker pool.
type Processor struct {
	deps Deps
}

// New builds a Processor, applying tunable defaults. Registry completeness
// is the composition root's concern (Registry.Validate at startup); a
// missing handler at dispatch time still fails the job permanently.
func New(deps Deps) (*Processor, error) {
	switch {
	case deps.Lock == nil, deps.Queue == nil, deps.Pool == nil, deps.Broadcast == nil:
		return nil, fmt.Errorf("op=processor.new: missing core dependency: %w", domain.ErrInvalidArgument)
	case deps.BotResults == nil, deps.SyncEvents == nil, deps.Handlers == nil:
		return nil, fmt.Errorf("op=processor.new: missing store or registry: %w", domain.ErrInvalidArgument)
	}
	if deps.PollInterval <= 0 {
		deps.PollInterval = DefaultPollInterval
	}
	if deps.PreemptionWait <= 0 {
		deps.PreemptionWait = DefaultPreemptionWait
	}
	if deps.RequeueBaseDelay <= 0 {
		deps.RequeueBaseDelay = DefaultRequeueBaseDelay
	}
	if deps.RequeueMaxDelay <= 0 {
		deps.RequeueMaxDelay = DefaultRequeueMaxDelay
	}
	return &Processor{deps: deps}, nil
}

// Process runs one delivery end to end. The returned error is what the
// queue adapter reports to the queue: nil for completed or requeued
// deliveries, an unrecoverable error for failures that must not retry.
func (p *Processor) Process(ctx context.Context, job *domain.Job) (Outcome, error) {
	tracer := otel.Tracer("processor")
	ctx, span := tracer.Start(ctx, "processor.Process")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.kind", string(job.Kind)),
		attribute.String("job.user_id", job.UserID),
		attribute.Int("job.requeue_count", job.RequeueCount),
	)
	log := obsctx.LoggerFromContext(ctx).With(
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.String("user_id", job.UserID),
	)

	handler, ok := p.deps.Handlers.Lookup(job.Kind)
	if !ok {
		log.Error("no handler registered for kind")
		return Outcome{}, domain.Unrecoverable(fmt.Errorf("op=processor.process: no handler for kind %q: %w", job.Kind, domain.ErrInvalidArgument))
	}

	acquired, err := p.admit(ctx, log, job)
	if err != nil {
		return Outcome{}, err
	}
	if !acquired {
		return p.requeue(ctx, log, job)
	}
	return p.execute(ctx, log, job, handler)
}

// admit takes the agent lock, preempting a running scheduled sync when the
// incoming kind is a write. It returns false when the job must be
// re-enqueued instead of executed.
func (p *Processor) admit(ctx context.Context, log *slog.Logger, job *domain.Job) (bool, error) {
	res := p.deps.Lock.Acquire(job.UserID, job.ID, job.Kind)
	if res.Acquired {
		return true, nil
	}
	if !res.Preemptable {
		log.Info("agent busy, not preemptable",
			slog.String("active_job_id", res.Active.JobID),
			slog.String("active_kind", string(res.Active.Kind)))
		return false, nil
	}

	log.Info("preempting scheduled sync",
		slog.String("active_job_id", res.Active.JobID),
		slog.String("active_kind", string(res.Active.Kind)))
	observability.PreemptOperation(string(res.Active.Kind))

	// Cancel the sync's queue job and ask the handler to wind down, then
	// wait for the lock to free up. Both signals fire once; if another job
	// grabs the slot mid-wait the polls simply keep contending until the
	// budget runs out.
	if _, err := p.deps.Queue.CancelJob(ctx, res.Active.JobID); err != nil {
		log.Warn("cancel of preempted job failed", slog.Any("error", err))
	}
	res.Active.RequestStop()

	waitStart := time.Now()
	deadline := waitStart.Add(p.deps.PreemptionWait)
	ticker := time.NewTicker(p.deps.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, nil
		case <-ticker.C:
			if p.deps.Lock.Acquire(job.UserID, job.ID, job.Kind).Acquired {
				observability.ObservePreemptionWait(time.Since(waitStart), true)
				return true, nil
			}
			if time.Now().After(deadline) {
				log.Warn("preemption wait exhausted", slog.Duration("waited", time.Since(waitStart)))
				observability.ObservePreemptionWait(time.Since(waitStart), false)
				return false, nil
			}
		}
	}
}

// requeue enqueues a replacement for a job that could not take the lock.
// The replacement keeps the original envelope and idempotency key, with
// the counter bumped and an exponential delay. A detached context is used
// so a shutdown mid-admission cannot drop the job.
func (p *Processor) requeue(ctx context.Context, log *slog.Logger, job *domain.Job) (Outcome, error) {
	n := job.RequeueCount + 1
	delay := requeueDelay(n, p.deps.RequeueBaseDelay, p.deps.RequeueMaxDelay)

	id, err := p.deps.Queue.Enqueue(context.WithoutCancel(ctx), job.Kind, job.UserID, job.Data, job.IdempotencyKey,
		domain.EnqueueOptions{Delay: delay, RequeueCount: n})
	if err != nil {
		return Outcome{}, fmt.Errorf("op=processor.requeue: %w", err)
	}

	log.Info("job requeued",
		slog.Int("requeue_count", n),
		slog.Int64("delay_ms", delay.Milliseconds()),
		slog.String("replacement_id", id))
	observability.RequeueOperation(string(job.Kind))
	return Outcome{Requeued: true, RequeueCount: n, Delay: delay, ReplacementID: id}, nil
}

// requeueDelay is the contention backoff: base doubled per attempt, capped
// at max. With the defaults that is 2s, 4s, 8s, 16s, 30s, 30s, ...
func requeueDelay(n int, base, max time.Duration) time.Duration {
	if n < 1 {
		n = 1
	}
	if n > 16 {
		return max
	}
	d := base << (n - 1)
	if d <= 0 || d > max {
		return max
	}
	return d
}

// execute runs the handler with the lock held. Every path releases the
// browser context exactly once and the lock afterwards.
func (p *Processor) execute(ctx context.Context, log *slog.Logger, job *domain.Job, handler domain.Handler) (Outcome, error) {
	userID, kind := job.UserID, job.Kind
	observability.IncAgentLocks()
	defer func() {
		p.deps.Lock.Release(userID, job.ID)
		observability.DecAgentLocks()
	}()

	start := time.Now()
	browser, err := p.deps.Pool.Acquire(ctx, userID, domain.AcquireOptions{FromQueue: true})
	if err != nil {
		err = fmt.Errorf("op=processor.execute: acquire browser context: %w", err)
		log.Error("browser context acquisition failed", slog.Any("error", err))
		p.recordSyncEvent(ctx, log, job, domain.SyncEventError, map[string]any{
			"error":       err.Error(),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return Outcome{}, err
	}
	releaseSuccess := false
	defer func() { p.deps.Pool.Release(userID, browser, releaseSuccess) }()
	p.deps.Pool.MarkInUse(userID)

	stopCh := make(chan struct{})
	var stopOnce sync.Once
	p.deps.Lock.SetStopCallback(userID, func() { stopOnce.Do(func() { close(stopCh) }) })

	timeout := p.timeoutFor(kind)
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	observability.StartOperation(string(kind))
	p.deps.Broadcast.Publish(userID, domain.JobStarted(job.ID, kind))
	log.Info("job started", slog.Int64("timeout_ms", timeout.Milliseconds()))

	inv := &domain.Invocation{
		JobID:   job.ID,
		Kind:    kind,
		UserID:  userID,
		Data:    job.Data,
		Browser: browser,
		Stop:    stopCh,
		Progress: func(percent int, label string) {
			if percent < 0 {
				percent = 0
			} else if percent > 100 {
				percent = 100
			}
			if err := p.deps.Queue.UpdateProgress(execCtx, job.ID, percent, label); err != nil {
				log.Debug("progress update failed", slog.Any("error", err))
			}
			p.deps.Broadcast.Publish(userID, domain.JobProgress(job.ID, kind, percent, label))
		},
		Emit: func(evt domain.Event) {
			p.deps.Broadcast.Publish(userID, evt)
		},
		Recovery: &boundRecovery{store: p.deps.BotResults, userID: userID, kind: kind},
	}

	type handlerReturn struct {
		result any
		err    error
	}
	done := make(chan handlerReturn, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerReturn{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		result, herr := handler.Handle(execCtx, inv)
		done <- handlerReturn{result: result, err: herr}
	}()

	var ret handlerReturn
	select {
	case <-execCtx.Done():
		// Timeout and queue-side abort land here and are reported with the
		// same wording; the real cause goes to the log only.
		msg := fmt.Sprintf("Handler timeout after %dms for %s", timeout.Milliseconds(), kind)
		log.Warn("handler aborted",
			slog.Any("cause", context.Cause(execCtx)),
			slog.Duration("elapsed", time.Since(start)))
		observability.FailOperation(string(kind), time.Since(start))
		p.deps.Broadcast.Publish(userID, domain.JobFailed(job.ID, kind, msg))
		p.recordSyncEvent(ctx, log, job, domain.SyncEventError, map[string]any{
			"error":       msg,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		return Outcome{}, domain.Unrecoverable(errors.New(msg))
	case ret = <-done:
	}

	failMsg := ""
	if ret.err != nil {
		failMsg = ret.err.Error()
	} else if r, ok := ret.result.(domain.Result); ok {
		if reason, failed := r.Failed(); failed {
			failMsg = reason
			if failMsg == "" {
				failMsg = "Sync completed with failure"
			}
		}
	}

	if failMsg != "" {
		log.Warn("job failed", slog.String("error", failMsg), slog.Duration("elapsed", time.Since(start)))
		observability.FailOperation(string(kind), time.Since(start))
		p.deps.Broadcast.Publish(userID, domain.JobFailed(job.ID, kind, failMsg))
		p.recordSyncEvent(ctx, log, job, domain.SyncEventError, map[string]any{
			"error":       failMsg,
			"duration_ms": time.Since(start).Milliseconds(),
		})
		if ret.err != nil {
			return Outcome{}, fmt.Errorf("op=processor.execute: %w", ret.err)
		}
		// Logical failure from a result flag: plain error, the kind's retry
		// policy decides what happens next.
		return Outcome{}, fmt.Errorf("op=processor.execute: %s", failMsg)
	}

	releaseSuccess = true
	log.Info("job completed", slog.Duration("elapsed", time.Since(start)))
	observability.CompleteOperation(string(kind), time.Since(start))
	p.deps.Broadcast.Publish(userID, domain.JobCompleted(job.ID, kind, ret.result))
	p.recordSyncEvent(ctx, log, job, domain.SyncEventCompleted, map[string]any{
		"duration_ms": time.Since(start).Milliseconds(),
		"result":      ret.result,
	})
	return Outcome{Result: ret.result}, nil
}

func (p *Processor) timeoutFor(kind domain.OperationKind) time.Duration {
	if p.deps.Timeouts != nil {
		if d := p.deps.Timeouts(kind); d > 0 {
			return d
		}
	}
	return domain.Timeout(kind)
}

// recordSyncEvent appends a sync history row for sync-kind jobs. Store
// failures never fail the job; they are logged at warn and swallowed. The
// detached context lets the row land even when the delivery context is
// already cancelled.
func (p *Processor) recordSyncEvent(ctx context.Context, log *slog.Logger, job *domain.Job, eventType string, details map[string]any) {
	switch domain.Class(job.Kind) {
	case domain.ClassPerOrderSync, domain.ClassScheduledSync:
	default:
		return
	}
	if err := p.deps.SyncEvents.Record(context.WithoutCancel(ctx), job.UserID, job.Kind, eventType, details); err != nil {
		log.Warn("sync event not recorded",
			slog.String("event_type", eventType),
			slog.Any("error", err))
	}
}
