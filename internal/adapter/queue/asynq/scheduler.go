package asynqadp

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"gopkg.in/yaml.v3"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
)

// ScheduleEntry is one periodic sync registration: which sync, for which
// agent, on what cron spec ("*/30 * * * *" or "@every 30m").
type ScheduleEntry struct {
	Kind   string `yaml:"kind"`
	UserID string `yaml:"user_id"`
	Cron   string `yaml:"cron"`
}

// Schedule is the parsed sync schedule file.
type Schedule struct {
	Syncs []ScheduleEntry `yaml:"syncs"`
}

// LoadSchedule reads and validates the YAML sync schedule.
func LoadSchedule(path string) (Schedule, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Schedule{}, fmt.Errorf("op=queue.schedule: %w", err)
	}
	var s Schedule
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Schedule{}, fmt.Errorf("op=queue.schedule: %w", err)
	}
	if err := s.validate(); err != nil {
		return Schedule{}, err
	}
	return s, nil
}

func (s Schedule) validate() error {
	for i, e := range s.Syncs {
		kind := domain.OperationKind(e.Kind)
		if !domain.Valid(kind) || !domain.IsScheduledSync(kind) {
			return fmt.Errorf("op=queue.schedule: entry %d: kind %q is not a scheduled sync: %w", i, e.Kind, domain.ErrInvalidArgument)
		}
		if e.UserID == "" {
			return fmt.Errorf("op=queue.schedule: entry %d: missing user_id: %w", i, domain.ErrInvalidArgument)
		}
		if e.Cron == "" {
			return fmt.Errorf("op=queue.schedule: entry %d: missing cron spec: %w", i, domain.ErrInvalidArgument)
		}
	}
	return nil
}

// Scheduler enqueues the periodic sync jobs. Scheduler-born tasks carry no
// idempotency key; each run is a fresh job and contention with a running
// operation resolves through the usual requeue path.
type Scheduler struct {
	sched *asynq.Scheduler
}

// NewScheduler registers every schedule entry with an asynq scheduler.
func NewScheduler(redisURL string, schedule Schedule) (*Scheduler, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("op=queue.scheduler: redis: %w", err)
	}
	sched := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Location: time.UTC,
		PostEnqueueFunc: func(info *asynq.TaskInfo, err error) {
			if err != nil {
				slog.Error("scheduled sync enqueue failed", slog.Any("error", err))
				return
			}
			slog.Debug("scheduled sync enqueued",
				slog.String("task_id", info.ID),
				slog.String("queue", info.Queue))
		},
	})
	for _, e := range schedule.Syncs {
		kind := domain.OperationKind(e.Kind)
		payload, err := envelope{Kind: kind, UserID: e.UserID}.marshal()
		if err != nil {
			return nil, err
		}
		_, err = sched.Register(e.Cron, asynq.NewTask(taskType(kind), payload),
			asynq.Queue(string(kind)),
			asynq.MaxRetry(domain.MaxRetry(kind)),
			asynq.Timeout(domain.Timeout(kind)+executionSlack),
			asynq.Retention(defaultRetention),
		)
		if err != nil {
			return nil, fmt.Errorf("op=queue.scheduler: register %s for %s: %w", e.Kind, e.UserID, err)
		}
	}
	return &Scheduler{sched: sched}, nil
}

// Start launches the scheduler loop; it returns once running.
func (s *Scheduler) Start() error {
	if err := s.sched.Start(); err != nil {
		return fmt.Errorf("op=queue.scheduler: start: %w", err)
	}
	return nil
}

// Shutdown stops the scheduler.
func (s *Scheduler) Shutdown() { s.sched.Shutdown() }
