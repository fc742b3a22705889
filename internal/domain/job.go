package domain

import (
	"encoding/json"
	"time"
)

// JobState describes where a job currently sits in the queue.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateDelayed   JobState = "delayed"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Job is the queue envelope for one operation delivery. Data travels
// byte-for-byte from enqueue to handler; RequeueCount lives on the
// envelope so contention bookkeeping can never leak into handler input.
type Job struct {
	ID             string
	Kind           OperationKind
	UserID         string
	Data           json.RawMessage
	IdempotencyKey string
	RequeueCount   int
	EnqueuedAt     time.Time
}

// EnqueueOptions carries the optional knobs of Queue.Enqueue.
type EnqueueOptions struct {
	// Delay postpones the first delivery.
	Delay time.Duration
	// RequeueCount seeds the envelope counter; only the processor sets it
	// when it re-enqueues a job that lost the agent lock.
	RequeueCount int
}

// Progress is the queue-side progress record of an active job.
type Progress struct {
	Percent   int       `json:"percent"`
	Label     string    `json:"label,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// JobInfo is the observational view of a job for status endpoints. It is
// assembled from queue state and the progress record; it never exposes
// internal queue bookkeeping beyond what clients need.
type JobInfo struct {
	ID             string          `json:"id"`
	Kind           OperationKind   `json:"kind"`
	UserID         string          `json:"user_id"`
	State          JobState        `json:"state"`
	Queue          string          `json:"queue"`
	RequeueCount   int             `json:"requeue_count"`
	Retried        int             `json:"retried"`
	MaxRetry       int             `json:"max_retry"`
	EnqueuedAt     time.Time       `json:"enqueued_at"`
	NextRunAt      time.Time       `json:"next_run_at,omitzero"`
	CompletedAt    time.Time       `json:"completed_at,omitzero"`
	LastError      string          `json:"last_error,omitempty"`
	Result         json.RawMessage `json:"result,omitempty"`
	Progress       Progress        `json:"progress"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// StateCounts aggregates jobs by state for one queue or for the whole
// system.
type StateCounts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Delayed   int `json:"delayed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// JobCounts is the per-kind and aggregate queue census.
type JobCounts struct {
	Total  StateCounts                   `json:"total"`
	ByKind map[OperationKind]StateCounts `json:"by_kind"`
}
