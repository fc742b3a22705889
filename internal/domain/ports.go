package domain

import (
	"encoding/json"
	"time"
)

// Queue (port)
//
// Enqueue returns the job id. An empty idemKey tells the adapter to
// synthesise one; a caller-supplied key makes the enqueue idempotent and a
// duplicate returns the original job id without error.
type Queue interface {
	Enqueue(ctx Context, kind OperationKind, userID string, data json.RawMessage, idemKey string, opts EnqueueOptions) (string, error)
	// CancelJob removes a queued job or signals cancellation to an active
	// one. It reports whether a job was found; missing jobs are not errors.
	CancelJob(ctx Context, jobID string) (bool, error)
	GetJob(ctx Context, jobID string) (JobInfo, error)
	GetJobsForAgent(ctx Context, userID string) ([]JobInfo, error)
	GetJobCounts(ctx Context) (JobCounts, error)
	// UpdateProgress records the queue-side progress of an active job.
	UpdateProgress(ctx Context, jobID string, percent int, label string) error
}

// AcquireOptions qualifies a browser context acquisition.
type AcquireOptions struct {
	// FromQueue marks acquisitions made by the processor on behalf of a
	// queued job, as opposed to interactive debugging sessions.
	FromQueue bool
}

// BrowserContext is an authenticated ERP browser session leased from the
// pool. Handlers treat it as an opaque handle scoping their bot-runner
// calls.
type BrowserContext interface {
	SessionID() string
	UserID() string
}

// BrowserPool owns the per-agent browser sessions. The agent lock already
// guarantees at most one running job per agent, so a leased context is
// exclusively owned by that job until Release.
type BrowserPool interface {
	Acquire(ctx Context, userID string, opts AcquireOptions) (BrowserContext, error)
	// Release returns the context to the pool. success=false tells the pool
	// the session may be poisoned (timeout, crash mid-navigation) and must
	// be discarded instead of reused.
	Release(userID string, h BrowserContext, success bool)
	MarkInUse(userID string)
	MarkIdle(userID string)
}

// Broadcaster pushes events to connected office clients. Delivery is
// one-way and best-effort: implementations must never block or fail the
// caller.
type Broadcaster interface {
	Publish(userID string, evt Event)
}

// BotResultStore persists ERP-side outcomes of irreversible operations so
// a crash between the ERP write and the local commit is recoverable. Keys
// are (userID, kind, operationKey).
type BotResultStore interface {
	// Check returns the saved payload, or nil when none exists.
	Check(ctx Context, userID string, kind OperationKind, operationKey string) (json.RawMessage, error)
	Save(ctx Context, userID string, kind OperationKind, operationKey string, payload any) error
	Clear(ctx Context, userID string, kind OperationKind, operationKey string) error
}

// Sync event taxonomy recorded after every sync-* job.
const (
	SyncEventCompleted = "sync_completed"
	SyncEventError     = "sync_error"
)

// SyncEvent is one row of the per-agent sync history.
type SyncEvent struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	SyncType  OperationKind   `json:"sync_type"`
	EventType string          `json:"event_type"`
	Details   json.RawMessage `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// SyncEventStore appends and reads the sync history. Record failures are
// swallowed by the processor (logged at warn); they must never fail a job.
type SyncEventStore interface {
	Record(ctx Context, userID string, syncType OperationKind, eventType string, details any) error
	Recent(ctx Context, userID string, limit int) ([]SyncEvent, error)
}

// EntityRow is one business row mirrored from the ERP. The document is
// stored verbatim; the scheduler never interprets it.
type EntityRow struct {
	ID   string          `json:"id"`
	Data json.RawMessage `json:"data"`
}

// EntityStore persists the agent-local mirrors the sync handlers fill and
// the write handlers catch up after an ERP mutation. Entity names select a
// fixed table (customers, orders, ddt, invoices, products, prices);
// implementations reject anything else.
type EntityStore interface {
	UpsertEntities(ctx Context, entity, userID string, rows []EntityRow) error
	DeleteEntity(ctx Context, entity, userID, id string) error
	// ReplaceOrderArticles swaps the article lines of one order atomically.
	ReplaceOrderArticles(ctx Context, userID, orderID string, rows []EntityRow) error
}
