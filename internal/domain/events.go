package domain

import "time"

// EventType enumerates the lifecycle notifications pushed to office
// clients. For every delivery that reaches its handler the stream is one
// JOB_STARTED, zero or more JOB_PROGRESS, then exactly one terminal
// JOB_COMPLETED or JOB_FAILED.
type EventType string

const (
	EventJobStarted   EventType = "JOB_STARTED"
	EventJobProgress  EventType = "JOB_PROGRESS"
	EventJobCompleted EventType = "JOB_COMPLETED"
	EventJobFailed    EventType = "JOB_FAILED"
)

// EventTimeLayout is the wire format for event timestamps: UTC, ISO-8601
// with millisecond precision, matching what the office frontends parse.
const EventTimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Event is the broadcast envelope. Payload is one of the *Payload structs
// below for lifecycle events; handler-emitted domain events reuse the same
// envelope with their own payloads.
type Event struct {
	Type      EventType `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp string    `json:"timestamp"`
}

// NewEvent stamps an event envelope with the current UTC time.
func NewEvent(t EventType, payload any) Event {
	return Event{Type: t, Payload: payload, Timestamp: time.Now().UTC().Format(EventTimeLayout)}
}

// StartedPayload announces that a handler invocation began.
type StartedPayload struct {
	JobID string        `json:"jobId"`
	Kind  OperationKind `json:"kind"`
}

// ProgressPayload reports handler progress, 0 to 100, with an optional
// human-readable label shown verbatim in the office UI.
type ProgressPayload struct {
	JobID    string        `json:"jobId"`
	Kind     OperationKind `json:"kind"`
	Progress int           `json:"progress"`
	Label    string        `json:"label,omitempty"`
}

// CompletedPayload carries the handler result of a successful job.
type CompletedPayload struct {
	JobID  string        `json:"jobId"`
	Kind   OperationKind `json:"kind"`
	Result any           `json:"result"`
}

// FailedPayload carries the terminal error message of a failed job.
type FailedPayload struct {
	JobID string        `json:"jobId"`
	Kind  OperationKind `json:"kind"`
	Error string        `json:"error"`
}

// JobStarted builds a stamped JOB_STARTED event.
func JobStarted(jobID string, kind OperationKind) Event {
	return NewEvent(EventJobStarted, StartedPayload{JobID: jobID, Kind: kind})
}

// JobProgress builds a stamped JOB_PROGRESS event.
func JobProgress(jobID string, kind OperationKind, percent int, label string) Event {
	return NewEvent(EventJobProgress, ProgressPayload{JobID: jobID, Kind: kind, Progress: percent, Label: label})
}

// JobCompleted builds a stamped JOB_COMPLETED event.
func JobCompleted(jobID string, kind OperationKind, result any) Event {
	return NewEvent(EventJobCompleted, CompletedPayload{JobID: jobID, Kind: kind, Result: result})
}

// JobFailed builds a stamped JOB_FAILED event.
func JobFailed(jobID string, kind OperationKind, errMsg string) Event {
	return NewEvent(EventJobFailed, FailedPayload{JobID: jobID, Kind: kind, Error: errMsg})
}
