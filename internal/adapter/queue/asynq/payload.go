// Package asynqadp adapts the asynq task queue to the domain's Queue
// port. Every operation kind gets its own asynq queue whose weight
// encodes the registry priority, so a single strict-priority server
// drains writes before reads before scheduled syncs.
package asynqadp

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
)

// taskTypePrefix namespaces operation tasks in asynq. The full task type
// is "op:<kind>".
const taskTypePrefix = "op:"

func taskType(kind domain.OperationKind) string {
	return taskTypePrefix + string(kind)
}

// kindFromTaskType recovers the operation kind from an asynq task type.
func kindFromTaskType(taskType string) (domain.OperationKind, bool) {
	s, ok := strings.CutPrefix(taskType, taskTypePrefix)
	if !ok {
		return "", false
	}
	kind := domain.OperationKind(s)
	return kind, domain.Valid(kind)
}

// envelope is the wire payload of one operation task. Data is carried
// opaque so the handler receives exactly the bytes the client enqueued,
// no matter how often the job was requeued.
type envelope struct {
	Kind           domain.OperationKind `json:"kind"`
	UserID         string               `json:"user_id"`
	Data           json.RawMessage      `json:"data,omitempty"`
	IdempotencyKey string               `json:"idempotency_key"`
	RequeueCount   int                  `json:"requeue_count,omitempty"`
	EnqueuedAt     time.Time            `json:"enqueued_at,omitzero"`
}

func (e envelope) marshal() ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("op=queue.envelope: %w", err)
	}
	return b, nil
}

func decodeEnvelope(payload []byte) (envelope, error) {
	var e envelope
	if err := json.Unmarshal(payload, &e); err != nil {
		return envelope{}, fmt.Errorf("op=queue.envelope: %w", err)
	}
	return e, nil
}

// taskIDFor derives the asynq task id. The idempotency key is the id of
// the first delivery; requeued replacements get a "#r<n>" suffix so they
// never collide with their retained predecessor while staying traceable
// to the origin.
func taskIDFor(idemKey string, requeueCount int) string {
	if requeueCount <= 0 {
		return idemKey
	}
	return fmt.Sprintf("%s#r%d", idemKey, requeueCount)
}

// synthesizeKey builds an idempotency key for enqueues that did not
// supply one. Uniqueness per agent and kind at millisecond granularity is
// enough: an agent's clients do not legitimately fire identical
// operations faster than that.
func synthesizeKey(kind domain.OperationKind, userID string, now time.Time) string {
	return fmt.Sprintf("%s:%s:%d", kind, userID, now.UnixMilli())
}
