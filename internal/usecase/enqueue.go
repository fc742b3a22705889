// Package usecase contains the application services behind the HTTP API:
// admission of new operations and the observational job surface.
package usecase

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
)

// DefaultMaxDataBytes caps the enqueue payload when no limit is configured.
const DefaultMaxDataBytes = 256 << 10

// EnqueueService admits operations into the queue. It owns boundary
// validation: the kind must be registered, the agent named, the payload
// under the size cap. Everything past this point trusts the envelope.
type EnqueueService struct {
	Queue        domain.Queue
	MaxDataBytes int64
}

// NewEnqueueService constructs an EnqueueService; maxDataBytes <= 0 falls
// back to DefaultMaxDataBytes.
func NewEnqueueService(q domain.Queue, maxDataBytes int64) EnqueueService {
	if maxDataBytes <= 0 {
		maxDataBytes = DefaultMaxDataBytes
	}
	return EnqueueService{Queue: q, MaxDataBytes: maxDataBytes}
}

// Enqueue validates and queues one operation, returning the job id. An
// empty idemKey lets the queue synthesise one; a caller-supplied key makes
// the call idempotent.
func (s EnqueueService) Enqueue(ctx domain.Context, kind domain.OperationKind, userID string, data json.RawMessage, idemKey string, delay time.Duration) (string, error) {
	tracer := otel.Tracer("usecase.enqueue")
	ctx, span := tracer.Start(ctx, "enqueue.Enqueue")
	defer span.End()
	span.SetAttributes(attribute.String("operation.kind", string(kind)))

	if !domain.Valid(kind) {
		return "", fmt.Errorf("op=enqueue: unknown kind %q: %w", kind, domain.ErrInvalidArgument)
	}
	if userID == "" {
		return "", fmt.Errorf("op=enqueue: empty user id: %w", domain.ErrInvalidArgument)
	}
	if int64(len(data)) > s.MaxDataBytes {
		return "", fmt.Errorf("op=enqueue: payload %d bytes over the %d byte cap: %w", len(data), s.MaxDataBytes, domain.ErrInvalidArgument)
	}
	if delay < 0 {
		delay = 0
	}

	jobID, err := s.Queue.Enqueue(ctx, kind, userID, data, idemKey, domain.EnqueueOptions{Delay: delay})
	if err != nil {
		return "", err
	}
	slog.Info("operation enqueued",
		slog.String("job_id", jobID),
		slog.String("kind", string(kind)),
		slog.String("user_id", userID),
		slog.Duration("delay", delay))
	return jobID, nil
}
