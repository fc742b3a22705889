package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
)

// SyncEventRepo appends and reads the per-agent sync history.
type SyncEventRepo struct{ Pool PgxPool }

// NewSyncEventRepo constructs a SyncEventRepo with the given pool.
func NewSyncEventRepo(p PgxPool) *SyncEventRepo { return &SyncEventRepo{Pool: p} }

// Record appends one history row. Details may be nil.
func (r *SyncEventRepo) Record(ctx domain.Context, userID string, syncType domain.OperationKind, eventType string, details any) error {
	tracer := otel.Tracer("repo.sync_events")
	ctx, span := tracer.Start(ctx, "sync_events.Record")
	defer span.End()
	span.SetAttributes(
		attribute.String("sync.type", string(syncType)),
		attribute.String("sync.event", eventType),
	)
	var detailsJSON []byte
	if details != nil {
		b, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("op=sync_events.record: %w", err)
		}
		detailsJSON = b
	}
	q := `INSERT INTO sync_events (id, user_id, sync_type, event_type, details, created_at) VALUES ($1,$2,$3,$4,$5,$6)`
	if _, err := r.Pool.Exec(ctx, q, uuid.New().String(), userID, string(syncType), eventType, detailsJSON, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=sync_events.record: %w", err)
	}
	return nil
}

// Recent returns the newest rows for one agent, newest first.
func (r *SyncEventRepo) Recent(ctx domain.Context, userID string, limit int) ([]domain.SyncEvent, error) {
	tracer := otel.Tracer("repo.sync_events")
	ctx, span := tracer.Start(ctx, "sync_events.Recent")
	defer span.End()
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	q := `SELECT id, user_id, sync_type, event_type, COALESCE(details, 'null'::jsonb), created_at
	      FROM sync_events WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("op=sync_events.recent: %w", err)
	}
	defer rows.Close()
	var out []domain.SyncEvent
	for rows.Next() {
		var ev domain.SyncEvent
		var syncType string
		var details []byte
		if err := rows.Scan(&ev.ID, &ev.UserID, &syncType, &ev.EventType, &details, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=sync_events.recent: %w", err)
		}
		ev.SyncType = domain.OperationKind(syncType)
		if len(details) > 0 && string(details) != "null" {
			ev.Details = json.RawMessage(details)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=sync_events.recent: %w", err)
	}
	return out, nil
}
