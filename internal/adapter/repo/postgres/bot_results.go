package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
)

// BotResultRepo stores ERP-side outcomes of irreversible operations so a
// crash between the ERP write and the local commit leaves a recoverable
// marker. One row per (user_id, kind, operation_key); Save overwrites.
type BotResultRepo struct{ Pool PgxPool }

// NewBotResultRepo constructs a BotResultRepo with the given pool.
func NewBotResultRepo(p PgxPool) *BotResultRepo { return &BotResultRepo{Pool: p} }

// Check returns the saved payload, or nil when no marker exists.
func (r *BotResultRepo) Check(ctx domain.Context, userID string, kind domain.OperationKind, operationKey string) (json.RawMessage, error) {
	tracer := otel.Tracer("repo.bot_results")
	ctx, span := tracer.Start(ctx, "bot_results.Check")
	defer span.End()
	span.SetAttributes(attribute.String("operation.kind", string(kind)))
	q := `SELECT payload FROM bot_results WHERE user_id=$1 AND kind=$2 AND operation_key=$3`
	var payload []byte
	if err := r.Pool.QueryRow(ctx, q, userID, string(kind), operationKey).Scan(&payload); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("op=bot_results.check: %w", err)
	}
	return json.RawMessage(payload), nil
}

// Save upserts the marker for (userID, kind, operationKey).
func (r *BotResultRepo) Save(ctx domain.Context, userID string, kind domain.OperationKind, operationKey string, payload any) error {
	tracer := otel.Tracer("repo.bot_results")
	ctx, span := tracer.Start(ctx, "bot_results.Save")
	defer span.End()
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("op=bot_results.save: %w", err)
	}
	q := `INSERT INTO bot_results (user_id, kind, operation_key, payload, created_at)
	      VALUES ($1,$2,$3,$4,$5)
	      ON CONFLICT (user_id, kind, operation_key)
	      DO UPDATE SET payload=EXCLUDED.payload, created_at=EXCLUDED.created_at`
	if _, err := r.Pool.Exec(ctx, q, userID, string(kind), operationKey, b, time.Now().UTC()); err != nil {
		return fmt.Errorf("op=bot_results.save: %w", err)
	}
	return nil
}

// Clear removes the marker; clearing a missing marker is a no-op.
func (r *BotResultRepo) Clear(ctx domain.Context, userID string, kind domain.OperationKind, operationKey string) error {
	tracer := otel.Tracer("repo.bot_results")
	ctx, span := tracer.Start(ctx, "bot_results.Clear")
	defer span.End()
	q := `DELETE FROM bot_results WHERE user_id=$1 AND kind=$2 AND operation_key=$3`
	if _, err := r.Pool.Exec(ctx, q, userID, string(kind), operationKey); err != nil {
		return fmt.Errorf("op=bot_results.clear: %w", err)
	}
	return nil
}
