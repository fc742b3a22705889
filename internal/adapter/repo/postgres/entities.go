package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/domain"
)

// entityTables maps entity names the sync and write handlers use to their
// backing tables. The allowlist is fixed; anything else is rejected so a
// payload can never pick a table.
var entityTables = map[string]string{
	"customers": "customers",
	"orders":    "orders",
	"ddt":       "ddt",
	"invoices":  "invoices",
	"products":  "products",
	"prices":    "prices",
}

// EntityRepo persists the agent-local mirrors of ERP data. Rows are stored
// verbatim as JSONB documents keyed by (user_id, id); the scheduler never
// interprets them.
type EntityRepo struct{ Pool PgxPool }

// NewEntityRepo constructs an EntityRepo with the given pool.
func NewEntityRepo(p PgxPool) *EntityRepo { return &EntityRepo{Pool: p} }

// UpsertEntities writes one page of rows in a single transaction.
func (r *EntityRepo) UpsertEntities(ctx domain.Context, entity, userID string, rows []domain.EntityRow) error {
	table, ok := entityTables[entity]
	if !ok {
		return fmt.Errorf("op=entities.upsert: entity %q: %w", entity, domain.ErrInvalidArgument)
	}
	if len(rows) == 0 {
		return nil
	}
	tracer := otel.Tracer("repo.entities")
	ctx, span := tracer.Start(ctx, "entities.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("entity", entity), attribute.Int("rows", len(rows)))

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=entities.upsert: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := fmt.Sprintf(`INSERT INTO %s (user_id, id, data, updated_at)
	      VALUES ($1,$2,$3,$4)
	      ON CONFLICT (user_id, id)
	      DO UPDATE SET data=EXCLUDED.data, updated_at=EXCLUDED.updated_at`, table)
	now := time.Now().UTC()
	for _, row := range rows {
		if row.ID == "" {
			return fmt.Errorf("op=entities.upsert: %s row without id: %w", entity, domain.ErrInvalidArgument)
		}
		data := []byte(row.Data)
		if len(data) == 0 {
			data = []byte("{}")
		}
		if _, err := tx.Exec(ctx, q, userID, row.ID, data, now); err != nil {
			return fmt.Errorf("op=entities.upsert: %s: %w", entity, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=entities.upsert: commit: %w", err)
	}
	return nil
}

// DeleteEntity removes one mirrored row; deleting a missing row is a no-op.
func (r *EntityRepo) DeleteEntity(ctx domain.Context, entity, userID, id string) error {
	table, ok := entityTables[entity]
	if !ok {
		return fmt.Errorf("op=entities.delete: entity %q: %w", entity, domain.ErrInvalidArgument)
	}
	tracer := otel.Tracer("repo.entities")
	ctx, span := tracer.Start(ctx, "entities.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("entity", entity))

	q := fmt.Sprintf(`DELETE FROM %s WHERE user_id=$1 AND id=$2`, table)
	if _, err := r.Pool.Exec(ctx, q, userID, id); err != nil {
		return fmt.Errorf("op=entities.delete: %s: %w", entity, err)
	}
	return nil
}

// ReplaceOrderArticles swaps the article lines of one order atomically:
// the old lines are gone and the new ones visible in the same transaction.
func (r *EntityRepo) ReplaceOrderArticles(ctx domain.Context, userID, orderID string, rows []domain.EntityRow) error {
	tracer := otel.Tracer("repo.entities")
	ctx, span := tracer.Start(ctx, "entities.ReplaceOrderArticles")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID), attribute.Int("rows", len(rows)))

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=entities.replace_articles: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM order_articles WHERE user_id=$1 AND order_id=$2`, userID, orderID); err != nil {
		return fmt.Errorf("op=entities.replace_articles: delete: %w", err)
	}
	q := `INSERT INTO order_articles (user_id, order_id, id, data, updated_at)
	      VALUES ($1,$2,$3,$4,$5)`
	now := time.Now().UTC()
	for _, row := range rows {
		if row.ID == "" {
			return fmt.Errorf("op=entities.replace_articles: row without id: %w", domain.ErrInvalidArgument)
		}
		data := []byte(row.Data)
		if len(data) == 0 {
			data = []byte("{}")
		}
		if _, err := tx.Exec(ctx, q, userID, orderID, row.ID, data, now); err != nil {
			return fmt.Errorf("op=entities.replace_articles: insert: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=entities.replace_articles: commit: %w", err)
	}
	return nil
}
