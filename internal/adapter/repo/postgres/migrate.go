package postgres

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib" // register the pgx database/sql driver for goose
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const migrationsDir = "migrations"

func openForMigration(dsn string) (*goose.Provider, error) {
	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("op=postgres.migrate: open: %w", err)
	}
	fsys, err := fs.Sub(migrationsFS, migrationsDir)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("op=postgres.migrate: fs: %w", err)
	}
	p, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("op=postgres.migrate: provider: %w", err)
	}
	return p, nil
}

// Migrate applies all pending migrations.
func Migrate(ctx context.Context, dsn string) error {
	p, err := openForMigration(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()
	results, err := p.Up(ctx)
	if err != nil {
		return fmt.Errorf("op=postgres.migrate: up: %w", err)
	}
	for _, r := range results {
		if !r.Empty {
			slog.Info("migration applied",
				slog.String("source", r.Source.Path),
				slog.Duration("took", r.Duration))
		}
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func MigrateDown(ctx context.Context, dsn string) error {
	p, err := openForMigration(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()
	if _, err := p.Down(ctx); err != nil {
		return fmt.Errorf("op=postgres.migrate: down: %w", err)
	}
	return nil
}

// MigrationStatus prints each migration with its applied state.
func MigrationStatus(ctx context.Context, dsn string) error {
	p, err := openForMigration(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()
	statuses, err := p.Status(ctx)
	if err != nil {
		return fmt.Errorf("op=postgres.migrate: status: %w", err)
	}
	for _, st := range statuses {
		applied := "pending"
		if st.State == goose.StateApplied {
			applied = st.AppliedAt.UTC().Format("2006-01-02 15:04:05")
		}
		slog.Info("migration status",
			slog.String("source", st.Source.Path),
			slog.String("applied", applied))
	}
	return nil
}
