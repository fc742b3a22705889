// Command migrate runs database migrations as a separate deploy step, for
// environments where the server starts with AUTO_MIGRATE=false.
//
// Usage: migrate [up|down|status]
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/H4tholdir/archibaldblackant-sub012/internal/adapter/observability"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/adapter/repo/postgres"
	"github.com/H4tholdir/archibaldblackant-sub012/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	slog.SetDefault(observability.SetupLogger(cfg))

	cmd := "up"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	ctx := context.Background()
	switch cmd {
	case "up":
		err = postgres.Migrate(ctx, cfg.DBURL)
	case "down":
		err = postgres.MigrateDown(ctx, cfg.DBURL)
	case "status":
		err = postgres.MigrationStatus(ctx, cfg.DBURL)
	default:
		fmt.Fprintf(os.Stderr, "usage: %s [up|down|status]\n", os.Args[0])
		os.Exit(2)
	}
	if err != nil {
		slog.Error("migration failed", slog.String("command", cmd), slog.Any("error", err))
		os.Exit(1)
	}
}
