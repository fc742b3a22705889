package app

import (
	"context"
	"fmt"
)

// Pinger is the minimal interface shared by the database pool, the queue
// adapter and the bot-runner client for readiness probing.
type Pinger interface{ Ping(ctx context.Context) error }

// BuildReadinessChecks returns the three readiness checks: database, queue
// Redis and bot runner. A nil collaborator yields a check that always
// fails, so a misconfigured process never reports ready.
func BuildReadinessChecks(db, queue, runner Pinger) (
	func(ctx context.Context) error,
	func(ctx context.Context) error,
	func(ctx context.Context) error,
) {
	check := func(name string, p Pinger) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			if p == nil {
				return fmt.Errorf("%s not configured", name)
			}
			return p.Ping(ctx)
		}
	}
	return check("db", db), check("queue", queue), check("bot runner", runner)
}
