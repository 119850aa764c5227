package main

import (
	"context"

	"github.com/sawpanic/markout/internal/persistence/postgres"
)

// openDatabase loads the database config and connects when persistence
// is enabled. The returned manager is inert otherwise, so callers can
// branch on Enabled without nil checks.
func openDatabase(ctx context.Context, path string) (*postgres.Manager, error) {
	cfg, err := postgres.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return postgres.NewManager(ctx, cfg)
}
