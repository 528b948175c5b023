package cli

import (
	"context"
	"fmt"

	"github.com/ralphctl/ralph/internal/db"
)

// openDatabase opens the configured SQLite store and runs migrations.
// Read commands use it directly; control commands go through the daemon.
func openDatabase() (*db.DB, error) {
	cfg := GetConfig()
	if cfg == nil {
		return nil, fmt.Errorf("configuration not loaded")
	}

	database, err := db.Open(db.Config{
		Path:          cfg.DatabasePath(),
		MaxOpenConns:  cfg.Database.MaxConnections,
		BusyTimeoutMs: cfg.Database.BusyTimeoutMs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := database.Migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return database, nil
}
