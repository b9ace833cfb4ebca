package database

import (
	"fmt"
	"path/filepath"

	"guidesync/internal/config"
	"guidesync/internal/guide"
)

// NewStoreFromConfig creates a Store implementation based on the database config type.
// The database file is per-device so two devices syncing the same account
// never share local queue state.
func NewStoreFromConfig(cfg config.DatabaseConfig, deviceID string) (guide.Store, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		dbPath := filepath.Join(cfg.DataDir, deviceID+".db")
		return NewSQLiteStore(dbPath)
	case "memory":
		return NewSQLiteStore(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
