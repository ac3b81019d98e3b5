package store

import (
	"fmt"
	"os"
	"path/filepath"

	"sortie/config"
)

// NewTracker creates a run tracker based on the storage configuration
func NewTracker(cfg *config.StorageConfig) (Tracker, error) {
	if cfg == nil {
		return NewMemoryTracker(), nil
	}

	switch cfg.Backend {
	case "sqlite":
		// Ensure directory exists
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create storage directory %s: %w", dir, err)
		}
		return NewSQLiteTracker(cfg.Path)

	case "postgres":
		return NewPostgresTracker(cfg.DSN)

	case "memory":
		return NewMemoryTracker(), nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (expected 'memory', 'sqlite' or 'postgres')", cfg.Backend)
	}
}
