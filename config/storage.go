package config

import "fmt"

// StorageConfig defines the storage backend for run state
type StorageConfig struct {
	Backend string `hcl:"backend,optional"` // "memory", "sqlite" or "postgres"
	Path    string `hcl:"path,optional"`    // SQLite file path (default: ".sortie/runs.db")
	DSN     string `hcl:"dsn,optional"`     // Postgres connection string
}

// Defaults fills in default values for unset fields
func (s *StorageConfig) Defaults() {
	if s.Backend == "" {
		s.Backend = "sqlite"
	}
	if s.Path == "" {
		s.Path = ".sortie/runs.db"
	}
}

func (s *StorageConfig) Validate() error {
	switch s.Backend {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown backend '%s' (expected memory, sqlite or postgres)", s.Backend)
	}
	if s.Backend == "postgres" && s.DSN == "" {
		return fmt.Errorf("postgres backend requires dsn")
	}
	return nil
}
