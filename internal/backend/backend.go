// Package backend opens the single store a process runs on: SQLite,
// PostgreSQL documents, or the in-memory store seeded from a file.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"paytrack/internal/config"
	"paytrack/internal/store"
)

type BackendType string

const (
	SQLiteBackend   BackendType = "sqlite"
	PostgresBackend BackendType = "postgres"
	MemoryBackend   BackendType = "memory"
)

// backendTypes is the DATA_BACKEND vocabulary in documented order.
var backendTypes = []BackendType{SQLiteBackend, PostgresBackend, MemoryBackend}

func (bt BackendType) String() string { return string(bt) }

func (bt BackendType) IsValid() bool {
	for _, known := range backendTypes {
		if bt == known {
			return true
		}
	}
	return false
}

// TypeNames lists the accepted DATA_BACKEND values.
func TypeNames() []string {
	names := make([]string, len(backendTypes))
	for i, bt := range backendTypes {
		names[i] = bt.String()
	}
	return names
}

// Config carries only the settings of the selected backend that matter.
type Config struct {
	Type           BackendType
	SQLiteDBPath   string
	DatabaseURL    string
	ClientSeedFile string // memory only; empty means no clients
}

// FromAppConfig picks the backend settings out of the process config.
func FromAppConfig(cfg *config.Config) (Config, error) {
	if cfg == nil {
		return Config{}, errors.New("backend: nil config")
	}
	bc := Config{
		Type:           BackendType(strings.ToLower(strings.TrimSpace(cfg.DataBackend))),
		SQLiteDBPath:   cfg.SQLiteDBPath,
		DatabaseURL:    cfg.DatabaseURL,
		ClientSeedFile: cfg.ClientSeedFile,
	}
	if !bc.Type.IsValid() {
		return Config{}, fmt.Errorf("backend: DATA_BACKEND %q is not one of %s", cfg.DataBackend, strings.Join(TypeNames(), ", "))
	}
	return bc, nil
}

// Validate checks that the selected backend has what it needs to open.
func (c Config) Validate() error {
	var missing string
	switch c.Type {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			missing = "SQLITE_DB_PATH"
		}
	case PostgresBackend, MemoryBackend:
		// an empty DATABASE_URL opens an unavailable store
	default:
		return fmt.Errorf("backend: unknown type %q", c.Type)
	}
	if missing != "" {
		return fmt.Errorf("backend: %s is required for %s", missing, c.Type)
	}
	return nil
}

// CleanupFunc releases the backend's resources.
type CleanupFunc func() error

// BackendResult is an opened store plus how to release it.
type BackendResult struct {
	Store   store.Store
	Type    BackendType
	Cleanup CleanupFunc
}

type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}
