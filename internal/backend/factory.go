package backend

import (
	"context"
	"fmt"

	"paytrack/internal/docstore"
	"paytrack/internal/log"
	"paytrack/internal/storage"
	"paytrack/internal/store"
	"paytrack/internal/store/memory"
)

type DefaultFactory struct {
	logger *log.Logger
}

func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.Default(log.ComponentBackend)
	}
	return &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
}

// opener opens one kind of store and returns the attributes worth logging.
type opener func(ctx context.Context, cfg Config, logger *log.Logger) (st store.Store, attrs []any, err error)

var openers = map[BackendType]opener{
	SQLiteBackend:   openSQLite,
	PostgresBackend: openPostgres,
	MemoryBackend:   openMemory,
}

// CreateBackend opens the configured store. The caller owns Cleanup.
func (f *DefaultFactory) CreateBackend(ctx context.Context, cfg Config) (*BackendResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	open, ok := openers[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("backend: no opener for %s", cfg.Type)
	}

	st, attrs, err := open(ctx, cfg, f.logger)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.Type, err)
	}
	f.logger.Info("Backend ready", append([]any{"backend", cfg.Type.String()}, attrs...)...)
	return &BackendResult{Store: st, Type: cfg.Type, Cleanup: st.Close}, nil
}

func openSQLite(_ context.Context, cfg Config, _ *log.Logger) (store.Store, []any, error) {
	st, err := storage.NewSQLiteStore(cfg.SQLiteDBPath)
	if err != nil {
		return nil, nil, err
	}
	return st, []any{"db_path", cfg.SQLiteDBPath}, nil
}

// openPostgres never fails: an unreachable or unconfigured server leaves the
// process running with reads empty and writes failing until it comes back.
func openPostgres(ctx context.Context, cfg Config, logger *log.Logger) (store.Store, []any, error) {
	st := docstore.Connect(ctx, cfg.DatabaseURL, logger)
	return st, []any{"configured", cfg.DatabaseURL != ""}, nil
}

func openMemory(ctx context.Context, cfg Config, _ *log.Logger) (store.Store, []any, error) {
	st := memory.NewFromFile(cfg.ClientSeedFile)
	clients, err := st.ListClients(ctx)
	if err != nil {
		return nil, nil, err
	}
	return st, []any{"seed_file", cfg.ClientSeedFile, "clients", len(clients)}, nil
}
