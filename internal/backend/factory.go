package backend

import (
	"context"
	"fmt"

	"vfcash/internal/log"
	"vfcash/internal/storage"
	"vfcash/internal/storage/memory"
	"vfcash/internal/storage/mongostore"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger) Factory {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &DefaultFactory{
		logger: logger.WithComponent(log.ComponentBackend),
	}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(config)
	case MongoBackend:
		return f.createMongoBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath, config.Capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	f.logger.Info("Initialized SQLite backend",
		"db_path", config.SQLiteDBPath,
		"capacity", storage.NormalizeCapacity(config.Capacity))

	return &BackendResult{
		Transactions: repo,
		Limits:       repo,
		Probe:        repo.Ping,
		Cleanup:      func(context.Context) error { return repo.Close() },
		Shared:       true,
	}, nil
}

func (f *DefaultFactory) createMongoBackend(ctx context.Context, config Config) (*BackendResult, error) {
	store, err := mongostore.Connect(ctx, config.MongoURI, config.MongoDatabase, config.Capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Mongo store: %w", err)
	}

	f.logger.Info("Initialized Mongo backend",
		"database", config.MongoDatabase,
		"capacity", storage.NormalizeCapacity(config.Capacity))

	return &BackendResult{
		Transactions: store,
		Limits:       store,
		Probe:        store.Ping,
		Cleanup:      store.Close,
		Shared:       true,
	}, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	capacity := storage.NormalizeCapacity(config.Capacity)

	f.logger.Info("Initialized memory backend", "capacity", capacity)

	return &BackendResult{
		Transactions: memory.NewTransactionStore(capacity),
		Limits:       memory.NewLimitsStore(),
	}, nil
}
