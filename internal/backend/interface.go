package backend

import (
	"context"

	"vfcash/internal/storage"
)

// CleanupFunc releases backend resources
type CleanupFunc func(ctx context.Context) error

// BackendResult contains the stores and optional cleanup function
type BackendResult struct {
	Transactions storage.TransactionStore
	Limits       storage.LimitsStore
	// Probe reports backend readiness; nil when the backend is always ready.
	Probe   func(ctx context.Context) error
	Cleanup CleanupFunc
	// Shared is true when other processes see the same data.
	Shared bool
}

// Close runs Cleanup when set
func (r *BackendResult) Close(ctx context.Context) error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup(ctx)
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type     BackendType
	Capacity int

	// SQLite specific
	SQLiteDBPath string

	// Mongo specific
	MongoURI      string
	MongoDatabase string
}

// BackendType represents the type of backend
type BackendType string

const (
	MemoryBackend BackendType = "memory"
	SQLiteBackend BackendType = "sqlite"
	MongoBackend  BackendType = "mongo"
)

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, MongoBackend:
		return true
	default:
		return false
	}
}
