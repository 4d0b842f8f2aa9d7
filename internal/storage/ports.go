// Package storage holds the transaction and limits store ports and the
// sqlite backend. Other backends live in subpackages.
package storage

import (
	"context"

	"vfcash/internal/core"
)

// DefaultCapacity is the number of transactions retained when no capacity is configured.
const DefaultCapacity = 1000

type (
	// UpsertResult reports the outcome of a single upsert.
	UpsertResult struct {
		Inserted bool
		Total    int
	}

	// BatchResult reports the outcome of a batch upsert.
	BatchResult struct {
		Added   int
		Updated int
		Total   int
	}

	// TransactionStore keeps transactions newest-first, unique by id and
	// bounded by a capacity. Stores do not validate.
	TransactionStore interface {
		List(ctx context.Context) ([]core.Transaction, error)
		UpsertOne(ctx context.Context, tx core.Transaction) (UpsertResult, error)
		UpsertMany(ctx context.Context, txs []core.Transaction) (BatchResult, error)
		Clear(ctx context.Context) error
		Count(ctx context.Context) (int, error)
	}

	// LimitsStore holds the single limits record.
	LimitsStore interface {
		Get(ctx context.Context) (core.Limits, error)
		Replace(ctx context.Context, l core.Limits) (core.Limits, error)
	}

	// Pinger is implemented by backends that can report readiness.
	Pinger interface {
		Ping(ctx context.Context) error
	}
)

// NormalizeCapacity maps non-positive values to DefaultCapacity.
func NormalizeCapacity(n int) int {
	if n <= 0 {
		return DefaultCapacity
	}
	return n
}
