package worker

import (
	"context"
	"fmt"
	"slices"

	"vfcash/internal/amqp"
	"vfcash/internal/log"
	"vfcash/internal/sheets"
	"vfcash/internal/storage"
)

// MirrorWorker applies change events to a TransactionMirror.
type MirrorWorker struct {
	mirror sheets.TransactionMirror
	txs    storage.TransactionStore
	limits storage.LimitsStore
	logger *log.Logger
}

// NewMirrorWorker creates a worker. txs and limits are optional; when set,
// Resync can rebuild the mirror from a shared backend.
func NewMirrorWorker(mirror sheets.TransactionMirror, txs storage.TransactionStore, limits storage.LimitsStore, logger *log.Logger) *MirrorWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &MirrorWorker{
		mirror: mirror,
		txs:    txs,
		limits: limits,
		logger: logger.WithComponent(log.ComponentWorker),
	}
}

// HandleEvent processes a single change event from AMQP
func (w *MirrorWorker) HandleEvent(ctx context.Context, event *amqp.Event) error {
	w.logger.InfoContext(ctx, "Processing event",
		log.FieldEventID, event.ID,
		log.FieldEventType, string(event.Type),
		log.FieldCount, len(event.Transactions))

	switch event.Type {
	case amqp.EventTransactionsUpserted:
		if err := w.mirror.UpsertTransactions(ctx, event.Transactions); err != nil {
			return fmt.Errorf("mirror upsert: %w", err)
		}
	case amqp.EventTransactionsCleared:
		if err := w.mirror.ClearTransactions(ctx); err != nil {
			return fmt.Errorf("mirror clear: %w", err)
		}
	case amqp.EventLimitsUpdated:
		if event.Limits == nil {
			return fmt.Errorf("limits event %s has no limits", event.ID)
		}
		if err := w.mirror.WriteLimits(ctx, *event.Limits); err != nil {
			return fmt.Errorf("mirror limits: %w", err)
		}
	default:
		w.logger.WarnContext(ctx, "Ignoring unknown event type",
			log.FieldEventID, event.ID,
			log.FieldEventType, string(event.Type))
	}
	return nil
}

// Resync rebuilds the mirror from the stores. It recovers from events
// missed while the worker was down and is a no-op without stores.
func (w *MirrorWorker) Resync(ctx context.Context) error {
	if w.txs == nil {
		w.logger.InfoContext(ctx, "No shared store configured, skipping startup resync")
		return nil
	}

	txs, err := w.txs.List(ctx)
	if err != nil {
		return fmt.Errorf("list transactions for resync: %w", err)
	}
	if err := w.mirror.ClearTransactions(ctx); err != nil {
		return fmt.Errorf("clear mirror for resync: %w", err)
	}
	// the mirror keeps insertion order, the store lists newest first
	slices.Reverse(txs)
	if err := w.mirror.UpsertTransactions(ctx, txs); err != nil {
		return fmt.Errorf("mirror transactions for resync: %w", err)
	}

	if w.limits != nil {
		l, err := w.limits.Get(ctx)
		if err != nil {
			return fmt.Errorf("get limits for resync: %w", err)
		}
		if err := w.mirror.WriteLimits(ctx, l); err != nil {
			return fmt.Errorf("mirror limits for resync: %w", err)
		}
	}

	w.logger.InfoContext(ctx, "Startup resync completed",
		log.FieldOperation, log.OpMirror,
		log.FieldTotal, len(txs))
	return nil
}
