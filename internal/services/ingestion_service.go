package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"vfcash/internal/amqp"
	"vfcash/internal/core"
	"vfcash/internal/log"
	"vfcash/internal/storage"
)

// IngestionService validates and stores transactions. Each mutation runs
// under one mutex so concurrent requests observe whole operations.
type IngestionService struct {
	mu        sync.Mutex
	store     storage.TransactionStore
	publisher EventPublisher
	usage     Invalidator
	logger    *log.Logger
	loc       *time.Location
}

func NewIngestionService(store storage.TransactionStore, publisher EventPublisher, usage Invalidator, logger *log.Logger, loc *time.Location) *IngestionService {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if loc == nil {
		loc = time.UTC
	}
	return &IngestionService{
		store:     store,
		publisher: publisher,
		usage:     usage,
		logger:    logger.WithComponent(log.ComponentIngestion),
		loc:       loc,
	}
}

func (s *IngestionService) List(ctx context.Context) ([]core.Transaction, error) {
	txs, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

// IngestOne validates a single raw record and upserts it.
func (s *IngestionService) IngestOne(ctx context.Context, raw json.RawMessage) (storage.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := core.ValidateTransaction(raw)
	if err != nil {
		return storage.UpsertResult{}, err
	}
	return s.upsertOneLocked(ctx, tx)
}

// IngestMany validates every record and, only when all pass, applies them
// as one batch. Validation failures are reported as *core.BatchValidationError.
func (s *IngestionService) IngestMany(ctx context.Context, raws []json.RawMessage) (storage.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txs, err := core.ValidateBatch(raws)
	if err != nil {
		return storage.BatchResult{}, err
	}
	for _, tx := range txs {
		s.warnPhone(ctx, tx)
	}

	res, err := s.store.UpsertMany(ctx, txs)
	if err != nil {
		return storage.BatchResult{}, fmt.Errorf("upsert batch: %w", err)
	}

	s.logger.InfoContext(ctx, "Transaction batch stored",
		log.NewFields().WithOperation(log.OpBulk).WithBatch(res.Added, res.Updated, res.Total).ToSlice()...)

	s.afterMutation(ctx, amqp.NewTransactionsUpserted(txs))
	return res, nil
}

// IngestSMS parses a VF-Cash SMS, runs the result through the validator and upserts it.
func (s *IngestionService) IngestSMS(ctx context.Context, message string, receivedAt time.Time) (core.Transaction, storage.UpsertResult, error) {
	parsed, err := core.ParseSMS(message, receivedAt, s.loc)
	if err != nil {
		return core.Transaction{}, storage.UpsertResult{}, err
	}
	raw, err := json.Marshal(parsed)
	if err != nil {
		return core.Transaction{}, storage.UpsertResult{}, fmt.Errorf("encode parsed sms: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := core.ValidateTransaction(raw)
	if err != nil {
		return core.Transaction{}, storage.UpsertResult{}, err
	}
	res, err := s.upsertOneLocked(ctx, tx)
	if err != nil {
		return core.Transaction{}, storage.UpsertResult{}, err
	}
	return tx, res, nil
}

// Clear removes every stored transaction.
func (s *IngestionService) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear transactions: %w", err)
	}
	s.logger.InfoContext(ctx, "All transactions cleared", log.FieldOperation, log.OpClear)
	s.afterMutation(ctx, amqp.NewTransactionsCleared())
	return nil
}

func (s *IngestionService) upsertOneLocked(ctx context.Context, tx core.Transaction) (storage.UpsertResult, error) {
	s.warnPhone(ctx, tx)

	res, err := s.store.UpsertOne(ctx, tx)
	if err != nil {
		return storage.UpsertResult{}, fmt.Errorf("upsert transaction %s: %w", tx.ID, err)
	}

	fields := log.NewFields().
		WithOperation(log.OpUpsert).
		WithTransaction(tx.ID, string(tx.Type), tx.Amount.String(), tx.PhoneNumber)
	fields[log.FieldTotal] = res.Total
	fields["inserted"] = res.Inserted
	s.logger.InfoContext(ctx, "Transaction stored", fields.ToSlice()...)

	s.afterMutation(ctx, amqp.NewTransactionsUpserted([]core.Transaction{tx}))
	return res, nil
}

func (s *IngestionService) warnPhone(ctx context.Context, tx core.Transaction) {
	if !tx.HasNationalPhoneNumber() {
		s.logger.WarnContext(ctx, "Phone number does not match national mobile format",
			log.FieldTransactionID, tx.ID,
			log.FieldPhoneNumber, tx.PhoneNumber)
	}
}

func (s *IngestionService) afterMutation(ctx context.Context, event *amqp.Event) {
	if s.usage != nil {
		s.usage.Invalidate()
	}
	publish(ctx, s.logger, s.publisher, event)
}

// publish sends event when a publisher is configured. Failures are logged only.
func publish(ctx context.Context, logger *log.Logger, publisher EventPublisher, event *amqp.Event) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish event",
			log.FieldError, err,
			log.FieldEventType, string(event.Type),
			log.FieldEventID, event.ID)
	}
}
