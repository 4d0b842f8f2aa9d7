package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"vfcash/internal/amqp"
	"vfcash/internal/core"
	"vfcash/internal/log"
	"vfcash/internal/storage"
)

// LimitsService reads and replaces the limits record.
type LimitsService struct {
	mu        sync.Mutex
	store     storage.LimitsStore
	publisher EventPublisher
	usage     Invalidator
	logger    *log.Logger
}

func NewLimitsService(store storage.LimitsStore, publisher EventPublisher, usage Invalidator, logger *log.Logger) *LimitsService {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &LimitsService{
		store:     store,
		publisher: publisher,
		usage:     usage,
		logger:    logger.WithComponent(log.ComponentLimits),
	}
}

func (s *LimitsService) Get(ctx context.Context) (core.Limits, error) {
	l, err := s.store.Get(ctx)
	if err != nil {
		return core.Limits{}, fmt.Errorf("get limits: %w", err)
	}
	return l, nil
}

// Update validates raw and replaces the stored limits wholesale. On any
// validation failure the store is left untouched.
func (s *LimitsService) Update(ctx context.Context, raw json.RawMessage) (core.Limits, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, err := core.ValidateLimits(raw)
	if err != nil {
		return core.Limits{}, err
	}
	stored, err := s.store.Replace(ctx, l)
	if err != nil {
		return core.Limits{}, fmt.Errorf("replace limits: %w", err)
	}

	s.logger.InfoContext(ctx, "Limits updated",
		log.FieldOperation, log.OpReplace,
		"daily_transfer", stored.DailyTransferLimit.String(),
		"monthly_transfer", stored.MonthlyTransferLimit.String(),
		"daily_receive", stored.DailyReceiveLimit.String(),
		"monthly_receive", stored.MonthlyReceiveLimit.String())

	if s.usage != nil {
		s.usage.Invalidate()
	}
	publish(ctx, s.logger, s.publisher, amqp.NewLimitsUpdated(stored))
	return stored, nil
}
