package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vfcash/internal/cache"
	"vfcash/internal/core"
	"vfcash/internal/log"
	"vfcash/internal/storage"
)

const (
	usageCacheSize = 32
	usageCacheTTL  = 5 * time.Minute
)

// UsageService computes limit usage summaries and caches them per day.
type UsageService struct {
	txs    storage.TransactionStore
	limits storage.LimitsStore
	loc    *time.Location
	cache  *cache.LRUCache[core.UsageSummary]
	logger *log.Logger
	now    func() time.Time

	// cacheMu orders cache writes against Invalidate. generation is bumped
	// on every invalidation so summaries computed before it are not cached.
	cacheMu    sync.Mutex
	generation uint64
}

func NewUsageService(txs storage.TransactionStore, limits storage.LimitsStore, loc *time.Location, logger *log.Logger) *UsageService {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if loc == nil {
		loc = time.UTC
	}
	return &UsageService{
		txs:    txs,
		limits: limits,
		loc:    loc,
		cache:  cache.NewLRUCache[core.UsageSummary](usageCacheSize, usageCacheTTL),
		logger: logger.WithComponent(log.ComponentUsage),
		now:    time.Now,
	}
}

// Cache exposes the summary cache so it can be registered for expiry sweeps.
func (s *UsageService) Cache() *cache.LRUCache[core.UsageSummary] {
	return s.cache
}

// Invalidate drops all cached summaries.
func (s *UsageService) Invalidate() {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.generation++
	s.cache.Purge()
}

func (s *UsageService) currentGeneration() uint64 {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.generation
}

// storeIfCurrent caches summary unless an invalidation happened since gen.
func (s *UsageService) storeIfCurrent(gen uint64, key string, summary core.UsageSummary) bool {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	if s.generation != gen {
		return false
	}
	s.cache.Set(key, summary)
	return true
}

// Today returns the current day in the usage timezone.
func (s *UsageService) Today() time.Time {
	return s.now().In(s.loc)
}

// ParseDay parses a YYYY-MM-DD reference day in the usage timezone. An
// empty string means today.
func (s *UsageService) ParseDay(day string) (time.Time, error) {
	if day == "" {
		return s.Today(), nil
	}
	t, err := time.ParseInLocation(core.DayLayout, day, s.loc)
	if err != nil {
		return time.Time{}, core.NewValidationError("Invalid date parameter")
	}
	return t, nil
}

// Summary returns the usage for the calendar day and month of ref.
func (s *UsageService) Summary(ctx context.Context, ref time.Time) (core.UsageSummary, error) {
	ref = ref.In(s.loc)
	key := ref.Format(core.DayLayout)
	if cached, ok := s.cache.Get(key); ok {
		s.logger.DebugContext(ctx, "Usage cache hit", "day", key)
		return cached, nil
	}

	gen := s.currentGeneration()
	txs, err := s.txs.List(ctx)
	if err != nil {
		return core.UsageSummary{}, fmt.Errorf("list transactions: %w", err)
	}
	limits, err := s.limits.Get(ctx)
	if err != nil {
		return core.UsageSummary{}, fmt.Errorf("get limits: %w", err)
	}

	summary := core.ComputeUsage(txs, limits, ref)
	if !s.storeIfCurrent(gen, key, summary) {
		s.logger.DebugContext(ctx, "Usage invalidated during computation, not caching", "day", key)
	}
	return summary, nil
}
