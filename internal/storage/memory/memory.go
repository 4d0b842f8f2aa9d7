// Package memory provides process-lifetime transaction and limits stores.
package memory

import (
	"context"
	"sync"

	"vfcash/internal/core"
	"vfcash/internal/storage"
)

// TransactionStore keeps records oldest-to-newest internally so inserts
// append and trimming drops from the head.
type TransactionStore struct {
	mu       sync.RWMutex
	items    []core.Transaction
	index    map[string]int
	capacity int
}

func NewTransactionStore(capacity int) *TransactionStore {
	return &TransactionStore{
		index:    make(map[string]int),
		capacity: storage.NormalizeCapacity(capacity),
	}
}

// List returns a newest-first copy.
func (s *TransactionStore) List(_ context.Context) ([]core.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Transaction, len(s.items))
	for i, tx := range s.items {
		out[len(s.items)-1-i] = tx
	}
	return out, nil
}

func (s *TransactionStore) UpsertOne(_ context.Context, tx core.Transaction) (storage.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := s.upsert(tx)
	s.trim()
	return storage.UpsertResult{Inserted: inserted, Total: len(s.items)}, nil
}

func (s *TransactionStore) UpsertMany(_ context.Context, txs []core.Transaction) (storage.BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var res storage.BatchResult
	for _, tx := range txs {
		if s.upsert(tx) {
			res.Added++
		} else {
			res.Updated++
		}
	}
	s.trim()
	res.Total = len(s.items)
	return res, nil
}

func (s *TransactionStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = nil
	s.index = make(map[string]int)
	return nil
}

func (s *TransactionStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items), nil
}

func (s *TransactionStore) Ping(context.Context) error { return nil }

// upsert must be called with mu held.
func (s *TransactionStore) upsert(tx core.Transaction) bool {
	if i, ok := s.index[tx.ID]; ok {
		s.items[i] = tx
		return false
	}
	s.index[tx.ID] = len(s.items)
	s.items = append(s.items, tx)
	return true
}

// trim drops the oldest records beyond capacity. Must be called with mu held.
func (s *TransactionStore) trim() {
	excess := len(s.items) - s.capacity
	if excess <= 0 {
		return
	}
	for _, tx := range s.items[:excess] {
		delete(s.index, tx.ID)
	}
	kept := make([]core.Transaction, s.capacity)
	copy(kept, s.items[excess:])
	s.items = kept
	for i, tx := range s.items {
		s.index[tx.ID] = i
	}
}

// LimitsStore holds limits in memory, starting from core.DefaultLimits.
type LimitsStore struct {
	mu     sync.RWMutex
	limits core.Limits
}

func NewLimitsStore() *LimitsStore {
	return &LimitsStore{limits: core.DefaultLimits()}
}

func (s *LimitsStore) Get(_ context.Context) (core.Limits, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.limits, nil
}

func (s *LimitsStore) Replace(_ context.Context, l core.Limits) (core.Limits, error) {
	if err := l.Validate(); err != nil {
		return core.Limits{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.limits = l
	return l, nil
}
