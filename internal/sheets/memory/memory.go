package memory

import (
	"context"
	"sync"

	"vfcash/internal/core"
	ports "vfcash/internal/sheets"
)

var _ ports.TransactionMirror = (*Mirror)(nil)

// Mirror is an in-process TransactionMirror used when no spreadsheet is configured.
type Mirror struct {
	mu     sync.Mutex
	order  []string
	rows   map[string]core.Transaction
	limits *core.Limits
	writes int
}

func New() *Mirror {
	return &Mirror{rows: make(map[string]core.Transaction)}
}

// UpsertTransactions replaces rows by id and appends unknown ids.
func (m *Mirror) UpsertTransactions(_ context.Context, txs []core.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, tx := range txs {
		if _, ok := m.rows[tx.ID]; !ok {
			m.order = append(m.order, tx.ID)
		}
		m.rows[tx.ID] = tx
	}
	m.writes++
	return nil
}

func (m *Mirror) ClearTransactions(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.order = nil
	m.rows = make(map[string]core.Transaction)
	m.writes++
	return nil
}

func (m *Mirror) WriteLimits(_ context.Context, l core.Limits) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limits = &l
	m.writes++
	return nil
}

// Rows returns mirrored transactions in first-seen order.
func (m *Mirror) Rows() []core.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.Transaction, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.rows[id])
	}
	return out
}

// Limits returns the last written limits, if any.
func (m *Mirror) Limits() (core.Limits, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limits == nil {
		return core.Limits{}, false
	}
	return *m.limits, true
}

// Writes counts mirror operations applied.
func (m *Mirror) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}
