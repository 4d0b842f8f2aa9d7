package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vfcash/internal/core"
)

// EventType names a store change.
type EventType string

const (
	EventTransactionsUpserted EventType = "transactions.upserted"
	EventTransactionsCleared  EventType = "transactions.cleared"
	EventLimitsUpdated        EventType = "limits.updated"
)

// Event is published after every successful mutation. Upserted events
// carry the records that were written; limits events carry the new limits.
type Event struct {
	ID           string             `json:"id"`
	Type         EventType          `json:"type"`
	Timestamp    time.Time          `json:"timestamp"`
	Transactions []core.Transaction `json:"transactions,omitempty"`
	Limits       *core.Limits       `json:"limits,omitempty"`
}

func newEvent(t EventType) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: time.Now().UTC(),
	}
}

func NewTransactionsUpserted(txs []core.Transaction) *Event {
	e := newEvent(EventTransactionsUpserted)
	e.Transactions = txs
	return e
}

func NewTransactionsCleared() *Event {
	return newEvent(EventTransactionsCleared)
}

func NewLimitsUpdated(l core.Limits) *Event {
	e := newEvent(EventLimitsUpdated)
	e.Limits = &l
	return e
}

// ToJSON converts the event to JSON bytes
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// EventFromJSON decodes an event and rejects unknown types
func EventFromJSON(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	switch e.Type {
	case EventTransactionsUpserted, EventTransactionsCleared:
	case EventLimitsUpdated:
		if e.Limits == nil {
			return nil, fmt.Errorf("event %s: missing limits", e.ID)
		}
	default:
		return nil, fmt.Errorf("event %s: unknown type %q", e.ID, e.Type)
	}
	return &e, nil
}
