// Package services runs the validate, store, invalidate and publish sequence
// behind each API operation.
package services

import (
	"context"

	"vfcash/internal/amqp"
)

// EventPublisher sends change events. A nil publisher disables events.
type EventPublisher interface {
	Publish(ctx context.Context, event *amqp.Event) error
}

// Invalidator drops derived state after a mutation.
type Invalidator interface {
	Invalidate()
}
