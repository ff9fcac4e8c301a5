// Package bus provides the ordered, at-least-once position-change event
// channel between the external entity registry and the stat recalculation
// consumers. Two implementations are provided: an in-memory bus for
// single-process deployments and tests, and a Redis Streams bus for
// multi-instance deployments.
package bus

import (
	"context"

	"github.com/geofleet/geostats-worker/internal/geo"
)

// PositionChanged is the inbound change event. A nil Previous marks an entity
// entering the population for the first time. Sequence is the per-entity
// event sequence number assigned by the external registry; consumers use it
// to discard redeliveries.
type PositionChanged struct {
	EventID  string     `json:"event_id"`
	EntityID string     `json:"entity_id"`
	Previous *geo.Point `json:"previous,omitempty"`
	Current  geo.Point  `json:"current"`
	Sequence uint64     `json:"sequence"`
}

// Delivery wraps a received event with its acknowledgement. At-least-once
// delivery means an unacked event may be delivered again.
type Delivery struct {
	Event PositionChanged
	Ack   func(ctx context.Context) error
}

// Bus carries PositionChanged events. Every subscribed group receives every
// published event, in publish order, at least once.
type Bus interface {
	// Publish appends one event. An empty EventID is assigned at publish.
	Publish(ctx context.Context, ev PositionChanged) error

	// Subscribe returns the delivery channel for a named group. The channel
	// closes once the bus is closed; consumers also honor their own context.
	Subscribe(ctx context.Context, group string) (<-chan Delivery, error)

	// Close stops delivery and releases resources.
	Close() error
}
