package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrBusClosed is returned by Publish and Subscribe after Close.
var ErrBusClosed = errors.New("event bus is closed")

const defaultMemoryBuffer = 1024

// Memory is a single-process Bus. Publish order is the delivery order for
// every group; acknowledgements are no-ops since nothing is redelivered.
type Memory struct {
	mu     sync.Mutex
	pubMu  sync.Mutex
	groups map[string]chan Delivery
	buffer int
	closed bool
}

// NewMemory creates an in-memory bus with the given per-group channel buffer
// (<= 0 selects the default).
func NewMemory(buffer int) *Memory {
	if buffer <= 0 {
		buffer = defaultMemoryBuffer
	}
	return &Memory{
		groups: make(map[string]chan Delivery),
		buffer: buffer,
	}
}

// Publish delivers the event to every subscribed group in order. Publish
// blocks when a group's buffer is full rather than dropping the event.
func (m *Memory) Publish(ctx context.Context, ev PositionChanged) error {
	if ev.EventID == "" {
		ev.EventID = uuid.New().String()
	}

	// A single lock across the full fan-out keeps deliveries ordered even
	// with concurrent publishers.
	m.pubMu.Lock()
	defer m.pubMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrBusClosed
	}
	channels := make([]chan Delivery, 0, len(m.groups))
	for _, ch := range m.groups {
		channels = append(channels, ch)
	}
	m.mu.Unlock()

	d := Delivery{
		Event: ev,
		Ack:   func(context.Context) error { return nil },
	}
	for _, ch := range channels {
		select {
		case ch <- d:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe registers a group and returns its delivery channel. Subscribing
// the same group twice returns the existing channel.
func (m *Memory) Subscribe(_ context.Context, group string) (<-chan Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrBusClosed
	}
	if ch, ok := m.groups[group]; ok {
		return ch, nil
	}
	ch := make(chan Delivery, m.buffer)
	m.groups[group] = ch
	return ch, nil
}

// Close closes every group channel. Pending buffered deliveries remain
// readable until drained.
func (m *Memory) Close() error {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	for _, ch := range m.groups {
		close(ch)
	}
	return nil
}
