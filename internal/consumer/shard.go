// Package consumer implements the stat recalculation tier: a pool of sharded
// workers that fold PositionChanged events into running moments accumulators.
//
// Shards own pairs, not entities: the unordered entity-ID pair {A,B} hashes
// to exactly one shard, so each pair has a single owning accumulator and the
// total accumulator work for one event stays O(N) across the pool. Every
// shard consumes the full event stream under its own bus group and maintains
// its own position table; it touches its accumulator only for the pairs it
// owns.
package consumer

import (
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/geofleet/geostats-worker/internal/bus"
	"github.com/geofleet/geostats-worker/internal/geo"
	"github.com/geofleet/geostats-worker/internal/registry"
	"github.com/geofleet/geostats-worker/internal/stats"
)

// Discard reasons reported by Shard.Apply.
const (
	DiscardDuplicate = "duplicate"
	DiscardUnhealthy = "unhealthy"
)

// ApplyResult describes what one event did to a shard.
type ApplyResult struct {
	Applied  bool
	Reason   string // set when not applied
	Admits   int
	Retracts int
	Entities int // position table size after the event
}

// Shard owns one accumulator and the pairs that hash to it. A shard is
// mutated by exactly one worker goroutine; the mutex exists so the query
// path can copy a consistent accumulator state while a fan-out is not in
// progress.
type Shard struct {
	id     int
	total  int
	radius float64

	mu         sync.Mutex
	acc        *stats.Moments
	positions  map[string]geo.Point
	watermarks map[string]uint64
	healthy    bool
}

func newShard(id, total, order int, radius float64) *Shard {
	return &Shard{
		id:         id,
		total:      total,
		radius:     radius,
		acc:        stats.New(order),
		positions:  make(map[string]geo.Point),
		watermarks: make(map[string]uint64),
		healthy:    true,
	}
}

// ID returns the shard's index within the pool.
func (s *Shard) ID() int {
	return s.id
}

// Apply folds one position change into the shard: for every other live
// entity whose pair with the moved entity this shard owns, the old distance
// is retracted (unless the event marks a new entity) and the new distance
// admitted. The full fan-out runs under the shard lock so readers never
// observe a half-applied event.
//
// Redelivered events at or behind the entity's sequence watermark are
// discarded. A failed retract marks the shard unhealthy: its accumulator can
// no longer be trusted and must be rebuilt via Reseed.
func (s *Shard) Apply(ev bus.PositionChanged) (ApplyResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if wm, ok := s.watermarks[ev.EntityID]; ok && ev.Sequence <= wm {
		return ApplyResult{Reason: DiscardDuplicate, Entities: len(s.positions)}, nil
	}

	if !s.healthy {
		// The accumulator is frozen pending a reseed, but the position
		// table and watermarks stay current so the reseed has a complete
		// picture.
		s.positions[ev.EntityID] = ev.Current
		s.watermarks[ev.EntityID] = ev.Sequence
		return ApplyResult{Reason: DiscardUnhealthy, Entities: len(s.positions)}, nil
	}

	var res ApplyResult
	for id, pos := range s.positions {
		if id == ev.EntityID || pairOwner(id, ev.EntityID, s.total) != s.id {
			continue
		}
		if ev.Previous != nil {
			if err := s.acc.Retract(geo.DistanceOn(s.radius, *ev.Previous, pos)); err != nil {
				s.healthy = false
				return ApplyResult{}, fmt.Errorf("shard %d: retracting pair {%s,%s}: %w", s.id, ev.EntityID, id, err)
			}
			res.Retracts++
		}
		s.acc.Admit(geo.DistanceOn(s.radius, ev.Current, pos))
		res.Admits++
	}

	s.positions[ev.EntityID] = ev.Current
	s.watermarks[ev.EntityID] = ev.Sequence
	res.Applied = true
	res.Entities = len(s.positions)
	return res, nil
}

// State copies the accumulator and health flag atomically with respect to
// Apply, so a query never reads a torn accumulator.
func (s *Shard) State() (stats.Moments, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.acc, s.healthy
}

// Healthy reports whether the shard's accumulator is trustworthy.
func (s *Shard) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.healthy
}

// Reseed rebuilds the shard from an authoritative position snapshot:
// position table and watermarks are replaced, the accumulator is recomputed
// over the shard's owned pairs, and the shard is marked healthy again.
func (s *Shard) Reseed(entities []registry.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.positions = make(map[string]geo.Point, len(entities))
	s.watermarks = make(map[string]uint64, len(entities))
	s.acc.Reset()

	for _, e := range entities {
		s.positions[e.ID] = e.Position
		s.watermarks[e.ID] = e.Sequence
	}
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			if pairOwner(entities[i].ID, entities[j].ID, s.total) != s.id {
				continue
			}
			s.acc.Admit(geo.DistanceOn(s.radius, entities[i].Position, entities[j].Position))
		}
	}
	s.healthy = true
}

// pairOwner maps an unordered entity-ID pair to its owning shard.
func pairOwner(a, b string, total int) int {
	if total <= 1 {
		return 0
	}
	if b < a {
		a, b = b, a
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(a))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(b))
	return int(h.Sum64() % uint64(total))
}
