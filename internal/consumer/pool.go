package consumer

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/geofleet/geostats-worker/internal/bus"
	"github.com/geofleet/geostats-worker/internal/observability"
	"github.com/geofleet/geostats-worker/internal/registry"
	"github.com/geofleet/geostats-worker/internal/stats"
)

// Config holds consumer pool settings.
type Config struct {
	// Shards is the number of independent accumulator shards (>= 1).
	Shards int

	// Order is the moment order to track (stats.OrderVariance or
	// stats.OrderKurtosis).
	Order int

	// RadiusKM is the sphere radius used for distance calculations.
	RadiusKM float64
}

// ShardState is a consistent copy of one shard's accumulator.
type ShardState struct {
	ID      int
	Moments stats.Moments
	Healthy bool
}

// Pool runs one worker goroutine per shard, each consuming the full event
// stream under its own bus group.
type Pool struct {
	shards  []*Shard
	bus     bus.Bus
	metrics *observability.Collector
	log     zerolog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool creates the shards. Start must be called before events flow.
func NewPool(cfg Config, b bus.Bus, metrics *observability.Collector, log zerolog.Logger) *Pool {
	if cfg.Shards < 1 {
		cfg.Shards = 1
	}
	p := &Pool{
		bus:     b,
		metrics: metrics,
		log:     log,
	}
	for i := 0; i < cfg.Shards; i++ {
		p.shards = append(p.shards, newShard(i, cfg.Shards, cfg.Order, cfg.RadiusKM))
	}
	return p
}

// Start subscribes every shard to the bus and launches its worker.
func (p *Pool) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for _, s := range p.shards {
		ch, err := p.bus.Subscribe(runCtx, fmt.Sprintf("shard-%d", s.id))
		if err != nil {
			cancel()
			return fmt.Errorf("failed to subscribe shard %d: %w", s.id, err)
		}
		p.wg.Add(1)
		go p.run(runCtx, s, ch)
	}

	p.log.Info().Int("shards", len(p.shards)).Msg("Consumer pool started")
	return nil
}

// run is the single writer for its shard. Events for the shard are processed
// strictly in arrival order; an in-flight event's full fan-out completes
// before shutdown is honored.
func (p *Pool) run(ctx context.Context, s *Shard, ch <-chan bus.Delivery) {
	defer p.wg.Done()
	label := strconv.Itoa(s.id)

	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-ch:
			if !ok {
				return
			}
			res, err := s.Apply(d.Event)
			switch {
			case err != nil:
				// The accumulator's invariants are broken; the shard is
				// excluded from queries until reseeded. Never swallowed.
				p.log.Error().
					Err(err).
					Int("shard", s.id).
					Str("entity_id", d.Event.EntityID).
					Uint64("sequence", d.Event.Sequence).
					Msg("Accumulator inconsistency, shard marked unhealthy")
				p.metrics.UnhealthyShards.Set(float64(p.unhealthyCount()))
			case !res.Applied:
				p.metrics.EventsDiscarded.WithLabelValues(label, res.Reason).Inc()
			default:
				p.metrics.EventsProcessed.WithLabelValues(label).Inc()
				p.metrics.PairUpdates.WithLabelValues(label, "admit").Add(float64(res.Admits))
				p.metrics.PairUpdates.WithLabelValues(label, "retract").Add(float64(res.Retracts))
				p.metrics.LiveEntities.WithLabelValues(label).Set(float64(res.Entities))
			}

			if ackErr := d.Ack(ctx); ackErr != nil && ctx.Err() == nil {
				p.log.Warn().Err(ackErr).Int("shard", s.id).Msg("Failed to ack event")
			}
		}
	}
}

// States returns a consistent copy of every shard's accumulator.
func (p *Pool) States() []ShardState {
	states := make([]ShardState, 0, len(p.shards))
	for _, s := range p.shards {
		m, healthy := s.State()
		states = append(states, ShardState{ID: s.id, Moments: m, Healthy: healthy})
	}
	return states
}

// ShardCount returns the number of shards.
func (p *Pool) ShardCount() int {
	return len(p.shards)
}

// Reseed rebuilds one shard from a position snapshot. It returns false when
// the shard index is out of range.
func (p *Pool) Reseed(id int, entities []registry.Entity) bool {
	if id < 0 || id >= len(p.shards) {
		return false
	}
	p.shards[id].Reseed(entities)
	p.metrics.UnhealthyShards.Set(float64(p.unhealthyCount()))
	p.log.Info().Int("shard", id).Int("entities", len(entities)).Msg("Shard reseeded")
	return true
}

// ReseedAll rebuilds every shard from a position snapshot (warm start).
func (p *Pool) ReseedAll(entities []registry.Entity) {
	for _, s := range p.shards {
		s.Reseed(entities)
	}
	p.metrics.UnhealthyShards.Set(float64(p.unhealthyCount()))
	p.log.Info().Int("entities", len(entities)).Msg("All shards reseeded from snapshot")
}

func (p *Pool) unhealthyCount() int {
	n := 0
	for _, s := range p.shards {
		if !s.Healthy() {
			n++
		}
	}
	return n
}

// Shutdown stops the workers, letting any in-flight event finish its full
// fan-out first.
func (p *Pool) Shutdown(timeout time.Duration) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout exceeded")
	}
}
