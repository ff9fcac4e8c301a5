// Package query answers "what are the current aggregate statistics" by
// merging consistent snapshots of every shard accumulator.
package query

import (
	"errors"
	"fmt"
	"time"

	"github.com/geofleet/geostats-worker/internal/consumer"
	"github.com/geofleet/geostats-worker/internal/observability"
	"github.com/geofleet/geostats-worker/internal/stats"
)

// ErrPartialDataUnavailable is returned under the fail policy when one or
// more shards cannot contribute a trustworthy accumulator.
var ErrPartialDataUnavailable = errors.New("one or more shards unavailable")

// Policy decides how a query behaves when a shard is unavailable.
type Policy string

const (
	// PolicyFail fails the whole query rather than answer with a silently
	// incomplete aggregate.
	PolicyFail Policy = "fail"

	// PolicyBestEffort merges the available shards and tags the result
	// as partial.
	PolicyBestEffort Policy = "best-effort"
)

// ParsePolicy validates a policy string.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case PolicyFail, PolicyBestEffort:
		return Policy(s), nil
	default:
		return "", fmt.Errorf("unknown partial-read policy %q", s)
	}
}

// ShardSource provides consistent copies of shard accumulator state.
type ShardSource interface {
	States() []consumer.ShardState
}

// Result is a merged statistics snapshot. Partial is true only under the
// best-effort policy when at least one shard was excluded.
type Result struct {
	stats.Statistics
	Partial bool
}

// Service merges shard accumulators on read.
type Service struct {
	source  ShardSource
	policy  Policy
	order   int
	metrics *observability.Collector
}

// NewService creates a query service over the given shard source.
func NewService(source ShardSource, policy Policy, order int, metrics *observability.Collector) *Service {
	return &Service{source: source, policy: policy, order: order, metrics: metrics}
}

// Current tree-reduces the shard accumulators into one statistics snapshot.
// Merge order does not matter; each shard's copy was taken under its lock, so
// no torn accumulator can contribute.
func (s *Service) Current() (Result, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.QueryDuration.Observe(time.Since(start).Seconds())
		}
	}()

	merged := stats.New(s.order)
	partial := false
	for _, state := range s.source.States() {
		if !state.Healthy {
			if s.policy == PolicyFail {
				return Result{}, fmt.Errorf("%w: shard %d unhealthy", ErrPartialDataUnavailable, state.ID)
			}
			partial = true
			continue
		}
		merged.Merge(state.Moments)
	}

	return Result{Statistics: merged.Snapshot(), Partial: partial}, nil
}
