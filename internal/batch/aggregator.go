// Package batch computes aggregate statistics over all pairwise great-circle
// distances of a position snapshot. It is the one-shot alternative to the
// streaming consumer path, usable for small populations and as a test oracle:
// both paths fold distances through the same online update rule, so their
// results reconcile bit-for-bit on a static population.
package batch

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/geofleet/geostats-worker/internal/geo"
	"github.com/geofleet/geostats-worker/internal/stats"
)

// ErrResourceExhausted is returned when materializing the full pairwise
// distance set would exceed the configured ceiling. The moments-only path has
// no such ceiling; callers hitting this error should fall back to it or
// reduce the population.
var ErrResourceExhausted = errors.New("pairwise distance set exceeds materialization ceiling")

// DefaultMaxPairs bounds materialized distance sets at roughly 40 MB of
// float64s.
const DefaultMaxPairs = 5_000_000

// Aggregator computes pairwise distance statistics from point snapshots.
type Aggregator struct {
	radius   float64
	order    int
	maxPairs int64
}

// New creates an Aggregator. Zero or negative radius falls back to Earth's
// mean radius, a non-positive maxPairs to DefaultMaxPairs.
func New(radius float64, order int, maxPairs int64) *Aggregator {
	if radius <= 0 {
		radius = geo.EarthRadiusKM
	}
	if maxPairs <= 0 {
		maxPairs = DefaultMaxPairs
	}
	return &Aggregator{radius: radius, order: order, maxPairs: maxPairs}
}

// Aggregate folds all C(N,2) pairwise distances into a moments accumulator
// via nested i<j iteration. It never materializes the distance set, so its
// only cost is O(N²) compute time. Fewer than two points yield the empty
// statistics (NaN sentinels), not an error.
func (a *Aggregator) Aggregate(points []geo.Point) stats.Statistics {
	acc := stats.New(a.order)
	for i := 0; i < len(points); i++ {
		for j := i + 1; j < len(points); j++ {
			acc.Admit(geo.DistanceOn(a.radius, points[i], points[j]))
		}
	}
	return acc.Snapshot()
}

// PairwiseDistances materializes all C(N,2) distances, for callers that need
// more than moments (percentiles, histograms). It fails fast with
// ErrResourceExhausted before allocating when the pair count exceeds the
// ceiling.
func (a *Aggregator) PairwiseDistances(points []geo.Point) ([]float64, error) {
	n := int64(len(points))
	pairs := n * (n - 1) / 2
	if pairs > a.maxPairs {
		return nil, fmt.Errorf("%w: %d points produce %d pairs, ceiling is %d",
			ErrResourceExhausted, n, pairs, a.maxPairs)
	}
	distances := make([]float64, 0, pairs)
	for i := 0; i < len(points); i++ {
		for j := i + 1; j < len(points); j++ {
			distances = append(distances, geo.DistanceOn(a.radius, points[i], points[j]))
		}
	}
	return distances, nil
}

// Percentile returns the p-th percentile (0-100) of the given samples using
// linear interpolation between closest ranks. It sorts a copy; fewer than one
// sample yields NaN.
func Percentile(samples []float64, p float64) float64 {
	if len(samples) == 0 {
		return math.NaN()
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	pos := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	return sorted[lower] + (sorted[upper]-sorted[lower])*(pos-float64(lower))
}
