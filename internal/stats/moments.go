// Package stats maintains running central moments (mean, variance, and
// optionally skewness/kurtosis) of a multiset of values that grows, shrinks,
// and has elements replaced, in O(1) time per update and without storing the
// values themselves.
package stats

import (
	"errors"
	"math"
)

// ErrInconsistentState is returned when a retract cannot be reconciled with
// the accumulator's state: either the accumulator is empty or the inverse
// update drives the second central moment materially negative. It indicates a
// retract without a matching prior admit, which would silently corrupt all
// future statistics, so callers must treat it as fatal and rebuild the
// accumulator from a fresh snapshot.
var ErrInconsistentState = errors.New("moments accumulator state inconsistent")

// Moment orders supported by the accumulator.
const (
	// OrderVariance tracks count, mean, and M2 (variance).
	OrderVariance = 2
	// OrderKurtosis additionally tracks M3 and M4 (skewness and kurtosis).
	OrderKurtosis = 4
)

// negative M2 beyond this relative tolerance means the retracted value was
// never admitted; within it, rounding noise is clamped to zero.
const m2Tolerance = 1e-8

// Moments is a running central-moment accumulator using Welford's online
// algorithm, extended with an exact algebraic inverse (Retract) and parallel
// combination (Merge). The zero value is not ready for use; construct with
// New. Moments is not safe for concurrent use; callers own synchronization.
type Moments struct {
	order int
	count int64
	mean  float64
	m2    float64
	m3    float64
	m4    float64
	min   float64
	max   float64
}

// New returns an empty accumulator tracking the given moment order. Orders
// other than OrderKurtosis fall back to OrderVariance.
func New(order int) *Moments {
	if order != OrderKurtosis {
		order = OrderVariance
	}
	m := &Moments{order: order}
	m.Reset()
	return m
}

// Reset returns the accumulator to its empty state.
func (m *Moments) Reset() {
	m.count = 0
	m.mean = 0
	m.m2 = 0
	m.m3 = 0
	m.m4 = 0
	m.min = math.Inf(1)
	m.max = math.Inf(-1)
}

// Count returns the number of currently-admitted samples.
func (m *Moments) Count() int64 {
	return m.count
}

// Order returns the configured moment order.
func (m *Moments) Order() int {
	return m.order
}

// Admit incorporates one new sample.
func (m *Moments) Admit(v float64) {
	n1 := float64(m.count)
	m.count++
	n := float64(m.count)

	delta := v - m.mean
	deltaN := delta / n
	deltaN2 := deltaN * deltaN
	term1 := delta * deltaN * n1

	m.mean += deltaN
	if m.order == OrderKurtosis {
		m.m4 += term1*deltaN2*(n*n-3*n+3) + 6*deltaN2*m.m2 - 4*deltaN*m.m3
		m.m3 += term1*deltaN*(n-2) - 3*deltaN*m.m2
	}
	m.m2 += term1

	if v < m.min {
		m.min = v
	}
	if v > m.max {
		m.max = v
	}
}

// Retract removes one previously-admitted sample by inverting the Admit
// update algebraically. The accumulator does not track membership of
// individual samples; the caller is responsible for exactly-once
// retract/admit pairing. Min and max are high-water marks and are not
// shrunk by a retract.
//
// Retracting from an empty accumulator, or retracting a value that was never
// admitted (detected when M2 goes materially negative), returns
// ErrInconsistentState and leaves the accumulator unchanged.
func (m *Moments) Retract(v float64) error {
	if m.count == 0 {
		return ErrInconsistentState
	}
	if m.count == 1 {
		m.Reset()
		return nil
	}

	n := float64(m.count)
	n1 := n - 1

	meanOld := (n*m.mean - v) / n1
	delta := v - meanOld
	deltaN := delta / n
	deltaN2 := deltaN * deltaN
	term1 := delta * deltaN * n1

	m2Old := m.m2 - term1
	tol := m2Tolerance * (1 + math.Abs(m.m2))
	if m2Old < -tol {
		return ErrInconsistentState
	}
	if m2Old < 0 {
		m2Old = 0
	}

	if m.order == OrderKurtosis {
		m3Old := m.m3 - term1*deltaN*(n-2) + 3*deltaN*m2Old
		m4Old := m.m4 - term1*deltaN2*(n*n-3*n+3) - 6*deltaN2*m2Old + 4*deltaN*m3Old
		m.m3 = m3Old
		m.m4 = m4Old
	}

	m.count--
	m.mean = meanOld
	m.m2 = m2Old
	return nil
}

// Merge folds another accumulator into this one using the parallel-variance
// combination formulas (through M4 when tracking kurtosis). Merge is
// associative and commutative up to floating-point rounding, so shard
// accumulators can be tree-reduced in any order.
func (m *Moments) Merge(o Moments) {
	if o.count == 0 {
		return
	}
	if m.count == 0 {
		order := m.order
		*m = o
		m.order = order
		return
	}

	na := float64(m.count)
	nb := float64(o.count)
	n := na + nb

	delta := o.mean - m.mean
	d2 := delta * delta

	mean := m.mean + delta*nb/n
	m2 := m.m2 + o.m2 + d2*na*nb/n

	if m.order == OrderKurtosis {
		d3 := d2 * delta
		d4 := d2 * d2
		m3 := m.m3 + o.m3 +
			d3*na*nb*(na-nb)/(n*n) +
			3*delta*(na*o.m2-nb*m.m2)/n
		m4 := m.m4 + o.m4 +
			d4*na*nb*(na*na-na*nb+nb*nb)/(n*n*n) +
			6*d2*(na*na*o.m2+nb*nb*m.m2)/(n*n) +
			4*delta*(na*o.m3-nb*m.m3)/n
		m.m3 = m3
		m.m4 = m4
	}

	m.count += o.count
	m.mean = mean
	m.m2 = m2
	if o.min < m.min {
		m.min = o.min
	}
	if o.max > m.max {
		m.max = o.max
	}
}

// Snapshot derives summary statistics from the accumulator state. Moments
// that are undefined at the current count are NaN sentinels, never a
// division error: mean/min/max need one sample, variance two, skewness
// three, kurtosis four.
func (m *Moments) Snapshot() Statistics {
	s := Statistics{
		Count:    m.count,
		Mean:     math.NaN(),
		Variance: math.NaN(),
		StdDev:   math.NaN(),
		Min:      math.NaN(),
		Max:      math.NaN(),
		Skewness: math.NaN(),
		Kurtosis: math.NaN(),
	}
	if m.count == 0 {
		return s
	}
	s.Mean = m.mean
	s.Min = m.min
	s.Max = m.max
	if m.count < 2 {
		return s
	}
	n := float64(m.count)
	s.Variance = m.m2 / n
	s.StdDev = math.Sqrt(s.Variance)
	if m.order == OrderKurtosis && m.m2 > 0 {
		if m.count >= 3 {
			s.Skewness = math.Sqrt(n) * m.m3 / math.Pow(m.m2, 1.5)
		}
		if m.count >= 4 {
			s.Kurtosis = n*m.m4/(m.m2*m.m2) - 3
		}
	}
	return s
}

// Statistics is a point-in-time summary derived from a Moments accumulator.
// Undefined fields are NaN.
type Statistics struct {
	Count    int64
	Mean     float64
	Variance float64
	StdDev   float64
	Min      float64
	Max      float64
	Skewness float64
	Kurtosis float64
}
