package stats

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// naiveMoments recomputes central moments from stored samples, the O(N)
// reference the accumulator must match.
func naiveMoments(samples []float64) (mean, m2, m3, m4 float64) {
	n := float64(len(samples))
	if n == 0 {
		return 0, 0, 0, 0
	}
	for _, v := range samples {
		mean += v
	}
	mean /= n
	for _, v := range samples {
		d := v - mean
		m2 += d * d
		m3 += d * d * d
		m4 += d * d * d * d
	}
	return mean, m2, m3, m4
}

func testSamples(n int) []float64 {
	rng := rand.New(rand.NewSource(42))
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = 100 + 5000*rng.Float64()
	}
	return samples
}

func TestAdmitMatchesNaiveRecomputation(t *testing.T) {
	samples := testSamples(500)

	acc := New(OrderVariance)
	for _, v := range samples {
		acc.Admit(v)
	}
	snap := acc.Snapshot()

	mean, m2, _, _ := naiveMoments(samples)
	n := float64(len(samples))

	require.Equal(t, int64(len(samples)), snap.Count)
	assert.InEpsilon(t, mean, snap.Mean, 1e-12)
	assert.InEpsilon(t, m2/n, snap.Variance, 1e-9)
	assert.InEpsilon(t, math.Sqrt(m2/n), snap.StdDev, 1e-9)

	min, max := samples[0], samples[0]
	for _, v := range samples {
		min = math.Min(min, v)
		max = math.Max(max, v)
	}
	assert.Equal(t, min, snap.Min)
	assert.Equal(t, max, snap.Max)
}

func TestHigherMomentsMatchNaiveRecomputation(t *testing.T) {
	samples := testSamples(300)

	acc := New(OrderKurtosis)
	for _, v := range samples {
		acc.Admit(v)
	}
	snap := acc.Snapshot()

	_, m2, m3, m4 := naiveMoments(samples)
	n := float64(len(samples))
	wantSkew := math.Sqrt(n) * m3 / math.Pow(m2, 1.5)
	wantKurt := n*m4/(m2*m2) - 3

	assert.InDelta(t, wantSkew, snap.Skewness, 1e-9)
	assert.InDelta(t, wantKurt, snap.Kurtosis, 1e-9)
}

// Admit followed by retract of the same value must restore the prior
// (count, mean, variance) state.
func TestAdmitRetractRoundTrip(t *testing.T) {
	for _, order := range []int{OrderVariance, OrderKurtosis} {
		acc := New(order)
		for _, v := range testSamples(100) {
			acc.Admit(v)
		}
		before := acc.Snapshot()

		acc.Admit(777.777)
		require.NoError(t, acc.Retract(777.777))
		after := acc.Snapshot()

		assert.Equal(t, before.Count, after.Count)
		assert.InEpsilon(t, before.Mean, after.Mean, 1e-12)
		assert.InEpsilon(t, before.Variance, after.Variance, 1e-9)
		if order == OrderKurtosis {
			assert.InDelta(t, before.Skewness, after.Skewness, 1e-6)
			assert.InDelta(t, before.Kurtosis, after.Kurtosis, 1e-6)
		}
	}
}

func TestRetractToNaiveRecomputation(t *testing.T) {
	samples := testSamples(50)

	acc := New(OrderVariance)
	for _, v := range samples {
		acc.Admit(v)
	}
	// Retract the first ten; the survivors are the reference population.
	for _, v := range samples[:10] {
		require.NoError(t, acc.Retract(v))
	}
	snap := acc.Snapshot()

	mean, m2, _, _ := naiveMoments(samples[10:])
	n := float64(len(samples) - 10)

	require.Equal(t, int64(len(samples)-10), snap.Count)
	assert.InEpsilon(t, mean, snap.Mean, 1e-10)
	assert.InEpsilon(t, m2/n, snap.Variance, 1e-7)
}

func TestRetractEmptyIsInconsistent(t *testing.T) {
	acc := New(OrderVariance)
	assert.ErrorIs(t, acc.Retract(1.0), ErrInconsistentState)
}

func TestRetractNeverAdmittedIsInconsistent(t *testing.T) {
	acc := New(OrderVariance)
	acc.Admit(1.0)
	acc.Admit(1.01)
	before := acc.Snapshot()

	// A value far outside the admitted set drives M2 materially negative.
	err := acc.Retract(5000)
	require.ErrorIs(t, err, ErrInconsistentState)

	// The failed retract must not have mutated the accumulator.
	after := acc.Snapshot()
	assert.Equal(t, before.Count, after.Count)
	assert.Equal(t, before.Mean, after.Mean)
	assert.Equal(t, before.Variance, after.Variance)
}

func TestRetractLastSampleEmptiesAccumulator(t *testing.T) {
	acc := New(OrderVariance)
	acc.Admit(42)
	require.NoError(t, acc.Retract(42))

	snap := acc.Snapshot()
	assert.Equal(t, int64(0), snap.Count)
	assert.True(t, math.IsNaN(snap.Mean))
	assert.True(t, math.IsNaN(snap.Variance))
}

func TestMergeAssociativeAndCommutative(t *testing.T) {
	samples := testSamples(90)
	a, b, c := samples[:20], samples[20:50], samples[50:]

	build := func(vs []float64) *Moments {
		m := New(OrderKurtosis)
		for _, v := range vs {
			m.Admit(v)
		}
		return m
	}

	single := build(samples).Snapshot()

	// (a ⊕ b) ⊕ c
	left := build(a)
	left.Merge(*build(b))
	left.Merge(*build(c))

	// a ⊕ (b ⊕ c)
	inner := build(b)
	inner.Merge(*build(c))
	right := build(a)
	right.Merge(*inner)

	// c ⊕ b ⊕ a
	reversed := build(c)
	reversed.Merge(*build(b))
	reversed.Merge(*build(a))

	for _, got := range []Statistics{left.Snapshot(), right.Snapshot(), reversed.Snapshot()} {
		assert.Equal(t, single.Count, got.Count)
		assert.InEpsilon(t, single.Mean, got.Mean, 1e-12)
		assert.InEpsilon(t, single.Variance, got.Variance, 1e-9)
		assert.InDelta(t, single.Skewness, got.Skewness, 1e-9)
		assert.InDelta(t, single.Kurtosis, got.Kurtosis, 1e-9)
		assert.Equal(t, single.Min, got.Min)
		assert.Equal(t, single.Max, got.Max)
	}
}

func TestMergeWithEmpty(t *testing.T) {
	acc := New(OrderVariance)
	acc.Admit(1)
	acc.Admit(2)
	want := acc.Snapshot()

	acc.Merge(*New(OrderVariance))
	unchanged := acc.Snapshot()
	assert.Equal(t, want.Count, unchanged.Count)
	assert.Equal(t, want.Mean, unchanged.Mean)
	assert.Equal(t, want.Variance, unchanged.Variance)

	empty := New(OrderVariance)
	empty.Merge(*acc)
	got := empty.Snapshot()
	assert.Equal(t, want.Count, got.Count)
	assert.Equal(t, want.Mean, got.Mean)
	assert.Equal(t, want.Variance, got.Variance)
}

func TestSnapshotSentinels(t *testing.T) {
	acc := New(OrderKurtosis)

	empty := acc.Snapshot()
	assert.Equal(t, int64(0), empty.Count)
	assert.True(t, math.IsNaN(empty.Mean))
	assert.True(t, math.IsNaN(empty.Variance))
	assert.True(t, math.IsNaN(empty.StdDev))
	assert.True(t, math.IsNaN(empty.Min))
	assert.True(t, math.IsNaN(empty.Max))

	acc.Admit(10)
	one := acc.Snapshot()
	assert.Equal(t, int64(1), one.Count)
	assert.Equal(t, 10.0, one.Mean)
	assert.Equal(t, 10.0, one.Min)
	assert.Equal(t, 10.0, one.Max)
	assert.True(t, math.IsNaN(one.Variance), "variance is undefined below two samples")

	acc.Admit(20)
	two := acc.Snapshot()
	assert.Equal(t, 25.0, two.Variance)
	assert.True(t, math.IsNaN(two.Skewness), "skewness is undefined below three samples")
	assert.True(t, math.IsNaN(two.Kurtosis), "kurtosis is undefined below four samples")
}

func TestOrderFallsBackToVariance(t *testing.T) {
	acc := New(7)
	assert.Equal(t, OrderVariance, acc.Order())
}

func BenchmarkAdmit(b *testing.B) {
	acc := New(OrderVariance)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		acc.Admit(float64(i % 1000))
	}
}

func BenchmarkAdmitRetract(b *testing.B) {
	acc := New(OrderVariance)
	for i := 0; i < 1000; i++ {
		acc.Admit(float64(i))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		v := float64(i % 1000)
		acc.Admit(v)
		_ = acc.Retract(v)
	}
}
