package batch

import (
	"errors"
	"math"
	"testing"

	"github.com/geofleet/geostats-worker/internal/geo"
	"github.com/geofleet/geostats-worker/internal/stats"
)

func cornerPoints(t *testing.T) []geo.Point {
	t.Helper()
	coords := [][2]float64{{0, 0}, {0, 1}, {1, 0}, {1, 1}}
	points := make([]geo.Point, 0, len(coords))
	for _, c := range coords {
		p, err := geo.NewPoint(c[0], c[1])
		if err != nil {
			t.Fatalf("NewPoint(%v, %v) failed: %v", c[0], c[1], err)
		}
		points = append(points, p)
	}
	return points
}

// Expected pairwise Haversine distances for the unit-degree square at the
// equator, R = 6371.0088 km.
var cornerDistances = []float64{
	111.195080234, // (0,0)-(0,1)
	111.195080234, // (0,0)-(1,0)
	157.249598474, // (0,0)-(1,1)
	157.249598474, // (0,1)-(1,0)
	111.195080234, // (0,1)-(1,1)
	111.178144254, // (1,0)-(1,1)
}

func TestAggregateCornerScenario(t *testing.T) {
	agg := New(geo.EarthRadiusKM, stats.OrderVariance, 0)
	snap := agg.Aggregate(cornerPoints(t))

	if snap.Count != 6 {
		t.Fatalf("expected 6 pairs, got %d", snap.Count)
	}

	var sum float64
	for _, d := range cornerDistances {
		sum += d
	}
	mean := sum / 6
	var m2 float64
	for _, d := range cornerDistances {
		m2 += (d - mean) * (d - mean)
	}

	const eps = 1e-6
	if math.Abs(snap.Mean-mean) > eps {
		t.Errorf("mean = %.9f, expected %.9f", snap.Mean, mean)
	}
	if math.Abs(snap.Variance-m2/6) > eps {
		t.Errorf("variance = %.9f, expected %.9f", snap.Variance, m2/6)
	}
	if math.Abs(snap.Min-111.178144254) > eps {
		t.Errorf("min = %.9f, expected 111.178144254", snap.Min)
	}
	if math.Abs(snap.Max-157.249598474) > eps {
		t.Errorf("max = %.9f, expected 157.249598474", snap.Max)
	}
}

func TestPairwiseDistancesCornerScenario(t *testing.T) {
	agg := New(geo.EarthRadiusKM, stats.OrderVariance, 0)
	distances, err := agg.PairwiseDistances(cornerPoints(t))
	if err != nil {
		t.Fatalf("PairwiseDistances() failed: %v", err)
	}
	if len(distances) != len(cornerDistances) {
		t.Fatalf("expected %d distances, got %d", len(cornerDistances), len(distances))
	}
	for i, want := range cornerDistances {
		if math.Abs(distances[i]-want) > 1e-6 {
			t.Errorf("distance %d = %.9f, expected %.9f", i, distances[i], want)
		}
	}
}

func TestAggregateSmallPopulations(t *testing.T) {
	agg := New(0, stats.OrderVariance, 0)

	empty := agg.Aggregate(nil)
	if empty.Count != 0 {
		t.Errorf("expected 0 pairs for empty input, got %d", empty.Count)
	}
	if !math.IsNaN(empty.Variance) {
		t.Errorf("expected undefined variance for empty input, got %v", empty.Variance)
	}

	p, _ := geo.NewPoint(10, 10)
	one := agg.Aggregate([]geo.Point{p})
	if one.Count != 0 {
		t.Errorf("expected 0 pairs for single point, got %d", one.Count)
	}
	if !math.IsNaN(one.Variance) {
		t.Errorf("expected undefined variance for single point, got %v", one.Variance)
	}
}

func TestPairwiseDistancesResourceExhausted(t *testing.T) {
	// 100 points produce 4950 pairs; a ceiling of 100 must refuse before
	// allocating.
	agg := New(geo.EarthRadiusKM, stats.OrderVariance, 100)
	points := make([]geo.Point, 100)
	for i := range points {
		points[i] = geo.Point{Latitude: float64(i) * 0.1, Longitude: float64(i) * 0.1}
	}

	_, err := agg.PairwiseDistances(points)
	if !errors.Is(err, ErrResourceExhausted) {
		t.Fatalf("expected ErrResourceExhausted, got %v", err)
	}

	// The moments-only path has no ceiling.
	snap := agg.Aggregate(points)
	if snap.Count != 4950 {
		t.Errorf("expected 4950 pairs, got %d", snap.Count)
	}
}

func TestPercentile(t *testing.T) {
	samples := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	tests := []struct {
		p        float64
		expected float64
	}{
		{0, 1},
		{50, 5.5},
		{100, 10},
	}
	for _, tt := range tests {
		if got := Percentile(samples, tt.p); math.Abs(got-tt.expected) > 1e-9 {
			t.Errorf("Percentile(%.0f) = %v, expected %v", tt.p, got, tt.expected)
		}
	}

	if !math.IsNaN(Percentile(nil, 50)) {
		t.Error("expected NaN percentile for empty samples")
	}
}
