package geo

import (
	"math"
	"testing"
)

func mustPoint(t *testing.T, lat, lon float64) Point {
	t.Helper()
	p, err := NewPoint(lat, lon)
	if err != nil {
		t.Fatalf("NewPoint(%v, %v) failed: %v", lat, lon, err)
	}
	return p
}

func TestDistance(t *testing.T) {
	tests := []struct {
		name      string
		lat1      float64
		lon1      float64
		lat2      float64
		lon2      float64
		expected  float64
		tolerance float64
	}{
		{
			name:      "Same location",
			lat1:      40.736097,
			lon1:      -74.039373,
			lat2:      40.736097,
			lon2:      -74.039373,
			expected:  0.0,
			tolerance: 0.001,
		},
		{
			name:      "One degree along the equator",
			lat1:      0,
			lon1:      0,
			lat2:      0,
			lon2:      1,
			expected:  111.195080234,
			tolerance: 1e-6,
		},
		{
			name:      "One degree along a meridian",
			lat1:      0,
			lon1:      0,
			lat2:      1,
			lon2:      0,
			expected:  111.195080234,
			tolerance: 1e-6,
		},
		{
			name:      "Diagonal degree",
			lat1:      0,
			lon1:      0,
			lat2:      1,
			lon2:      1,
			expected:  157.249598474,
			tolerance: 1e-6,
		},
		{
			name:      "New York to Boston (~306 km)",
			lat1:      40.7128,
			lon1:      -74.0060,
			lat2:      42.3601,
			lon2:      -71.0589,
			expected:  306.0,
			tolerance: 5.0,
		},
		{
			name:      "Antipodal points (half circumference)",
			lat1:      0,
			lon1:      0,
			lat2:      0,
			lon2:      180,
			expected:  math.Pi * EarthRadiusKM,
			tolerance: 1e-6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := mustPoint(t, tt.lat1, tt.lon1)
			b := mustPoint(t, tt.lat2, tt.lon2)
			result := Distance(a, b)
			if math.Abs(result-tt.expected) > tt.tolerance {
				t.Errorf("Distance() = %.9f km, expected %.9f km (±%v km)", result, tt.expected, tt.tolerance)
			}
		})
	}
}

func TestDistanceSymmetry(t *testing.T) {
	points := []Point{
		mustPoint(t, 40.736097, -74.039373),
		mustPoint(t, -23.6352, 110.3726),
		mustPoint(t, 53.0917, -172.3206),
		mustPoint(t, -81.5872, 30.5518),
		mustPoint(t, 4.83, 0.5632),
	}

	for i := 0; i < len(points); i++ {
		for j := 0; j < len(points); j++ {
			ab := Distance(points[i], points[j])
			ba := Distance(points[j], points[i])
			if ab != ba {
				t.Errorf("Distance(%d,%d) = %v but Distance(%d,%d) = %v", i, j, ab, j, i, ba)
			}
			if i == j && ab > 1e-9 {
				t.Errorf("Distance of point %d to itself = %v, expected ~0", i, ab)
			}
			if ab < 0 {
				t.Errorf("Distance(%d,%d) = %v, expected >= 0", i, j, ab)
			}
		}
	}
}

// Near-antipodal coordinates can push the haversine radicand above 1 through
// floating-point rounding; the clamp must keep Asin in its domain.
func TestDistanceNearAntipodal(t *testing.T) {
	a := mustPoint(t, 0.0000001, 0)
	b := mustPoint(t, -0.0000001, 180)
	d := Distance(a, b)
	if math.IsNaN(d) {
		t.Fatal("Distance() returned NaN for near-antipodal points")
	}
	if d > math.Pi*EarthRadiusKM+1e-6 {
		t.Errorf("Distance() = %v, exceeds half circumference", d)
	}
}

func TestDistanceOn(t *testing.T) {
	a := mustPoint(t, 0, 0)
	b := mustPoint(t, 0, 90)

	// A quarter of the circumference on a unit sphere.
	d := DistanceOn(1, a, b)
	if math.Abs(d-math.Pi/2) > 1e-12 {
		t.Errorf("DistanceOn(1) = %v, expected %v", d, math.Pi/2)
	}
}

func TestDegreesToRadians(t *testing.T) {
	tests := []struct {
		degrees  float64
		expected float64
	}{
		{0, 0},
		{90, math.Pi / 2},
		{180, math.Pi},
		{360, 2 * math.Pi},
		{-90, -math.Pi / 2},
	}

	for _, tt := range tests {
		result := degreesToRadians(tt.degrees)
		if math.Abs(result-tt.expected) > 0.0001 {
			t.Errorf("degreesToRadians(%.2f) = %.4f, expected %.4f", tt.degrees, result, tt.expected)
		}
	}
}

func BenchmarkDistance(b *testing.B) {
	p1 := Point{Latitude: 40.736097, Longitude: -74.039373}
	p2 := Point{Latitude: 40.748817, Longitude: -73.985428}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Distance(p1, p2)
	}
}
