package geo

import (
	"math"
)

// EarthRadiusKM is the Earth's mean radius in kilometers (IUGG mean radius).
const EarthRadiusKM = 6371.0088

// Distance calculates the great-circle distance in kilometers between two
// points using the Haversine formula over a sphere of Earth's mean radius.
func Distance(a, b Point) float64 {
	return DistanceOn(EarthRadiusKM, a, b)
}

// DistanceOn calculates the great-circle distance between two points on a
// sphere of the given radius.
//
// Formula:
// h = sin²(Δφ/2) + cos φ1 ⋅ cos φ2 ⋅ sin²(Δλ/2)
// d = 2R ⋅ asin(√h)
//
// The radicand is clamped to [0, 1] before the arcsine so that floating-point
// overshoot near antipodal points cannot leave the function's domain.
func DistanceOn(radius float64, a, b Point) float64 {
	lat1 := degreesToRadians(a.Latitude)
	lat2 := degreesToRadians(b.Latitude)
	deltaLat := degreesToRadians(b.Latitude - a.Latitude)
	deltaLon := degreesToRadians(b.Longitude - a.Longitude)

	h := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)

	if h < 0 {
		h = 0
	} else if h > 1 {
		h = 1
	}

	return 2 * radius * math.Asin(math.Sqrt(h))
}

// degreesToRadians converts degrees to radians
func degreesToRadians(degrees float64) float64 {
	return degrees * math.Pi / 180
}
