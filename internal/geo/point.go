// Package geo provides geographic coordinate validation and great-circle
// distance calculations using the Haversine formula.
package geo

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidCoordinate is returned when a latitude or longitude is outside
// its valid range. Invalid coordinates are rejected at construction, never
// clamped.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Point is an immutable latitude/longitude pair in signed decimal degrees.
type Point struct {
	Latitude  float64
	Longitude float64
}

// NewPoint validates latitude ∈ [-90, 90] and longitude ∈ [-180, 180].
// NaN and infinities are rejected.
func NewPoint(lat, lon float64) (Point, error) {
	if math.IsNaN(lat) || math.IsInf(lat, 0) || lat < -90 || lat > 90 {
		return Point{}, fmt.Errorf("%w: latitude %v must be between -90 and 90", ErrInvalidCoordinate, lat)
	}
	if math.IsNaN(lon) || math.IsInf(lon, 0) || lon < -180 || lon > 180 {
		return Point{}, fmt.Errorf("%w: longitude %v must be between -180 and 180", ErrInvalidCoordinate, lon)
	}
	return Point{Latitude: lat, Longitude: lon}, nil
}
