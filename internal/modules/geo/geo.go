// Package geo contains pure geographic helpers: great-circle distance,
// radius checks and bounding boxes used as a cheap prefilter.
package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/mmcloughlin/geohash"

	"github.com/PearlPath/pearlpath-api/internal/types"
)

const (
	earthRadiusKm = 6371.0
	kmPerDegree   = 111.0
)

var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Validate reports ErrInvalidCoordinate when p is outside WGS84 ranges.
// Coordinates are never clamped.
func Validate(p types.Point) error {
	if math.IsNaN(p.Lat) || math.IsNaN(p.Lng) {
		return fmt.Errorf("%w: NaN", ErrInvalidCoordinate)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("%w: lat %v", ErrInvalidCoordinate, p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("%w: lng %v", ErrInvalidCoordinate, p.Lng)
	}
	return nil
}

// DistanceKm returns the haversine distance between a and b in kilometres.
func DistanceKm(a, b types.Point) (float64, error) {
	if err := Validate(a); err != nil {
		return 0, err
	}
	if err := Validate(b); err != nil {
		return 0, err
	}
	return haversineKm(a.Lat, a.Lng, b.Lat, b.Lng), nil
}

func WithinRadius(origin, target types.Point, radiusKm float64) (bool, error) {
	d, err := DistanceKm(origin, target)
	if err != nil {
		return false, err
	}
	return d <= radiusKm, nil
}

// Box is an axis-aligned lat/lng rectangle.
type Box struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

func (b Box) Contains(p types.Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// BoundingBox approximates a square around origin with half-side radiusKm.
// It always encloses the true circle of that radius (away from the poles),
// so callers refine with DistanceKm afterwards.
func BoundingBox(origin types.Point, radiusKm float64) (Box, error) {
	if err := Validate(origin); err != nil {
		return Box{}, err
	}
	if radiusKm < 0 {
		return Box{}, fmt.Errorf("%w: negative radius", ErrInvalidCoordinate)
	}
	dLat := radiusKm / kmPerDegree
	cos := math.Cos(degreesToRadians(origin.Lat))
	dLng := 180.0
	if cos > 1e-9 {
		dLng = math.Min(radiusKm/(kmPerDegree*cos), 180)
	}
	return Box{
		MinLat: math.Max(origin.Lat-dLat, -90),
		MaxLat: math.Min(origin.Lat+dLat, 90),
		MinLng: math.Max(origin.Lng-dLng, -180),
		MaxLng: math.Min(origin.Lng+dLng, 180),
	}, nil
}

// Cell returns the geohash of p with the given number of characters.
func Cell(p types.Point, chars uint) string {
	return geohash.EncodeWithPrecision(p.Lat, p.Lng, chars)
}

func haversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := degreesToRadians(lat2 - lat1)
	dLng := degreesToRadians(lng2 - lng1)

	rLat1 := degreesToRadians(lat1)
	rLat2 := degreesToRadians(lat2)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rLat1)*math.Cos(rLat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

func degreesToRadians(deg float64) float64 {
	return deg * math.Pi / 180.0
}
