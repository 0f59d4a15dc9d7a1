package maps

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"googlemaps.github.io/maps"

	"github.com/PearlPath/pearlpath-api/internal/modules/geo"
	"github.com/PearlPath/pearlpath-api/internal/types"
)

const (
	// roadFactor stretches straight-line distance to a typical road distance.
	roadFactor        = 1.3
	fallbackSpeedKmph = 25.0
)

// Route is a driving estimate between two points.
type Route struct {
	DistanceKm float64       `json:"distance_km"`
	Duration   time.Duration `json:"duration"`
	// Approximate is set when the estimate did not come from the Directions API.
	Approximate bool `json:"approximate"`
}

func (r Route) Minutes() float64 {
	return math.Ceil(r.Duration.Minutes())
}

type directionsClient interface {
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
}

// RouteService handles interactions with Google Maps API.
type RouteService struct {
	client directionsClient
	log    logrus.FieldLogger
}

// NewRouteService creates a RouteService. An empty apiKey leaves the service
// on the straight-line fallback only.
func NewRouteService(apiKey string, log logrus.FieldLogger) (*RouteService, error) {
	s := &RouteService{log: log}
	if apiKey == "" {
		return s, nil
	}
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	s.client = client
	return s, nil
}

// Estimate returns the driving distance and duration from origin to destination.
// It falls back to a straight-line estimate if the API is unavailable.
func (s *RouteService) Estimate(ctx context.Context, origin, destination types.Point) (Route, error) {
	straight, err := geo.DistanceKm(origin, destination)
	if err != nil {
		return Route{}, err
	}
	if s.client != nil {
		r, err := s.directions(ctx, origin, destination)
		if err == nil {
			return r, nil
		}
		s.log.WithError(err).Warn("directions lookup failed, using straight-line estimate")
	}
	km := straight * roadFactor
	return Route{
		DistanceKm:  km,
		Duration:    time.Duration(km / fallbackSpeedKmph * float64(time.Hour)),
		Approximate: true,
	}, nil
}

func (s *RouteService) directions(ctx context.Context, origin, destination types.Point) (Route, error) {
	r := &maps.DirectionsRequest{
		Origin:      (&maps.LatLng{Lat: origin.Lat, Lng: origin.Lng}).String(),
		Destination: (&maps.LatLng{Lat: destination.Lat, Lng: destination.Lng}).String(),
		Mode:        maps.TravelModeDriving,
		Region:      "lk",
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return Route{}, fmt.Errorf("maps api error: %w", err)
	}

	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return Route{}, fmt.Errorf("no route found")
	}

	leg := routes[0].Legs[0]
	return Route{DistanceKm: float64(leg.Distance.Meters) / 1000, Duration: leg.Duration}, nil
}
