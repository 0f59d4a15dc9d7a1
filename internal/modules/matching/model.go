// README: Provider search: geo candidates, availability filter, price estimate, ordering.
package matching

import (
	"errors"

	"github.com/PearlPath/pearlpath-api/internal/modules/availability"
	"github.com/PearlPath/pearlpath-api/internal/modules/pricing"
	"github.com/PearlPath/pearlpath-api/internal/modules/provider"
	"github.com/PearlPath/pearlpath-api/internal/types"
)

var ErrBadRequest = errors.New("bad request")

type SortKey string

const (
	SortDistance SortKey = "distance"
	SortRating   SortKey = "rating"
	SortPrice    SortKey = "price"
)

const (
	// maxRadiusKm bounds a single search.
	maxRadiusKm = 50.0
	maxLimit    = 100
	// candidateFactor over-fetches from the geo index before filtering.
	candidateFactor = 3
)

type Query struct {
	Kind     types.ProviderKind
	Location types.Point
	RadiusKm float64
	// Window restricts results to providers free for it; nil checks only the online flag.
	Window *availability.Window
	// TripKm and Minutes size the price estimate.
	TripKm       float64
	Minutes      float64
	Ride         bool
	VerifiedOnly bool
	MinRating    float64
	MaxPrice     float64
	Sort         SortKey
	Limit        int
	// IncludeUnavailable keeps providers that fail the availability check, with the reason.
	IncludeUnavailable bool
}

type Result struct {
	Provider   *provider.Provider `json:"provider"`
	DistanceKm float64            `json:"distance_km"`
	Available  bool               `json:"available"`
	Reason     string             `json:"reason,omitempty"`
	Estimate   *pricing.Breakdown `json:"estimate,omitempty"`
}
