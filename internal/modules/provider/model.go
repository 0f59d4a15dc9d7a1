// README: Provider aggregate shared by guides and drivers.
package provider

import (
	"errors"
	"time"

	"github.com/PearlPath/pearlpath-api/internal/modules/availability"
	"github.com/PearlPath/pearlpath-api/internal/modules/pricing"
	"github.com/PearlPath/pearlpath-api/internal/types"
)

type Verification string

const (
	VerificationPending  Verification = "pending"
	VerificationVerified Verification = "verified"
	VerificationRejected Verification = "rejected"
)

func (v Verification) Valid() bool {
	return v == VerificationPending || v == VerificationVerified || v == VerificationRejected
}

var (
	ErrNotFound      = errors.New("provider not found")
	ErrBadRequest    = errors.New("bad request")
	ErrForbidden     = errors.New("not allowed to modify provider")
	ErrInvalidRating = errors.New("rating must be between 1 and 5")
)

type Provider struct {
	ID                types.ID                    `json:"id"`
	Kind              types.ProviderKind          `json:"kind"`
	UserID            types.ID                    `json:"user_id"`
	DisplayName       string                      `json:"display_name"`
	Schedule          availability.WeeklySchedule `json:"schedule"`
	Location          types.Point                 `json:"location"`
	LocationUpdatedAt *time.Time                  `json:"location_updated_at,omitempty"`
	Available         bool                        `json:"available"`
	Rates             pricing.Rates               `json:"rates"`
	Verification      Verification                `json:"verification"`
	Rating            float64                     `json:"rating"`
	RatingCount       int                         `json:"rating_count"`
	CompletedCount    int                         `json:"completed_count"`
	SubscriptionTier  string                      `json:"subscription_tier,omitempty"`
	CreatedAt         time.Time                   `json:"created_at"`
	UpdatedAt         time.Time                   `json:"updated_at"`
}

func (p *Provider) Ref() types.ProviderRef {
	return types.ProviderRef{Kind: p.Kind, ID: p.ID}
}

func (p *Provider) Verified() bool {
	return p.Verification == VerificationVerified
}

// PricingRequest fills in the provider-specific parts of a quote.
func (p *Provider) PricingRequest(ride bool, distanceKm, minutes float64, surge pricing.SurgeInputs) pricing.Request {
	return pricing.Request{
		Kind:             p.Kind,
		Ride:             ride,
		Rates:            p.Rates,
		DistanceKm:       distanceKm,
		DurationMinutes:  minutes,
		Surge:            surge,
		Verified:         p.Verified(),
		SubscriptionTier: p.SubscriptionTier,
	}
}

// Nearby is a live-index hit.
type Nearby struct {
	ID         types.ID
	Location   types.Point
	DistanceKm float64
}
