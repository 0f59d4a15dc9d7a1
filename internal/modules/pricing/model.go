// README: Pricing inputs (rates, surge conditions, commission policy) and the quote breakdown.
package pricing

import (
	"time"

	"github.com/PearlPath/pearlpath-api/internal/types"
)

// Rates are a provider's per-unit charges in the platform currency.
type Rates struct {
	Base      float64 `json:"base"`
	PerKm     float64 `json:"per_km"`
	PerMinute float64 `json:"per_minute"`
}

type Weather string

const (
	WeatherClear Weather = "clear"
	WeatherRain  Weather = "rain"
	WeatherStorm Weather = "storm"
)

// SurgeInputs are the conditions the multiplier is derived from.
// A zero At contributes no time-of-day bump.
type SurgeInputs struct {
	At          time.Time `json:"at"`
	Weather     Weather   `json:"weather"`
	DemandRatio float64   `json:"demand_ratio"`
}

// Request prices one provider's part of a booking.
type Request struct {
	Kind            types.ProviderKind
	Ride            bool
	Rates           Rates
	DistanceKm      float64
	DurationMinutes float64
	Surge           SurgeInputs
	// FixedMultiplier, when set, replaces the multiplier derived from Surge.
	// Completion reprices with the multiplier locked in at booking time.
	FixedMultiplier float64
	// Verified and SubscriptionTier feed the commission rate.
	Verified         bool
	SubscriptionTier string
}

type Breakdown struct {
	Subtotal         float64 `json:"subtotal"`
	SurgeMultiplier  float64 `json:"surge_multiplier"`
	SurgeAmount      float64 `json:"surge_amount"`
	PlatformFee      float64 `json:"platform_fee"`
	CommissionRate   float64 `json:"commission_rate"`
	Commission       float64 `json:"commission"`
	ProviderEarnings float64 `json:"provider_earnings"`
	Total            float64 `json:"total"`
}

// Policy holds the commission and fee rates.
type Policy struct {
	GuideVerified   float64
	GuideUnverified float64
	DriverStandard  float64
	// Tiers maps a subscription tier to the driver commission rate it grants.
	Tiers           map[string]float64
	RidePlatformFee float64
}

func DefaultPolicy() Policy {
	return Policy{
		GuideVerified:   0.10,
		GuideUnverified: 0.15,
		DriverStandard:  0.05,
		Tiers:           map[string]float64{"premium": 0.08},
		RidePlatformFee: 0.05,
	}
}
