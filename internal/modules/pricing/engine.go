// README: Pure fare engine: subtotal, bounded surge, commission split and final recompute.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/PearlPath/pearlpath-api/internal/types"
)

var ErrInvalidInput = errors.New("invalid pricing input")

const (
	MaxMultiplier = 2.0

	rushBump        = 0.2
	weekendBump     = 0.1
	rainBump        = 0.15
	stormBump       = 0.25
	highDemandBump  = 0.3
	busyDemandBump  = 0.15
	highDemandRatio = 0.8
	busyDemandRatio = 0.6
)

type Engine struct {
	policy Policy
	loc    *time.Location
}

// NewEngine evaluates rush hours and weekends in loc.
func NewEngine(policy Policy, loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{policy: policy, loc: loc}
}

// Multiplier sums the surge bumps for in, capped at MaxMultiplier.
func (e *Engine) Multiplier(in SurgeInputs) float64 {
	m := 1.0
	if !in.At.IsZero() {
		t := in.At.In(e.loc)
		switch t.Weekday() {
		case time.Saturday, time.Sunday:
			m += weekendBump
		default:
			if h := t.Hour(); (h >= 7 && h < 9) || (h >= 17 && h < 19) {
				m += rushBump
			}
		}
	}
	switch in.Weather {
	case WeatherRain:
		m += rainBump
	case WeatherStorm:
		m += stormBump
	}
	switch {
	case in.DemandRatio > highDemandRatio:
		m += highDemandBump
	case in.DemandRatio > busyDemandRatio:
		m += busyDemandBump
	}
	return math.Min(m, MaxMultiplier)
}

func (e *Engine) CommissionRate(kind types.ProviderKind, verified bool, tier string) float64 {
	if kind == types.KindGuide {
		if verified {
			return e.policy.GuideVerified
		}
		return e.policy.GuideUnverified
	}
	if rate, ok := e.policy.Tiers[tier]; ok && tier != "" {
		return rate
	}
	return e.policy.DriverStandard
}

func (e *Engine) Estimate(r Request) (Breakdown, error) {
	if err := validate(r); err != nil {
		return Breakdown{}, err
	}
	subtotal := r.Rates.Base + r.DistanceKm*r.Rates.PerKm + r.DurationMinutes*r.Rates.PerMinute
	m := e.Multiplier(r.Surge)
	if r.FixedMultiplier > 0 {
		m = math.Min(r.FixedMultiplier, MaxMultiplier)
	}
	surge := subtotal * (m - 1)
	postSurge := subtotal + surge

	fee := 0.0
	if r.Ride {
		fee = postSurge * e.policy.RidePlatformFee
	}
	rate := e.CommissionRate(r.Kind, r.Verified, r.SubscriptionTier)
	commission := postSurge * rate

	return Breakdown{
		Subtotal:         types.RoundMoney(subtotal),
		SurgeMultiplier:  types.RoundMoney(m),
		SurgeAmount:      types.RoundMoney(surge),
		PlatformFee:      types.RoundMoney(fee),
		CommissionRate:   rate,
		Commission:       types.RoundMoney(commission),
		ProviderEarnings: types.RoundMoney(postSurge - commission),
		Total:            types.RoundMoney(postSurge + fee),
	}, nil
}

// Final reprices r from actual distance and duration and reports the
// difference against the amount quoted at creation.
func (e *Engine) Final(r Request, estimatedTotal float64) (Breakdown, float64, error) {
	b, err := e.Estimate(r)
	if err != nil {
		return Breakdown{}, 0, err
	}
	return b, types.RoundMoney(b.Total - estimatedTotal), nil
}

// Combine sums per-provider breakdowns of a combined booking.
func Combine(parts ...Breakdown) Breakdown {
	var out Breakdown
	for i, p := range parts {
		if i == 0 {
			out.SurgeMultiplier = p.SurgeMultiplier
			out.CommissionRate = p.CommissionRate
		}
		out.Subtotal += p.Subtotal
		out.SurgeAmount += p.SurgeAmount
		out.PlatformFee += p.PlatformFee
		out.Commission += p.Commission
		out.ProviderEarnings += p.ProviderEarnings
		out.Total += p.Total
	}
	if len(parts) > 1 {
		// blended rate across providers
		out.CommissionRate = 0
		if out.Subtotal+out.SurgeAmount > 0 {
			out.CommissionRate = types.RoundTo(out.Commission/(out.Subtotal+out.SurgeAmount), 4)
		}
	}
	out.Subtotal = types.RoundMoney(out.Subtotal)
	out.SurgeAmount = types.RoundMoney(out.SurgeAmount)
	out.PlatformFee = types.RoundMoney(out.PlatformFee)
	out.Commission = types.RoundMoney(out.Commission)
	out.ProviderEarnings = types.RoundMoney(out.ProviderEarnings)
	out.Total = types.RoundMoney(out.Total)
	return out
}

func validate(r Request) error {
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: provider kind %q", ErrInvalidInput, r.Kind)
	}
	vals := []float64{r.Rates.Base, r.Rates.PerKm, r.Rates.PerMinute, r.DistanceKm, r.DurationMinutes}
	for _, v := range vals {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: negative or non-finite amount", ErrInvalidInput)
		}
	}
	if r.FixedMultiplier != 0 && r.FixedMultiplier < 1 {
		return fmt.Errorf("%w: multiplier %v", ErrInvalidInput, r.FixedMultiplier)
	}
	if r.Surge.DemandRatio < 0 || r.Surge.DemandRatio > 1 {
		return fmt.Errorf("%w: demand ratio %v", ErrInvalidInput, r.Surge.DemandRatio)
	}
	return nil
}
