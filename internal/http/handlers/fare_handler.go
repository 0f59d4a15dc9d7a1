// README: Fare estimate handler.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PearlPath/pearlpath-api/internal/modules/pricing"
	"github.com/PearlPath/pearlpath-api/internal/types"
)

type Quoter interface {
	Quote(ctx context.Context, cmd pricing.QuoteCommand) (pricing.Breakdown, error)
}

type FareHandler struct {
	pricing  Quoter
	currency string
}

func NewFareHandler(q Quoter, currency string) *FareHandler {
	return &FareHandler{pricing: q, currency: currency}
}

type fareResp struct {
	pricing.Breakdown
	Currency string `json:"currency"`
}

type estimateReq struct {
	Kind             types.ProviderKind `json:"kind"`
	Ride             bool               `json:"ride"`
	Rates            pricing.Rates      `json:"rates"`
	DistanceKm       float64            `json:"distance_km"`
	DurationMinutes  float64            `json:"duration_minutes"`
	Verified         bool               `json:"verified"`
	SubscriptionTier string             `json:"subscription_tier"`
	At               time.Time          `json:"at"`
	Weather          pricing.Weather    `json:"weather"`
	DemandRatio      float64            `json:"demand_ratio"`
	// Location switches to live surge conditions at that point.
	Location *point `json:"location"`
}

// Estimate handles POST /api/fares/estimate.
func (h *FareHandler) Estimate(c *gin.Context) {
	var req estimateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	cmd := pricing.QuoteCommand{Request: pricing.Request{
		Kind:             req.Kind,
		Ride:             req.Ride,
		Rates:            req.Rates,
		DistanceKm:       req.DistanceKm,
		DurationMinutes:  req.DurationMinutes,
		Verified:         req.Verified,
		SubscriptionTier: req.SubscriptionTier,
		Surge:            pricing.SurgeInputs{At: req.At, Weather: req.Weather, DemandRatio: req.DemandRatio},
	}}
	if req.Location != nil {
		loc, ok := req.Location.toPoint()
		if !ok {
			writeError(c, http.StatusBadRequest, "location needs lat and lng")
			return
		}
		cmd.Live, cmd.Location = true, loc
	}
	b, err := h.pricing.Quote(c.Request.Context(), cmd)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, fareResp{Breakdown: b, Currency: h.currency})
}
