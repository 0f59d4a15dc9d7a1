// README: Provider handlers: search, registration, live location, online flag, schedule, verification.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/PearlPath/pearlpath-api/internal/http/middleware"
	"github.com/PearlPath/pearlpath-api/internal/modules/availability"
	"github.com/PearlPath/pearlpath-api/internal/modules/booking"
	"github.com/PearlPath/pearlpath-api/internal/modules/matching"
	"github.com/PearlPath/pearlpath-api/internal/modules/pricing"
	"github.com/PearlPath/pearlpath-api/internal/modules/provider"
	"github.com/PearlPath/pearlpath-api/internal/types"
)

type ProviderService interface {
	Register(ctx context.Context, cmd provider.RegisterCommand) (*provider.Provider, error)
	Get(ctx context.Context, id types.ID) (*provider.Provider, error)
	UpdateLocation(ctx context.Context, id types.ID, actor provider.Actor, loc types.Point) error
	SetOnline(ctx context.Context, id types.ID, actor provider.Actor, online bool) error
	UpdateSchedule(ctx context.Context, id types.ID, actor provider.Actor, sched availability.WeeklySchedule) error
	Verify(ctx context.Context, id types.ID, actor provider.Actor, v provider.Verification) error
}

type Searcher interface {
	Search(ctx context.Context, q matching.Query) ([]matching.Result, error)
}

type ProviderBookings interface {
	ListByProvider(ctx context.Context, providerID types.ID, limit int) ([]*booking.Booking, error)
}

type ProviderHandler struct {
	providers ProviderService
	search    Searcher
	bookings  ProviderBookings
}

func NewProviderHandler(providers ProviderService, search Searcher, bookings ProviderBookings) *ProviderHandler {
	return &ProviderHandler{providers: providers, search: search, bookings: bookings}
}

// Search handles GET /api/providers/search.
func (h *ProviderHandler) Search(c *gin.Context) {
	q := matching.Query{
		Kind:               types.ProviderKind(c.Query("kind")),
		Sort:               matching.SortKey(c.Query("sort")),
		Ride:               c.Query("ride") == "true",
		VerifiedOnly:       c.Query("verified") == "true",
		IncludeUnavailable: c.Query("include_unavailable") == "true",
	}
	if c.Query("lat") == "" || c.Query("lng") == "" {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	floats := map[string]*float64{
		"lat": &q.Location.Lat, "lng": &q.Location.Lng, "radius_km": &q.RadiusKm,
		"trip_km": &q.TripKm, "minutes": &q.Minutes, "min_rating": &q.MinRating, "max_price": &q.MaxPrice,
	}
	for key, dst := range floats {
		v, ok := queryFloat(c, key)
		if !ok {
			writeError(c, http.StatusBadRequest, "invalid "+key)
			return
		}
		*dst = v
	}
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		writeError(c, http.StatusBadRequest, "invalid limit")
		return
	}
	q.Limit = limit

	start, okStart := queryTime(c, "start")
	end, okEnd := queryTime(c, "end")
	if !okStart || !okEnd {
		writeError(c, http.StatusBadRequest, "start and end must be RFC3339")
		return
	}
	if !start.IsZero() || !end.IsZero() {
		q.Window = &availability.Window{Start: start, End: end}
	}

	results, err := h.search.Search(c.Request.Context(), q)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"providers": results})
}

type registerProviderReq struct {
	Kind             types.ProviderKind          `json:"kind"`
	DisplayName      string                      `json:"display_name"`
	Schedule         availability.WeeklySchedule `json:"schedule"`
	Location         *point                      `json:"location"`
	Rates            pricing.Rates               `json:"rates"`
	SubscriptionTier string                      `json:"subscription_tier"`
}

// Register handles POST /api/providers; the caller becomes the provider's user.
func (h *ProviderHandler) Register(c *gin.Context) {
	var req registerProviderReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	loc, ok := req.Location.toPoint()
	if !ok {
		writeError(c, http.StatusBadRequest, "location is required")
		return
	}
	p, err := h.providers.Register(c.Request.Context(), provider.RegisterCommand{
		Kind:             req.Kind,
		UserID:           types.ID(middleware.CallerUID(c)),
		DisplayName:      req.DisplayName,
		Schedule:         req.Schedule,
		Location:         loc,
		Rates:            req.Rates,
		SubscriptionTier: req.SubscriptionTier,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, p)
}

func (h *ProviderHandler) Get(c *gin.Context) {
	p, err := h.providers.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, p)
}

func (h *ProviderHandler) UpdateLocation(c *gin.Context) {
	var req point
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	loc, ok := req.toPoint()
	if !ok {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	if err := h.providers.UpdateLocation(c.Request.Context(), types.ID(c.Param("id")), providerActor(c), loc); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type onlineReq struct {
	Online *bool `json:"online"`
}

func (h *ProviderHandler) SetOnline(c *gin.Context) {
	var req onlineReq
	if err := c.ShouldBindJSON(&req); err != nil || req.Online == nil {
		writeError(c, http.StatusBadRequest, "online flag is required")
		return
	}
	if err := h.providers.SetOnline(c.Request.Context(), types.ID(c.Param("id")), providerActor(c), *req.Online); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"online": *req.Online})
}

func (h *ProviderHandler) UpdateSchedule(c *gin.Context) {
	var req availability.WeeklySchedule
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.providers.UpdateSchedule(c.Request.Context(), types.ID(c.Param("id")), providerActor(c), req); err != nil {
		writeServiceError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type verifyReq struct {
	Status provider.Verification `json:"status"`
}

// Verify handles PUT /api/providers/:id/verification for moderators.
func (h *ProviderHandler) Verify(c *gin.Context) {
	var req verifyReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.providers.Verify(c.Request.Context(), types.ID(c.Param("id")), providerActor(c), req.Status); err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"verification": req.Status})
}

// Bookings lists a provider's bookings for the provider's own user or staff.
func (h *ProviderHandler) Bookings(c *gin.Context) {
	p, err := h.providers.Get(c.Request.Context(), types.ID(c.Param("id")))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	if string(p.UserID) != middleware.CallerUID(c) && !middleware.IsStaff(c) {
		writeServiceError(c, provider.ErrForbidden)
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.bookings.ListByProvider(c.Request.Context(), p.ID, limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bookings": list})
}
