// README: Booking handlers for create/get/list, lifecycle transitions and rating.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PearlPath/pearlpath-api/internal/http/middleware"
	"github.com/PearlPath/pearlpath-api/internal/modules/availability"
	"github.com/PearlPath/pearlpath-api/internal/modules/booking"
	"github.com/PearlPath/pearlpath-api/internal/types"
)

type BookingService interface {
	Create(ctx context.Context, cmd booking.CreateCommand) (*booking.Booking, error)
	Transition(ctx context.Context, cmd booking.TransitionCommand) (*booking.Booking, error)
	Decline(ctx context.Context, id types.ID, actor booking.Actor, reason string) (*booking.Booking, error)
	Rate(ctx context.Context, cmd booking.RateCommand) (*booking.Booking, error)
	GetForActor(ctx context.Context, id types.ID, actor booking.Actor) (*booking.Booking, error)
	ListByRequester(ctx context.Context, requesterID types.ID, limit int) ([]*booking.Booking, error)
}

type BookingHandler struct {
	bookings BookingService
}

func NewBookingHandler(svc BookingService) *BookingHandler {
	return &BookingHandler{bookings: svc}
}

type createBookingReq struct {
	Type      booking.Type        `json:"type"`
	Providers []types.ProviderRef `json:"providers"`
	Start     time.Time           `json:"start"`
	End       time.Time           `json:"end"`
	Pickup    *point              `json:"pickup"`
	Dropoff   *point              `json:"dropoff"`
	PartySize int                 `json:"party_size"`
}

// Create handles POST /api/bookings; the caller is the requester.
func (h *BookingHandler) Create(c *gin.Context) {
	var req createBookingReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	pickup, ok := req.Pickup.toPoint()
	if !ok {
		writeError(c, http.StatusBadRequest, "pickup is required")
		return
	}
	cmd := booking.CreateCommand{
		RequesterID: types.ID(middleware.CallerUID(c)),
		Type:        req.Type,
		Refs:        req.Providers,
		Window:      availability.Window{Start: req.Start, End: req.End},
		Pickup:      pickup,
		PartySize:   req.PartySize,
	}
	if req.Dropoff != nil {
		d, ok := req.Dropoff.toPoint()
		if !ok {
			writeError(c, http.StatusBadRequest, "dropoff needs lat and lng")
			return
		}
		cmd.Dropoff = &d
	}
	b, err := h.bookings.Create(c.Request.Context(), cmd)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, b)
}

func (h *BookingHandler) Get(c *gin.Context) {
	b, err := h.bookings.GetForActor(c.Request.Context(), types.ID(c.Param("id")), bookingActor(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}

// ListMine returns the caller's bookings as requester.
func (h *BookingHandler) ListMine(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.bookings.ListByRequester(c.Request.Context(), types.ID(middleware.CallerUID(c)), limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"bookings": list})
}

type transitionReq struct {
	Reason  string           `json:"reason"`
	Actuals *booking.Actuals `json:"actuals"`
}

// Transition handles POST /api/bookings/:id/:action for confirm, start,
// complete, cancel and decline.
func (h *BookingHandler) Transition(c *gin.Context) {
	var req transitionReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	id := types.ID(c.Param("id"))
	action := booking.Action(c.Param("action"))

	var (
		b   *booking.Booking
		err error
	)
	if action == "decline" {
		b, err = h.bookings.Decline(c.Request.Context(), id, bookingActor(c), req.Reason)
	} else {
		if _, ok := action.Target(); !ok {
			writeError(c, http.StatusNotFound, "unknown action")
			return
		}
		b, err = h.bookings.Transition(c.Request.Context(), booking.TransitionCommand{
			BookingID: id,
			Actor:     bookingActor(c),
			Action:    action,
			Reason:    req.Reason,
			Actuals:   req.Actuals,
		})
	}
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}

type rateReq struct {
	Rating int    `json:"rating"`
	Review string `json:"review"`
}

func (h *BookingHandler) Rate(c *gin.Context) {
	var req rateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	b, err := h.bookings.Rate(c.Request.Context(), booking.RateCommand{
		BookingID:   types.ID(c.Param("id")),
		RequesterID: types.ID(middleware.CallerUID(c)),
		Rating:      req.Rating,
		Review:      req.Review,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}
