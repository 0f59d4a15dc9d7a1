// README: Ride dispatch handlers: request, driver response, start/complete, trip sharing, SOS and incident reports.
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PearlPath/pearlpath-api/internal/http/middleware"
	"github.com/PearlPath/pearlpath-api/internal/modules/booking"
	"github.com/PearlPath/pearlpath-api/internal/modules/dispatch"
	"github.com/PearlPath/pearlpath-api/internal/types"
)

type DispatchService interface {
	RequestRide(ctx context.Context, r dispatch.RideRequest) (*booking.Booking, error)
	Respond(ctx context.Context, cmd dispatch.RespondCommand) (*booking.Booking, error)
	StartRide(ctx context.Context, id types.ID, actor booking.Actor) (*booking.Booking, error)
	CompleteRide(ctx context.Context, id types.ID, actor booking.Actor, actuals *booking.Actuals) (*booking.Booking, error)
	ShareTrip(ctx context.Context, id, requesterID types.ID) (*dispatch.Share, error)
	ViewSharedTrip(ctx context.Context, token string) (*dispatch.SharedTrip, error)
	TriggerSOS(ctx context.Context, cmd dispatch.SOSCommand) (*dispatch.Incident, error)
	ReportIncident(ctx context.Context, cmd dispatch.ReportCommand) (*dispatch.Incident, error)
	GetIncident(ctx context.Context, id types.ID, caller dispatch.Staff) (*dispatch.Incident, error)
	ListOpenIncidents(ctx context.Context, caller dispatch.Staff, limit int) ([]*dispatch.Incident, error)
	ReviewIncident(ctx context.Context, id types.ID, caller dispatch.Staff) (*dispatch.Incident, error)
	ResolveIncident(ctx context.Context, id types.ID, caller dispatch.Staff, note string) (*dispatch.Incident, error)
}

type RideHandler struct {
	dispatch DispatchService
}

func NewRideHandler(svc DispatchService) *RideHandler {
	return &RideHandler{dispatch: svc}
}

type rideReq struct {
	DriverID  types.ID  `json:"driver_id"`
	Pickup    *point    `json:"pickup"`
	Dropoff   *point    `json:"dropoff"`
	At        time.Time `json:"at"`
	PartySize int       `json:"party_size"`
}

// Request handles POST /api/rides.
func (h *RideHandler) Request(c *gin.Context) {
	var req rideReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	pickup, okP := req.Pickup.toPoint()
	dropoff, okD := req.Dropoff.toPoint()
	if !okP || !okD {
		writeError(c, http.StatusBadRequest, "pickup and dropoff are required")
		return
	}
	b, err := h.dispatch.RequestRide(c.Request.Context(), dispatch.RideRequest{
		RequesterID: types.ID(middleware.CallerUID(c)),
		DriverID:    req.DriverID,
		Pickup:      pickup,
		Dropoff:     dropoff,
		At:          req.At,
		PartySize:   req.PartySize,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, b)
}

type respondReq struct {
	Response dispatch.Response `json:"response"`
	Reason   string            `json:"reason"`
}

// Respond handles POST /api/rides/:id/respond from the assigned driver.
func (h *RideHandler) Respond(c *gin.Context) {
	var req respondReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	b, err := h.dispatch.Respond(c.Request.Context(), dispatch.RespondCommand{
		BookingID: types.ID(c.Param("id")),
		Actor:     bookingActor(c),
		Response:  req.Response,
		Reason:    req.Reason,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}

func (h *RideHandler) Start(c *gin.Context) {
	b, err := h.dispatch.StartRide(c.Request.Context(), types.ID(c.Param("id")), bookingActor(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}

type completeReq struct {
	Actuals *booking.Actuals `json:"actuals"`
}

func (h *RideHandler) Complete(c *gin.Context) {
	var req completeReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	b, err := h.dispatch.CompleteRide(c.Request.Context(), types.ID(c.Param("id")), bookingActor(c), req.Actuals)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, b)
}

func (h *RideHandler) Share(c *gin.Context) {
	share, err := h.dispatch.ShareTrip(c.Request.Context(), types.ID(c.Param("id")), types.ID(middleware.CallerUID(c)))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, share)
}

// ViewShared handles the unauthenticated GET /api/trips/shared/:token.
func (h *RideHandler) ViewShared(c *gin.Context) {
	trip, err := h.dispatch.ViewSharedTrip(c.Request.Context(), c.Param("token"))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, trip)
}

type sosReq struct {
	Location *point `json:"location"`
	Message  string `json:"message"`
}

// SOS handles POST /api/rides/:id/sos. A missing location falls back to the pickup.
func (h *RideHandler) SOS(c *gin.Context) {
	var req sosReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	cmd := dispatch.SOSCommand{
		BookingID:   types.ID(c.Param("id")),
		RequesterID: types.ID(middleware.CallerUID(c)),
		Message:     req.Message,
	}
	if loc, ok := req.Location.toPoint(); ok {
		cmd.Location = &loc
	}
	inc, err := h.dispatch.TriggerSOS(c.Request.Context(), cmd)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, inc)
}

type reportReq struct {
	Location    *point `json:"location"`
	Description string `json:"description"`
}

// Report handles POST /api/bookings/:id/incidents.
func (h *RideHandler) Report(c *gin.Context) {
	var req reportReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	loc, ok := req.Location.toPoint()
	if !ok {
		writeError(c, http.StatusBadRequest, "location is required")
		return
	}
	inc, err := h.dispatch.ReportIncident(c.Request.Context(), dispatch.ReportCommand{
		BookingID:   types.ID(c.Param("id")),
		ReporterID:  types.ID(middleware.CallerUID(c)),
		Location:    loc,
		Description: req.Description,
	})
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, inc)
}

func (h *RideHandler) ListIncidents(c *gin.Context) {
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		writeError(c, http.StatusBadRequest, "invalid limit")
		return
	}
	list, err := h.dispatch.ListOpenIncidents(c.Request.Context(), staff(c), limit)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"incidents": list})
}

func (h *RideHandler) GetIncident(c *gin.Context) {
	inc, err := h.dispatch.GetIncident(c.Request.Context(), types.ID(c.Param("id")), staff(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, inc)
}

func (h *RideHandler) ReviewIncident(c *gin.Context) {
	inc, err := h.dispatch.ReviewIncident(c.Request.Context(), types.ID(c.Param("id")), staff(c))
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, inc)
}

type resolveReq struct {
	Note string `json:"note"`
}

func (h *RideHandler) ResolveIncident(c *gin.Context) {
	var req resolveReq
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	inc, err := h.dispatch.ResolveIncident(c.Request.Context(), types.ID(c.Param("id")), staff(c), req.Note)
	if err != nil {
		writeServiceError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, inc)
}
