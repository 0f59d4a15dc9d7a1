// README: Base handler utilities (JSON helpers, caller identity, error mapping).
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/PearlPath/pearlpath-api/internal/http/middleware"
	"github.com/PearlPath/pearlpath-api/internal/modules/availability"
	"github.com/PearlPath/pearlpath-api/internal/modules/booking"
	"github.com/PearlPath/pearlpath-api/internal/modules/dispatch"
	"github.com/PearlPath/pearlpath-api/internal/modules/geo"
	"github.com/PearlPath/pearlpath-api/internal/modules/matching"
	"github.com/PearlPath/pearlpath-api/internal/modules/poi"
	"github.com/PearlPath/pearlpath-api/internal/modules/pricing"
	"github.com/PearlPath/pearlpath-api/internal/modules/provider"
	"github.com/PearlPath/pearlpath-api/internal/types"
)

type errorResponse struct {
	Error string `json:"error"`
}

type point struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

func (p *point) toPoint() (types.Point, bool) {
	if p == nil || p.Lat == nil || p.Lng == nil {
		return types.Point{}, false
	}
	return types.Point{Lat: *p.Lat, Lng: *p.Lng}, true
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

var (
	badRequest = []error{
		booking.ErrBadRequest, availability.ErrInvalidWindow, availability.ErrInvalidSchedule,
		booking.ErrInvalidRating, provider.ErrBadRequest, provider.ErrInvalidRating,
		dispatch.ErrBadRequest, dispatch.ErrNotRide, dispatch.ErrUnknownResponse,
		geo.ErrInvalidCoordinate, matching.ErrBadRequest, poi.ErrBadRequest, poi.ErrNoEvidence,
		pricing.ErrInvalidInput,
	}
	forbidden = []error{booking.ErrForbidden, provider.ErrForbidden, dispatch.ErrForbidden, poi.ErrForbidden}
	notFound  = []error{
		booking.ErrNotFound, provider.ErrNotFound, dispatch.ErrIncidentNotFound, dispatch.ErrShareNotFound, poi.ErrNotFound,
	}
	conflict = []error{
		booking.ErrInvalidTransition, booking.ErrConflict, booking.ErrCancellationWindowClosed,
		booking.ErrAlreadyRated, booking.ErrNotCompleted, availability.ErrSchedulingConflict,
		availability.ErrProviderUnavailable, availability.ErrOutsideWorkingHours, availability.ErrOutsideScheduledDays,
		dispatch.ErrInvalidTransition, dispatch.ErrConflict, dispatch.ErrTripNotShareable, poi.ErrConflict,
	}
)

func matches(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// statusFor maps service sentinels onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case matches(err, badRequest):
		return http.StatusBadRequest
	case matches(err, forbidden):
		return http.StatusForbidden
	case matches(err, notFound):
		return http.StatusNotFound
	case matches(err, conflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(c *gin.Context, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		writeError(c, status, "internal error")
		return
	}
	writeError(c, status, err.Error())
}

func bookingActor(c *gin.Context) booking.Actor {
	return booking.Actor{UserID: types.ID(middleware.CallerUID(c)), Admin: middleware.IsAdmin(c)}
}

func providerActor(c *gin.Context) provider.Actor {
	return provider.Actor{UserID: types.ID(middleware.CallerUID(c)), Role: middleware.CallerRole(c)}
}

func staff(c *gin.Context) dispatch.Staff {
	return dispatch.Staff{UserID: types.ID(middleware.CallerUID(c)), IsStaff: middleware.IsStaff(c)}
}

func moderator(c *gin.Context) poi.Moderator {
	return poi.Moderator{UserID: types.ID(middleware.CallerUID(c)), IsStaff: middleware.IsStaff(c)}
}

func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	return n, err == nil
}

func queryFloat(c *gin.Context, key string) (float64, bool) {
	raw := c.Query(key)
	if raw == "" {
		return 0, true
	}
	f, err := strconv.ParseFloat(raw, 64)
	return f, err == nil
}

func queryTime(c *gin.Context, key string) (time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return time.Time{}, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	return t, err == nil
}
