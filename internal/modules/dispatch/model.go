// README: Ride dispatch and safety records (SOS, incidents, trip shares).
package dispatch

import (
	"errors"
	"time"

	"github.com/PearlPath/pearlpath-api/internal/modules/booking"
	"github.com/PearlPath/pearlpath-api/internal/types"
)

var (
	ErrBadRequest        = errors.New("bad request")
	ErrForbidden         = errors.New("not allowed")
	ErrNotRide           = errors.New("booking is not a ride")
	ErrIncidentNotFound  = errors.New("incident not found")
	ErrInvalidTransition = errors.New("invalid incident transition")
	ErrShareNotFound     = errors.New("share token not found or expired")
	ErrTripNotShareable  = errors.New("trip is no longer active")
	ErrConflict          = errors.New("incident state conflict")
	ErrUnknownResponse   = errors.New("response must be accept or decline")
)

type IncidentType string

const (
	IncidentSOS    IncidentType = "sos"
	IncidentReport IncidentType = "incident"
)

type IncidentStatus string

const (
	IncidentOpen        IncidentStatus = "open"
	IncidentUnderReview IncidentStatus = "under_review"
	IncidentResolved    IncidentStatus = "resolved"
)

var AllowedIncidentTransitions = map[IncidentStatus][]IncidentStatus{
	IncidentOpen:        {IncidentUnderReview, IncidentResolved},
	IncidentUnderReview: {IncidentResolved},
}

func CanTransitionIncident(from, to IncidentStatus) bool {
	for _, s := range AllowedIncidentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

type Incident struct {
	ID             types.ID       `json:"id"`
	BookingID      types.ID       `json:"booking_id"`
	ReporterID     types.ID       `json:"reporter_id"`
	Type           IncidentType   `json:"type"`
	Location       types.Point    `json:"location"`
	Description    string         `json:"description"`
	Status         IncidentStatus `json:"status"`
	HandledBy      *types.ID      `json:"handled_by,omitempty"`
	ResolutionNote *string        `json:"resolution_note,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}

type Response string

const (
	ResponseAccept  Response = "accept"
	ResponseDecline Response = "decline"
)

// Share is a token a requester hands to friends or family to follow a ride.
type Share struct {
	Token     string    `json:"token"`
	BookingID types.ID  `json:"booking_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SharedTrip is what a share token holder sees.
type SharedTrip struct {
	BookingID      types.ID       `json:"booking_id"`
	Status         booking.Status `json:"status"`
	Pickup         types.Point    `json:"pickup"`
	Dropoff        *types.Point   `json:"dropoff,omitempty"`
	DriverLocation *types.Point   `json:"driver_location,omitempty"`
	StartedAt      *time.Time     `json:"started_at,omitempty"`
}
