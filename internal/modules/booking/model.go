// README: Booking aggregate, status flow and actor roles.
package booking

import (
	"time"

	"github.com/PearlPath/pearlpath-api/internal/modules/availability"
	"github.com/PearlPath/pearlpath-api/internal/types"
)

type Type string

const (
	TypeGuide    Type = "guide"
	TypeDriver   Type = "driver"
	TypeCombined Type = "combined"
	TypeRide     Type = "ride"
)

func (t Type) Valid() bool {
	switch t {
	case TypeGuide, TypeDriver, TypeCombined, TypeRide:
		return true
	}
	return false
}

type Status string

const (
	StatusNone       Status = "none"
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// OccupyingStatuses reserve a provider's time.
var OccupyingStatuses = []Status{StatusPending, StatusConfirmed, StatusInProgress}

type PaymentStatus string

const (
	PaymentUnpaid        PaymentStatus = "unpaid"
	PaymentDue           PaymentStatus = "due"
	PaymentRefundPending PaymentStatus = "refund_pending"
	PaymentVoid          PaymentStatus = "void"
)

type Role string

const (
	RoleRequester Role = "requester"
	RoleProvider  Role = "provider"
	RoleAdmin     Role = "admin"
	RoleSystem    Role = "system"
)

type Action string

const (
	ActionConfirm  Action = "confirm"
	ActionStart    Action = "start"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
)

var actionTargets = map[Action]Status{
	ActionConfirm:  StatusConfirmed,
	ActionStart:    StatusInProgress,
	ActionComplete: StatusCompleted,
	ActionCancel:   StatusCancelled,
}

func (a Action) Target() (Status, bool) {
	s, ok := actionTargets[a]
	return s, ok
}

// Reason recorded when a ride request is cancelled because the driver never answered.
const ReasonProviderTimeout = "ProviderTimeout"

type Cancellation struct {
	CancelledBy  Role      `json:"cancelled_by"`
	Reason       string    `json:"reason,omitempty"`
	RefundAmount float64   `json:"refund_amount"`
	CancelledAt  time.Time `json:"cancelled_at"`
}

type Booking struct {
	ID               types.ID            `json:"id"`
	RequesterID      types.ID            `json:"requester_id"`
	GuideID          *types.ID           `json:"guide_id,omitempty"`
	DriverID         *types.ID           `json:"driver_id,omitempty"`
	Type             Type                `json:"type"`
	Window           availability.Window `json:"window"`
	DurationMinutes  int                 `json:"duration_minutes"`
	PartySize        int                 `json:"party_size"`
	Pickup           types.Point         `json:"pickup"`
	Dropoff          *types.Point        `json:"dropoff,omitempty"`
	DistanceKm       float64             `json:"distance_km"`
	SurgeMultiplier  float64             `json:"surge_multiplier"`
	EstimatedAmount  float64             `json:"estimated_amount"`
	TotalAmount      float64             `json:"total_amount"`
	CommissionAmount float64             `json:"commission_amount"`
	PlatformFee      float64             `json:"platform_fee"`
	Variance         *float64            `json:"variance,omitempty"`
	Status           Status              `json:"status"`
	StatusVersion    int                 `json:"status_version"`
	PaymentStatus    PaymentStatus       `json:"payment_status"`
	Cancellation     *Cancellation       `json:"cancellation,omitempty"`
	Rating           *int                `json:"rating,omitempty"`
	Review           *string             `json:"review,omitempty"`
	RatedAt          *time.Time          `json:"rated_at,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	ConfirmedAt      *time.Time          `json:"confirmed_at,omitempty"`
	StartedAt        *time.Time          `json:"started_at,omitempty"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty"`
}

// Refs lists the providers engaged by the booking, guide first.
func (b *Booking) Refs() []types.ProviderRef {
	refs := make([]types.ProviderRef, 0, 2)
	if b.GuideID != nil {
		refs = append(refs, types.ProviderRef{Kind: types.KindGuide, ID: *b.GuideID})
	}
	if b.DriverID != nil {
		refs = append(refs, types.ProviderRef{Kind: types.KindDriver, ID: *b.DriverID})
	}
	return refs
}

func (b *Booking) ProviderIDs() []types.ID {
	refs := b.Refs()
	ids := make([]types.ID, len(refs))
	for i, r := range refs {
		ids[i] = r.ID
	}
	return ids
}

type Event struct {
	ID         int64
	BookingID  types.ID
	FromStatus Status
	ToStatus   Status
	ActorRole  Role
	ActorID    *types.ID
	CreatedAt  time.Time
}

// AllowedTransitions represents the booking state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusPending:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func IsTerminal(s Status) bool {
	return s == StatusCompleted || s == StatusCancelled
}
