// README: Dispatch service layers ride request/response and safety actions over the booking machine.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/PearlPath/pearlpath-api/internal/maps"
	"github.com/PearlPath/pearlpath-api/internal/modules/availability"
	"github.com/PearlPath/pearlpath-api/internal/modules/booking"
	"github.com/PearlPath/pearlpath-api/internal/modules/geo"
	"github.com/PearlPath/pearlpath-api/internal/modules/notify"
	"github.com/PearlPath/pearlpath-api/internal/observability"
	"github.com/PearlPath/pearlpath-api/internal/types"
)

const maxDescriptionLen = 2000

type Bookings interface {
	CreateRouted(ctx context.Context, cmd booking.CreateCommand, routeKm float64) (*booking.Booking, error)
	Get(ctx context.Context, id types.ID) (*booking.Booking, error)
	Transition(ctx context.Context, cmd booking.TransitionCommand) (*booking.Booking, error)
	Decline(ctx context.Context, id types.ID, actor booking.Actor, reason string) (*booking.Booking, error)
	Expire(ctx context.Context, id types.ID) (*booking.Booking, error)
	ListUnansweredRides(ctx context.Context, olderThan time.Duration, limit int) ([]*booking.Booking, error)
	Parties(ctx context.Context, b *booking.Booking) (types.ID, map[types.ProviderKind]types.ID, error)
}

type Routes interface {
	Estimate(ctx context.Context, origin, destination types.Point) (maps.Route, error)
}

type Incidents interface {
	Create(ctx context.Context, in *Incident) error
	Get(ctx context.Context, id types.ID) (*Incident, error)
	ListOpen(ctx context.Context, limit int) ([]*Incident, error)
	UpdateStatus(ctx context.Context, id types.ID, from, to IncidentStatus, handledBy types.ID, note *string, at time.Time) (bool, error)
}

type Shares interface {
	Put(ctx context.Context, token string, bookingID types.ID, ttl time.Duration) error
	Lookup(ctx context.Context, token string) (types.ID, error)
}

type Positions interface {
	LivePosition(ctx context.Context, kind types.ProviderKind, id types.ID) (types.Point, bool, error)
}

type Publisher interface {
	Publish(ctx context.Context, e notify.Event)
}

type Config struct {
	// ResponseTimeout is how long a driver has to answer a ride request.
	ResponseTimeout time.Duration
	ShareTTL        time.Duration
	SweepBatch      int
}

func DefaultConfig() Config {
	return Config{ResponseTimeout: 2 * time.Minute, ShareTTL: 12 * time.Hour, SweepBatch: 100}
}

// Staff identifies a caller on the safety desk.
type Staff struct {
	UserID  types.ID
	IsStaff bool
}

type Deps struct {
	Bookings  Bookings
	Routes    Routes
	Incidents Incidents
	Shares    Shares
	Positions Positions
	Notifier  Publisher
	Config    Config
	Log       logrus.FieldLogger
	Clock     func() time.Time
}

type Service struct {
	bookings  Bookings
	routes    Routes
	incidents Incidents
	shares    Shares
	positions Positions
	notifier  Publisher
	cfg       Config
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		bookings:  d.Bookings,
		routes:    d.Routes,
		incidents: d.Incidents,
		shares:    d.Shares,
		positions: d.Positions,
		notifier:  d.Notifier,
		cfg:       d.Config,
		log:       d.Log,
		now:       d.Clock,
	}
	def := DefaultConfig()
	if s.cfg.ResponseTimeout <= 0 {
		s.cfg.ResponseTimeout = def.ResponseTimeout
	}
	if s.cfg.ShareTTL <= 0 {
		s.cfg.ShareTTL = def.ShareTTL
	}
	if s.cfg.SweepBatch <= 0 {
		s.cfg.SweepBatch = def.SweepBatch
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	return s
}

type RideRequest struct {
	RequesterID types.ID
	DriverID    types.ID
	Pickup      types.Point
	Dropoff     types.Point
	// At schedules the pickup; zero means now.
	At        time.Time
	PartySize int
}

// RequestRide books one driver for a ride sized by the route estimate.
func (s *Service) RequestRide(ctx context.Context, r RideRequest) (*booking.Booking, error) {
	if r.DriverID == "" {
		return nil, fmt.Errorf("%w: driver required", ErrBadRequest)
	}
	route, err := s.routes.Estimate(ctx, r.Pickup, r.Dropoff)
	if err != nil {
		return nil, err
	}
	start := r.At
	if start.IsZero() {
		start = s.now()
	}
	length := route.Duration.Round(time.Minute)
	if length < time.Minute {
		length = time.Minute
	}
	dropoff := r.Dropoff
	return s.bookings.CreateRouted(ctx, booking.CreateCommand{
		RequesterID: r.RequesterID,
		Type:        booking.TypeRide,
		Refs:        []types.ProviderRef{{Kind: types.KindDriver, ID: r.DriverID}},
		Window:      availability.Window{Start: start, End: start.Add(length)},
		Pickup:      r.Pickup,
		Dropoff:     &dropoff,
		PartySize:   r.PartySize,
	}, route.DistanceKm)
}

type RespondCommand struct {
	BookingID types.ID
	Actor     booking.Actor
	Response  Response
	Reason    string
}

// Respond records the assigned driver's answer to a pending ride request.
func (s *Service) Respond(ctx context.Context, cmd RespondCommand) (*booking.Booking, error) {
	if _, err := s.ride(ctx, cmd.BookingID); err != nil {
		return nil, err
	}
	switch cmd.Response {
	case ResponseAccept:
		return s.bookings.Transition(ctx, booking.TransitionCommand{
			BookingID: cmd.BookingID,
			Actor:     cmd.Actor,
			Action:    booking.ActionConfirm,
		})
	case ResponseDecline:
		return s.bookings.Decline(ctx, cmd.BookingID, cmd.Actor, cmd.Reason)
	default:
		return nil, ErrUnknownResponse
	}
}

// ExpireUnanswered cancels a ride request that is still pending. It reports
// false when the driver answered first.
func (s *Service) ExpireUnanswered(ctx context.Context, id types.ID) (bool, error) {
	if _, err := s.ride(ctx, id); err != nil {
		return false, err
	}
	_, err := s.bookings.Expire(ctx, id)
	if errors.Is(err, booking.ErrInvalidTransition) || errors.Is(err, booking.ErrConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	observability.RidesExpired.Inc()
	s.log.WithField("booking_id", id).Info("ride request expired")
	return true, nil
}

// ListUnanswered returns ride requests pending longer than olderThan.
func (s *Service) ListUnanswered(ctx context.Context, olderThan time.Duration) ([]*booking.Booking, error) {
	return s.bookings.ListUnansweredRides(ctx, olderThan, s.cfg.SweepBatch)
}

// SweepUnanswered expires every ride request older than the response timeout.
// It is driven by an external ticker.
func (s *Service) SweepUnanswered(ctx context.Context) (int, error) {
	pending, err := s.ListUnanswered(ctx, s.cfg.ResponseTimeout)
	if err != nil {
		return 0, err
	}
	var expired int
	var errs []error
	for _, b := range pending {
		ok, err := s.ExpireUnanswered(ctx, b.ID)
		if err != nil {
			errs = append(errs, fmt.Errorf("expire %s: %w", b.ID, err))
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}

func (s *Service) StartRide(ctx context.Context, id types.ID, actor booking.Actor) (*booking.Booking, error) {
	if _, err := s.ride(ctx, id); err != nil {
		return nil, err
	}
	return s.bookings.Transition(ctx, booking.TransitionCommand{BookingID: id, Actor: actor, Action: booking.ActionStart})
}

// CompleteRide finishes the ride; actuals, when given, reprice the fare.
func (s *Service) CompleteRide(ctx context.Context, id types.ID, actor booking.Actor, actuals *booking.Actuals) (*booking.Booking, error) {
	if _, err := s.ride(ctx, id); err != nil {
		return nil, err
	}
	return s.bookings.Transition(ctx, booking.TransitionCommand{
		BookingID: id,
		Actor:     actor,
		Action:    booking.ActionComplete,
		Actuals:   actuals,
	})
}

// ShareTrip issues a share token for an active ride. It never changes the ride.
func (s *Service) ShareTrip(ctx context.Context, id, requesterID types.ID) (*Share, error) {
	b, err := s.ride(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.RequesterID != requesterID {
		return nil, ErrForbidden
	}
	if booking.IsTerminal(b.Status) {
		return nil, ErrTripNotShareable
	}
	token := uuid.NewString()
	if err := s.shares.Put(ctx, token, b.ID, s.cfg.ShareTTL); err != nil {
		return nil, fmt.Errorf("store share token: %w", err)
	}
	return &Share{Token: token, BookingID: b.ID, ExpiresAt: s.now().Add(s.cfg.ShareTTL)}, nil
}

func (s *Service) ViewSharedTrip(ctx context.Context, token string) (*SharedTrip, error) {
	if token == "" {
		return nil, ErrShareNotFound
	}
	id, err := s.shares.Lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	b, err := s.bookings.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	trip := &SharedTrip{
		BookingID: b.ID,
		Status:    b.Status,
		Pickup:    b.Pickup,
		Dropoff:   b.Dropoff,
		StartedAt: b.StartedAt,
	}
	if b.DriverID == nil || booking.IsTerminal(b.Status) || s.positions == nil {
		return trip, nil
	}
	pos, ok, err := s.positions.LivePosition(ctx, types.KindDriver, *b.DriverID)
	if err != nil {
		s.log.WithError(err).WithField("booking_id", b.ID).Warn("driver position lookup failed")
		return trip, nil
	}
	if ok {
		trip.DriverLocation = &pos
	}
	return trip, nil
}

type SOSCommand struct {
	BookingID   types.ID
	RequesterID types.ID
	// Location is the device position; nil or invalid falls back to the pickup.
	Location *types.Point
	Message  string
}

// TriggerSOS always records an incident for the booking's requester,
// whatever state the booking is in.
func (s *Service) TriggerSOS(ctx context.Context, cmd SOSCommand) (*Incident, error) {
	b, err := s.bookings.Get(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	if b.RequesterID != cmd.RequesterID {
		return nil, ErrForbidden
	}
	loc := b.Pickup
	if cmd.Location != nil {
		if err := geo.Validate(*cmd.Location); err != nil {
			s.log.WithError(err).WithField("booking_id", b.ID).Warn("sos without usable location, using pickup")
		} else {
			loc = *cmd.Location
		}
	}
	in, err := s.record(ctx, b.ID, cmd.RequesterID, IncidentSOS, loc, truncate(cmd.Message))
	if err != nil {
		return nil, err
	}
	observability.SOSTriggered.Inc()
	s.log.WithFields(logrus.Fields{"booking_id": b.ID, "incident_id": in.ID}).Warn("sos triggered")
	s.alert(ctx, in, "SOS alert", "A traveller has triggered an SOS.")
	return in, nil
}

type ReportCommand struct {
	BookingID   types.ID
	ReporterID  types.ID
	Location    types.Point
	Description string
}

// ReportIncident lets the requester or an assigned provider log an incident.
func (s *Service) ReportIncident(ctx context.Context, cmd ReportCommand) (*Incident, error) {
	desc := strings.TrimSpace(cmd.Description)
	if desc == "" {
		return nil, fmt.Errorf("%w: description required", ErrBadRequest)
	}
	if err := geo.Validate(cmd.Location); err != nil {
		return nil, err
	}
	b, err := s.bookings.Get(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	requester, providers, err := s.bookings.Parties(ctx, b)
	if err != nil {
		return nil, err
	}
	allowed := requester == cmd.ReporterID
	for _, uid := range providers {
		allowed = allowed || uid == cmd.ReporterID
	}
	if !allowed || cmd.ReporterID == "" {
		return nil, ErrForbidden
	}
	in, err := s.record(ctx, b.ID, cmd.ReporterID, IncidentReport, cmd.Location, truncate(desc))
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"booking_id": b.ID, "incident_id": in.ID}).Info("incident reported")
	s.alert(ctx, in, "Incident reported", "A new safety incident needs review.")
	return in, nil
}

func (s *Service) record(ctx context.Context, bookingID, reporter types.ID, kind IncidentType, loc types.Point, desc string) (*Incident, error) {
	now := s.now()
	in := &Incident{
		ID:          types.ID(uuid.NewString()),
		BookingID:   bookingID,
		ReporterID:  reporter,
		Type:        kind,
		Location:    loc,
		Description: desc,
		Status:      IncidentOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.incidents.Create(ctx, in); err != nil {
		return nil, fmt.Errorf("record %s incident: %w", kind, err)
	}
	return in, nil
}

func (s *Service) alert(ctx context.Context, in *Incident, title, body string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(ctx, notify.Event{
		Type:      "safety." + string(in.Type),
		BookingID: in.BookingID,
		Topics:    []string{notify.SafetyTopic},
		Title:     title,
		Body:      body,
		Data: map[string]string{
			"incident_id": string(in.ID),
			"lat":         fmt.Sprintf("%.6f", in.Location.Lat),
			"lng":         fmt.Sprintf("%.6f", in.Location.Lng),
		},
	})
}

func (s *Service) GetIncident(ctx context.Context, id types.ID, caller Staff) (*Incident, error) {
	in, err := s.incidents.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !caller.IsStaff && in.ReporterID != caller.UserID {
		return nil, ErrForbidden
	}
	return in, nil
}

func (s *Service) ListOpenIncidents(ctx context.Context, caller Staff, limit int) ([]*Incident, error) {
	if !caller.IsStaff {
		return nil, ErrForbidden
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.incidents.ListOpen(ctx, limit)
}

func (s *Service) ReviewIncident(ctx context.Context, id types.ID, caller Staff) (*Incident, error) {
	return s.moveIncident(ctx, id, caller, IncidentUnderReview, nil)
}

func (s *Service) ResolveIncident(ctx context.Context, id types.ID, caller Staff, note string) (*Incident, error) {
	var n *string
	if t := strings.TrimSpace(note); t != "" {
		t = truncate(t)
		n = &t
	}
	return s.moveIncident(ctx, id, caller, IncidentResolved, n)
}

func (s *Service) moveIncident(ctx context.Context, id types.ID, caller Staff, to IncidentStatus, note *string) (*Incident, error) {
	if !caller.IsStaff {
		return nil, ErrForbidden
	}
	in, err := s.incidents.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransitionIncident(in.Status, to) {
		return nil, ErrInvalidTransition
	}
	ok, err := s.incidents.UpdateStatus(ctx, id, in.Status, to, caller.UserID, note, s.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	s.log.WithFields(logrus.Fields{"incident_id": id, "from": in.Status, "to": to, "staff_id": caller.UserID}).Info("incident updated")
	return s.incidents.Get(ctx, id)
}

func (s *Service) ride(ctx context.Context, id types.ID) (*booking.Booking, error) {
	b, err := s.bookings.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Type != booking.TypeRide {
		return nil, ErrNotRide
	}
	return b, nil
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxDescriptionLen {
		return s
	}
	return string(r[:maxDescriptionLen])
}
