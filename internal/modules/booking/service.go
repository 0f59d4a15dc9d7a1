// README: Booking service implements the guarded lifecycle: create, transitions, cancellation and rating.
package booking

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/PearlPath/pearlpath-api/internal/modules/availability"
	"github.com/PearlPath/pearlpath-api/internal/modules/geo"
	"github.com/PearlPath/pearlpath-api/internal/modules/notify"
	"github.com/PearlPath/pearlpath-api/internal/modules/pricing"
	"github.com/PearlPath/pearlpath-api/internal/modules/provider"
	"github.com/PearlPath/pearlpath-api/internal/observability"
	"github.com/PearlPath/pearlpath-api/internal/types"
)

var (
	ErrNotFound                 = errors.New("booking not found")
	ErrBadRequest               = errors.New("bad request")
	ErrForbidden                = errors.New("actor is not a party to this booking")
	ErrInvalidTransition        = errors.New("invalid state transition")
	ErrConflict                 = errors.New("booking state conflict")
	ErrCancellationWindowClosed = errors.New("cancellation window closed")
	ErrAlreadyRated             = errors.New("booking already rated")
	ErrNotCompleted             = errors.New("booking not completed")
	ErrInvalidRating            = errors.New("rating must be between 1 and 5")

	ErrSchedulingConflict   = availability.ErrSchedulingConflict
	ErrProviderUnavailable  = availability.ErrProviderUnavailable
	ErrOutsideWorkingHours  = availability.ErrOutsideWorkingHours
	ErrOutsideScheduledDays = availability.ErrOutsideScheduledDays
	ErrInvalidWindow        = availability.ErrInvalidWindow
)

const (
	maxPartySize = 50
	maxReviewLen = 2000
	// startGrace tolerates clock skew for bookings that start "now".
	startGrace = time.Minute
)

type Repository interface {
	CreateExclusive(ctx context.Context, b *Booking, admit AdmitFunc) error
	Get(ctx context.Context, id types.ID) (*Booking, error)
	ListByRequester(ctx context.Context, requesterID types.ID, limit int) ([]*Booking, error)
	ListByProvider(ctx context.Context, providerID types.ID, limit int) ([]*Booking, error)
	ListPendingRides(ctx context.Context, createdBefore time.Time, limit int) ([]*Booking, error)
	OccupyingWindows(ctx context.Context, providerIDs []types.ID, from, to time.Time) (map[types.ID][]availability.Window, error)
	UpdateTransition(ctx context.Context, u TransitionUpdate) (bool, error)
	Rate(ctx context.Context, id types.ID, rating int, review *string, at time.Time) (*Booking, error)
}

type Providers interface {
	GetMany(ctx context.Context, ids []types.ID) (map[types.ID]*provider.Provider, error)
}

type SurgeSource interface {
	SurgeInputs(ctx context.Context, kind types.ProviderKind, p types.Point, at time.Time) pricing.SurgeInputs
}

type Publisher interface {
	Publish(ctx context.Context, e notify.Event)
}

type Occupancy interface {
	MarkBusy(ctx context.Context, refs []types.ProviderRef, busy bool)
}

// Actor is the authenticated caller. The service works out whether they are
// the requester or a named provider.
type Actor struct {
	UserID types.ID
	Admin  bool
	System bool
}

type Deps struct {
	Store     Repository
	Providers Providers
	Engine    *pricing.Engine
	Surge     SurgeSource
	Matcher   *availability.Matcher
	Notifier  Publisher
	Occupancy Occupancy
	Log       logrus.FieldLogger
	Clock     func() time.Time
}

type Service struct {
	store     Repository
	providers Providers
	engine    *pricing.Engine
	surge     SurgeSource
	matcher   *availability.Matcher
	notifier  Publisher
	occupancy Occupancy
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		store:     d.Store,
		providers: d.Providers,
		engine:    d.Engine,
		surge:     d.Surge,
		matcher:   d.Matcher,
		notifier:  d.Notifier,
		occupancy: d.Occupancy,
		log:       d.Log,
		now:       d.Clock,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.matcher == nil {
		s.matcher = availability.NewMatcher(time.UTC)
	}
	if s.engine == nil {
		s.engine = pricing.NewEngine(pricing.DefaultPolicy(), time.UTC)
	}
	return s
}

type CreateCommand struct {
	RequesterID types.ID
	Type        Type
	Refs        []types.ProviderRef
	Window      availability.Window
	Pickup      types.Point
	Dropoff     *types.Point
	PartySize   int
}

type Actuals struct {
	DistanceKm      float64 `json:"distance_km"`
	DurationMinutes float64 `json:"duration_minutes"`
}

type TransitionCommand struct {
	BookingID types.ID
	Actor     Actor
	Action    Action
	Reason    string
	// Actuals reprice a ride at completion.
	Actuals *Actuals
}

type RateCommand struct {
	BookingID   types.ID
	RequesterID types.ID
	Rating      int
	Review      string
}

type cancelRule int

const (
	cancelTiered cancelRule = iota
	cancelAdmin
	cancelFullRefund
)

// Create books cmd.Refs for the window; trip distance is the straight line
// from pickup to dropoff.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Booking, error) {
	return s.create(ctx, cmd, 0)
}

// CreateRouted is Create with a routed trip distance for pickup to dropoff.
// A route shorter than the straight line is ignored.
func (s *Service) CreateRouted(ctx context.Context, cmd CreateCommand, routeKm float64) (*Booking, error) {
	if cmd.Dropoff == nil {
		return nil, fmt.Errorf("%w: routed booking needs a dropoff", ErrBadRequest)
	}
	if routeKm < 0 || math.IsNaN(routeKm) || math.IsInf(routeKm, 0) {
		return nil, fmt.Errorf("%w: route distance %v", ErrBadRequest, routeKm)
	}
	return s.create(ctx, cmd, routeKm)
}

func (s *Service) create(ctx context.Context, cmd CreateCommand, routeKm float64) (*Booking, error) {
	if cmd.RequesterID == "" || !cmd.Type.Valid() {
		return nil, ErrBadRequest
	}
	if err := checkRefs(cmd.Type, cmd.Refs); err != nil {
		return nil, err
	}
	if err := cmd.Window.Validate(); err != nil {
		return nil, err
	}
	now := s.now()
	if cmd.Window.Start.Before(now.Add(-startGrace)) {
		return nil, fmt.Errorf("%w: window starts in the past", ErrInvalidWindow)
	}
	if err := geo.Validate(cmd.Pickup); err != nil {
		return nil, err
	}
	var distance float64
	if cmd.Dropoff != nil {
		straight, err := geo.DistanceKm(cmd.Pickup, *cmd.Dropoff)
		if err != nil {
			return nil, err
		}
		distance = math.Max(straight, routeKm)
	}
	if cmd.PartySize == 0 {
		cmd.PartySize = 1
	}
	if cmd.PartySize < 1 || cmd.PartySize > maxPartySize {
		return nil, fmt.Errorf("%w: party size %d", ErrBadRequest, cmd.PartySize)
	}

	minutes := int(math.Ceil(cmd.Window.Duration().Minutes()))
	surge := pricing.SurgeInputs{At: cmd.Window.Start}
	if s.surge != nil {
		surge = s.surge.SurgeInputs(ctx, cmd.Refs[0].Kind, cmd.Pickup, cmd.Window.Start)
	}

	b := &Booking{
		ID:              types.ID(uuid.NewString()),
		RequesterID:     cmd.RequesterID,
		Type:            cmd.Type,
		Window:          cmd.Window,
		DurationMinutes: minutes,
		PartySize:       cmd.PartySize,
		Pickup:          cmd.Pickup,
		Dropoff:         cmd.Dropoff,
		DistanceKm:      distance,
		Status:          StatusPending,
		PaymentStatus:   PaymentUnpaid,
		CreatedAt:       now,
	}
	for _, r := range cmd.Refs {
		id := r.ID
		if r.Kind == types.KindGuide {
			b.GuideID = &id
		} else {
			b.DriverID = &id
		}
	}

	var recipients []types.ID
	err := s.store.CreateExclusive(ctx, b, func(providers map[types.ID]*provider.Provider, occupying map[types.ID][]availability.Window) error {
		parts := make([]pricing.Breakdown, 0, len(cmd.Refs))
		recipients = recipients[:0]
		for _, ref := range cmd.Refs {
			p, ok := providers[ref.ID]
			if !ok || p.Kind != ref.Kind {
				return fmt.Errorf("%w: %s", provider.ErrNotFound, ref)
			}
			if p.UserID == cmd.RequesterID {
				return fmt.Errorf("%w: cannot book yourself", ErrBadRequest)
			}
			if err := s.matcher.Check(availability.Input{
				Available: p.Available,
				Schedule:  p.Schedule,
				Window:    cmd.Window,
				Occupying: occupying[ref.ID],
			}); err != nil {
				return err
			}
			part, err := s.engine.Estimate(p.PricingRequest(cmd.Type == TypeRide, distance, float64(minutes), surge))
			if err != nil {
				return err
			}
			parts = append(parts, part)
			recipients = append(recipients, p.UserID)
		}
		total := pricing.Combine(parts...)
		b.SurgeMultiplier = total.SurgeMultiplier
		b.EstimatedAmount = total.Total
		b.TotalAmount = total.Total
		b.CommissionAmount = total.Commission
		b.PlatformFee = total.PlatformFee
		return nil
	})
	if errors.Is(err, ErrSchedulingConflict) {
		observability.BookingCreateConflicts.Inc()
	}
	if err != nil {
		return nil, err
	}

	observability.BookingTransitions.WithLabelValues(string(b.Type), string(b.Status)).Inc()
	s.log.WithFields(logrus.Fields{"booking_id": b.ID, "type": b.Type, "total": b.TotalAmount}).Info("booking created")
	s.publish(ctx, b, "booking.created", recipients)
	return b, nil
}

// Transition applies confirm, start, complete or cancel on behalf of cmd.Actor.
func (s *Service) Transition(ctx context.Context, cmd TransitionCommand) (*Booking, error) {
	rule := cancelTiered
	if cmd.Actor.Admin {
		rule = cancelAdmin
	}
	return s.transition(ctx, cmd, rule)
}

// Decline cancels a pending request on behalf of its named provider with a full refund.
func (s *Service) Decline(ctx context.Context, id types.ID, actor Actor, reason string) (*Booking, error) {
	return s.cancelPending(ctx, TransitionCommand{BookingID: id, Actor: actor, Action: ActionCancel, Reason: reason}, RoleProvider)
}

// Expire cancels a still-pending request whose provider never answered.
func (s *Service) Expire(ctx context.Context, id types.ID) (*Booking, error) {
	return s.cancelPending(ctx, TransitionCommand{
		BookingID: id,
		Actor:     Actor{System: true},
		Action:    ActionCancel,
		Reason:    ReasonProviderTimeout,
	}, RoleSystem)
}

func (s *Service) cancelPending(ctx context.Context, cmd TransitionCommand, only Role) (*Booking, error) {
	b, err := s.store.Get(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != StatusPending {
		return nil, ErrInvalidTransition
	}
	return s.apply(ctx, b, cmd, cancelFullRefund, only)
}

func (s *Service) transition(ctx context.Context, cmd TransitionCommand, rule cancelRule) (*Booking, error) {
	b, err := s.store.Get(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, b, cmd, rule, "")
}

// apply runs one guarded transition. A non-empty only restricts which role may perform it.
func (s *Service) apply(ctx context.Context, b *Booking, cmd TransitionCommand, rule cancelRule, only Role) (*Booking, error) {
	target, ok := cmd.Action.Target()
	if !ok {
		return nil, fmt.Errorf("%w: unknown action %q", ErrBadRequest, cmd.Action)
	}
	if IsTerminal(b.Status) || !CanTransition(b.Status, target) {
		return nil, ErrInvalidTransition
	}
	providers, err := s.providers.GetMany(ctx, b.ProviderIDs())
	if err != nil {
		return nil, err
	}
	role, err := authorize(b, providers, cmd.Actor, cmd.Action)
	if err != nil {
		return nil, err
	}
	if only != "" && role != only {
		return nil, ErrForbidden
	}

	now := s.now()
	next := *b
	switch target {
	case StatusConfirmed:
		next.ConfirmedAt = &now
	case StatusInProgress:
		next.StartedAt = &now
	case StatusCompleted:
		if err := s.settle(&next, providers, cmd.Actuals); err != nil {
			return nil, err
		}
		next.CompletedAt = &now
		next.PaymentStatus = PaymentDue
	case StatusCancelled:
		if role == RoleSystem {
			rule = cancelFullRefund
		}
		refund, err := refundFor(&next, rule, now)
		if err != nil {
			return nil, err
		}
		next.Cancellation = &Cancellation{
			CancelledBy:  role,
			Reason:       strings.TrimSpace(cmd.Reason),
			RefundAmount: refund,
			CancelledAt:  now,
		}
		next.PaymentStatus = PaymentVoid
		if refund > 0 {
			next.PaymentStatus = PaymentRefundPending
		}
	}
	next.Status = target

	var actorID *types.ID
	if cmd.Actor.UserID != "" {
		id := cmd.Actor.UserID
		actorID = &id
	}
	ok, err = s.store.UpdateTransition(ctx, TransitionUpdate{
		Booking: &next,
		From:    b.Status,
		Version: b.StatusVersion,
		Event: Event{
			BookingID:  b.ID,
			FromStatus: b.Status,
			ToStatus:   target,
			ActorRole:  role,
			ActorID:    actorID,
			CreatedAt:  now,
		},
		CountCompleted: target == StatusCompleted,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}
	next.StatusVersion = b.StatusVersion + 1

	observability.BookingTransitions.WithLabelValues(string(next.Type), string(target)).Inc()
	s.log.WithFields(logrus.Fields{"booking_id": next.ID, "from": b.Status, "to": target, "actor_role": role}).Info("booking transitioned")
	// busy means serving right now: set on start, cleared on completion.
	// Cancellation only leaves pending or confirmed, which never set it.
	if s.occupancy != nil {
		switch target {
		case StatusInProgress:
			s.occupancy.MarkBusy(ctx, next.Refs(), true)
		case StatusCompleted:
			s.occupancy.MarkBusy(ctx, next.Refs(), false)
		}
	}
	s.publish(ctx, &next, "booking."+string(target), partyUsers(&next, providers, cmd.Actor.UserID))
	return &next, nil
}

func authorize(b *Booking, providers map[types.ID]*provider.Provider, actor Actor, action Action) (Role, error) {
	switch {
	case actor.System:
		if action != ActionCancel {
			return "", ErrForbidden
		}
		return RoleSystem, nil
	case actor.Admin:
		return RoleAdmin, nil
	}
	if isNamedProvider(providers, actor.UserID) {
		return RoleProvider, nil
	}
	if action == ActionCancel && actor.UserID != "" && actor.UserID == b.RequesterID {
		return RoleRequester, nil
	}
	return "", ErrForbidden
}

func isNamedProvider(providers map[types.ID]*provider.Provider, userID types.ID) bool {
	if userID == "" {
		return false
	}
	for _, p := range providers {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

func refundFor(b *Booking, rule cancelRule, now time.Time) (float64, error) {
	switch rule {
	case cancelFullRefund:
		return types.RoundMoney(b.TotalAmount), nil
	case cancelAdmin:
		return Refund(b.TotalAmount, b.Window.Start, now), nil
	default:
		if !WindowOpen(b.Window.Start, now) {
			return 0, ErrCancellationWindowClosed
		}
		return Refund(b.TotalAmount, b.Window.Start, now), nil
	}
}

// settle recomputes commission at completion. Rides with actuals are
// repriced outright and report the variance; other bookings keep the quoted
// amount and apply the providers' current commission policy to it.
func (s *Service) settle(b *Booking, providers map[types.ID]*provider.Provider, actuals *Actuals) error {
	distance, minutes := b.DistanceKm, float64(b.DurationMinutes)
	repriced := actuals != nil && b.Type == TypeRide
	if repriced {
		if actuals.DistanceKm < 0 || actuals.DurationMinutes < 0 {
			return fmt.Errorf("%w: negative actuals", ErrBadRequest)
		}
		distance, minutes = actuals.DistanceKm, actuals.DurationMinutes
	}

	reqs := make([]pricing.Request, 0, 2)
	for _, ref := range b.Refs() {
		p, ok := providers[ref.ID]
		if !ok {
			return fmt.Errorf("%w: %s", provider.ErrNotFound, ref)
		}
		req := p.PricingRequest(b.Type == TypeRide, distance, minutes, pricing.SurgeInputs{})
		req.FixedMultiplier = b.SurgeMultiplier
		reqs = append(reqs, req)
	}

	if repriced {
		// a ride names exactly one driver
		final, variance, err := s.engine.Final(reqs[0], b.EstimatedAmount)
		if err != nil {
			return err
		}
		b.DistanceKm = distance
		b.DurationMinutes = int(math.Ceil(minutes))
		b.TotalAmount = final.Total
		b.PlatformFee = final.PlatformFee
		b.CommissionAmount = final.Commission
		b.Variance = &variance
		return nil
	}

	parts := make([]pricing.Breakdown, 0, len(reqs))
	for _, req := range reqs {
		part, err := s.engine.Estimate(req)
		if err != nil {
			return err
		}
		parts = append(parts, part)
	}
	total := pricing.Combine(parts...)

	quoted := b.TotalAmount - b.PlatformFee
	base := total.Subtotal + total.SurgeAmount
	if base <= 0 {
		b.CommissionAmount = 0
		return nil
	}
	b.CommissionAmount = types.RoundMoney(total.Commission * quoted / base)
	return nil
}

func (s *Service) Rate(ctx context.Context, cmd RateCommand) (*Booking, error) {
	if cmd.Rating < 1 || cmd.Rating > 5 {
		return nil, ErrInvalidRating
	}
	b, err := s.store.Get(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	if b.RequesterID != cmd.RequesterID {
		return nil, ErrForbidden
	}
	if b.Status != StatusCompleted {
		return nil, ErrNotCompleted
	}
	if b.Rating != nil {
		return nil, ErrAlreadyRated
	}
	var review *string
	if r := strings.TrimSpace(cmd.Review); r != "" {
		if len(r) > maxReviewLen {
			return nil, fmt.Errorf("%w: review too long", ErrBadRequest)
		}
		review = &r
	}
	updated, err := s.store.Rate(ctx, b.ID, cmd.Rating, review, s.now())
	if err != nil {
		return nil, err
	}
	s.log.WithFields(logrus.Fields{"booking_id": b.ID, "rating": cmd.Rating}).Info("booking rated")
	if providers, err := s.providers.GetMany(ctx, b.ProviderIDs()); err == nil {
		s.publish(ctx, updated, "booking.rated", partyUsers(updated, providers, cmd.RequesterID))
	}
	return updated, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Booking, error) {
	return s.store.Get(ctx, id)
}

// GetForActor returns the booking if actor is a party to it or staff.
func (s *Service) GetForActor(ctx context.Context, id types.ID, actor Actor) (*Booking, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Admin || actor.System || b.RequesterID == actor.UserID {
		return b, nil
	}
	providers, err := s.providers.GetMany(ctx, b.ProviderIDs())
	if err != nil {
		return nil, err
	}
	if !isNamedProvider(providers, actor.UserID) {
		return nil, ErrForbidden
	}
	return b, nil
}

// Parties resolves the requester and provider user ids of a booking.
func (s *Service) Parties(ctx context.Context, b *Booking) (requester types.ID, providerUsers map[types.ProviderKind]types.ID, err error) {
	providers, err := s.providers.GetMany(ctx, b.ProviderIDs())
	if err != nil {
		return "", nil, err
	}
	providerUsers = make(map[types.ProviderKind]types.ID, len(providers))
	for _, p := range providers {
		providerUsers[p.Kind] = p.UserID
	}
	return b.RequesterID, providerUsers, nil
}

func (s *Service) ListByRequester(ctx context.Context, requesterID types.ID, limit int) ([]*Booking, error) {
	return s.store.ListByRequester(ctx, requesterID, clampLimit(limit))
}

func (s *Service) ListByProvider(ctx context.Context, providerID types.ID, limit int) ([]*Booking, error) {
	return s.store.ListByProvider(ctx, providerID, clampLimit(limit))
}

// ListUnansweredRides lists ride requests pending for longer than olderThan.
func (s *Service) ListUnansweredRides(ctx context.Context, olderThan time.Duration, limit int) ([]*Booking, error) {
	return s.store.ListPendingRides(ctx, s.now().Add(-olderThan), clampLimit(limit))
}

func (s *Service) OccupyingWindows(ctx context.Context, providerIDs []types.ID, w availability.Window) (map[types.ID][]availability.Window, error) {
	return s.store.OccupyingWindows(ctx, providerIDs, w.Start, w.End)
}

func (s *Service) publish(ctx context.Context, b *Booking, event string, recipients []types.ID) {
	if s.notifier == nil {
		return
	}
	s.notifier.Publish(ctx, notify.Event{
		Type:       event,
		BookingID:  b.ID,
		Recipients: recipients,
		Title:      "Booking " + strings.ReplaceAll(string(b.Status), "_", " "),
		Body:       fmt.Sprintf("Your %s booking is now %s.", b.Type, strings.ReplaceAll(string(b.Status), "_", " ")),
		Data:       map[string]string{"status": string(b.Status)},
	})
}

func partyUsers(b *Booking, providers map[types.ID]*provider.Provider, exclude types.ID) []types.ID {
	users := make([]types.ID, 0, 3)
	if b.RequesterID != exclude {
		users = append(users, b.RequesterID)
	}
	for _, ref := range b.Refs() {
		if p, ok := providers[ref.ID]; ok && p.UserID != exclude {
			users = append(users, p.UserID)
		}
	}
	return users
}

func checkRefs(t Type, refs []types.ProviderRef) error {
	var guides, drivers int
	for _, r := range refs {
		if r.ID == "" {
			return fmt.Errorf("%w: empty provider id", ErrBadRequest)
		}
		switch r.Kind {
		case types.KindGuide:
			guides++
		case types.KindDriver:
			drivers++
		default:
			return fmt.Errorf("%w: provider kind %q", ErrBadRequest, r.Kind)
		}
	}
	ok := false
	switch t {
	case TypeGuide:
		ok = guides == 1 && drivers == 0
	case TypeDriver, TypeRide:
		ok = guides == 0 && drivers == 1
	case TypeCombined:
		ok = guides == 1 && drivers == 1
	}
	if !ok {
		return fmt.Errorf("%w: %s booking needs matching providers", ErrBadRequest, t)
	}
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}
