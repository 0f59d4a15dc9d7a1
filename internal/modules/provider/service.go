// README: Provider service handles registration, live location, online flag and moderation.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/PearlPath/pearlpath-api/internal/modules/availability"
	"github.com/PearlPath/pearlpath-api/internal/modules/geo"
	"github.com/PearlPath/pearlpath-api/internal/modules/pricing"
	"github.com/PearlPath/pearlpath-api/internal/observability"
	"github.com/PearlPath/pearlpath-api/internal/types"
)

type Repository interface {
	Create(ctx context.Context, p *Provider) error
	Get(ctx context.Context, id types.ID) (*Provider, error)
	GetMany(ctx context.Context, ids []types.ID) (map[types.ID]*Provider, error)
	UpdateLocation(ctx context.Context, id types.ID, p types.Point, at time.Time) error
	SetAvailable(ctx context.Context, id types.ID, available bool, at time.Time) error
	SetVerification(ctx context.Context, id types.ID, v Verification, at time.Time) error
	UpdateSchedule(ctx context.Context, id types.ID, s availability.WeeklySchedule, at time.Time) error
}

type Index interface {
	Add(ctx context.Context, kind types.ProviderKind, id types.ID, p types.Point) error
	Remove(ctx context.Context, kind types.ProviderKind, id types.ID) error
	SetBusy(ctx context.Context, kind types.ProviderKind, id types.ID, busy bool) error
	Position(ctx context.Context, kind types.ProviderKind, id types.ID) (types.Point, bool, error)
	Count(ctx context.Context, kind types.ProviderKind) (int64, error)
}

// Actor identifies who is calling; Role "admin" and "moderator" are staff.
type Actor struct {
	UserID types.ID
	Role   string
}

func (a Actor) IsStaff() bool {
	return a.Role == "admin" || a.Role == "moderator"
}

type Service struct {
	store Repository
	index Index
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewService(store Repository, index Index, log logrus.FieldLogger) *Service {
	return &Service{store: store, index: index, log: log, now: time.Now}
}

type RegisterCommand struct {
	Kind             types.ProviderKind
	UserID           types.ID
	DisplayName      string
	Schedule         availability.WeeklySchedule
	Location         types.Point
	Rates            pricing.Rates
	SubscriptionTier string
}

func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*Provider, error) {
	if !cmd.Kind.Valid() || cmd.UserID == "" {
		return nil, ErrBadRequest
	}
	if err := cmd.Schedule.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if err := geo.Validate(cmd.Location); err != nil {
		return nil, err
	}
	if cmd.Rates.Base < 0 || cmd.Rates.PerKm < 0 || cmd.Rates.PerMinute < 0 {
		return nil, fmt.Errorf("%w: negative rate", ErrBadRequest)
	}
	now := s.now()
	p := &Provider{
		ID:                types.ID(uuid.NewString()),
		Kind:              cmd.Kind,
		UserID:            cmd.UserID,
		DisplayName:       cmd.DisplayName,
		Schedule:          cmd.Schedule,
		Location:          cmd.Location,
		LocationUpdatedAt: &now,
		Rates:             cmd.Rates,
		Verification:      VerificationPending,
		SubscriptionTier:  cmd.SubscriptionTier,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id types.ID) (*Provider, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) GetMany(ctx context.Context, ids []types.ID) (map[types.ID]*Provider, error) {
	return s.store.GetMany(ctx, ids)
}

func (s *Service) owned(ctx context.Context, id types.ID, actor Actor) (*Provider, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.UserID != actor.UserID && actor.Role != "admin" {
		return nil, ErrForbidden
	}
	return p, nil
}

// UpdateLocation records a new position. Only online providers are placed in
// the live index; the Postgres snapshot is always refreshed.
func (s *Service) UpdateLocation(ctx context.Context, id types.ID, actor Actor, loc types.Point) error {
	if err := geo.Validate(loc); err != nil {
		return err
	}
	p, err := s.owned(ctx, id, actor)
	if err != nil {
		return err
	}
	if p.Available {
		if err := s.index.Add(ctx, p.Kind, p.ID, loc); err != nil {
			return fmt.Errorf("live index: %w", err)
		}
	}
	return s.store.UpdateLocation(ctx, p.ID, loc, s.now())
}

func (s *Service) SetOnline(ctx context.Context, id types.ID, actor Actor, online bool) error {
	p, err := s.owned(ctx, id, actor)
	if err != nil {
		return err
	}
	if err := s.store.SetAvailable(ctx, p.ID, online, s.now()); err != nil {
		return err
	}
	if online {
		err = s.index.Add(ctx, p.Kind, p.ID, p.Location)
	} else {
		err = s.index.Remove(ctx, p.Kind, p.ID)
	}
	if err != nil {
		s.log.WithError(err).WithField("provider_id", p.ID).Warn("live index update failed")
	}
	if n, err := s.index.Count(ctx, p.Kind); err == nil {
		observability.ProvidersOnline.WithLabelValues(string(p.Kind)).Set(float64(n))
	}
	return nil
}

func (s *Service) UpdateSchedule(ctx context.Context, id types.ID, actor Actor, sched availability.WeeklySchedule) error {
	if err := sched.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	p, err := s.owned(ctx, id, actor)
	if err != nil {
		return err
	}
	return s.store.UpdateSchedule(ctx, p.ID, sched, s.now())
}

// Verify is the moderator decision on a provider's verification.
func (s *Service) Verify(ctx context.Context, id types.ID, actor Actor, v Verification) error {
	if !actor.IsStaff() {
		return ErrForbidden
	}
	if !v.Valid() {
		return ErrBadRequest
	}
	if err := s.store.SetVerification(ctx, id, v, s.now()); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"provider_id": id, "verification": v, "moderator": actor.UserID}).Info("provider verification changed")
	return nil
}

// MarkBusy flags providers currently serving a booking for the demand ratio.
// Failures are logged only.
func (s *Service) MarkBusy(ctx context.Context, refs []types.ProviderRef, busy bool) {
	for _, r := range refs {
		if err := s.index.SetBusy(ctx, r.Kind, r.ID, busy); err != nil {
			s.log.WithError(err).WithField("provider_id", r.ID).Warn("busy flag update failed")
		}
	}
}

func (s *Service) LivePosition(ctx context.Context, kind types.ProviderKind, id types.ID) (types.Point, bool, error) {
	return s.index.Position(ctx, kind, id)
}
