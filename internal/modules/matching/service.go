// README: Matching service runs the search pipeline over the live index and the provider table.
package matching

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PearlPath/pearlpath-api/internal/modules/availability"
	"github.com/PearlPath/pearlpath-api/internal/modules/geo"
	"github.com/PearlPath/pearlpath-api/internal/modules/pricing"
	"github.com/PearlPath/pearlpath-api/internal/modules/provider"
	"github.com/PearlPath/pearlpath-api/internal/observability"
	"github.com/PearlPath/pearlpath-api/internal/types"
)

type Index interface {
	Nearby(ctx context.Context, kind types.ProviderKind, p types.Point, radiusKm float64, limit int) ([]provider.Nearby, error)
}

type Directory interface {
	GetMany(ctx context.Context, ids []types.ID) (map[types.ID]*provider.Provider, error)
	ListInBox(ctx context.Context, kind types.ProviderKind, box geo.Box, limit int) ([]*provider.Provider, error)
}

type Occupancy interface {
	OccupyingWindows(ctx context.Context, providerIDs []types.ID, w availability.Window) (map[types.ID][]availability.Window, error)
}

type Surge interface {
	SurgeInputs(ctx context.Context, kind types.ProviderKind, p types.Point, at time.Time) pricing.SurgeInputs
}

type Service struct {
	index         Index
	directory     Directory
	occupancy     Occupancy
	surge         Surge
	engine        *pricing.Engine
	matcher       *availability.Matcher
	defaultRadius float64
	log           logrus.FieldLogger
	now           func() time.Time
}

type Deps struct {
	Index         Index
	Directory     Directory
	Occupancy     Occupancy
	Surge         Surge
	Engine        *pricing.Engine
	Matcher       *availability.Matcher
	DefaultRadius float64
	Log           logrus.FieldLogger
	Clock         func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		index:         d.Index,
		directory:     d.Directory,
		occupancy:     d.Occupancy,
		surge:         d.Surge,
		engine:        d.Engine,
		matcher:       d.Matcher,
		defaultRadius: d.DefaultRadius,
		log:           d.Log,
		now:           time.Now,
	}
	if d.Clock != nil {
		s.now = d.Clock
	}
	if s.defaultRadius <= 0 {
		s.defaultRadius = 10
	}
	if s.engine == nil {
		s.engine = pricing.NewEngine(pricing.DefaultPolicy(), time.UTC)
	}
	if s.matcher == nil {
		s.matcher = availability.NewMatcher(time.UTC)
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	return s
}

type candidate struct {
	provider *provider.Provider
	distance float64
}

// Search finds providers of q.Kind around q.Location, ordered by q.Sort.
func (s *Service) Search(ctx context.Context, q Query) ([]Result, error) {
	start := time.Now()
	defer func() { observability.SearchLatency.Observe(time.Since(start).Seconds()) }()

	if err := s.normalize(&q); err != nil {
		return nil, err
	}
	cands, err := s.candidates(ctx, q)
	if err != nil {
		return nil, err
	}
	cands = filter(cands, q)
	if len(cands) == 0 {
		return []Result{}, nil
	}

	occupying := map[types.ID][]availability.Window{}
	if q.Window != nil && s.occupancy != nil {
		ids := make([]types.ID, len(cands))
		for i, c := range cands {
			ids[i] = c.provider.ID
		}
		occupying, err = s.occupancy.OccupyingWindows(ctx, ids, *q.Window)
		if err != nil {
			return nil, fmt.Errorf("load occupying bookings: %w", err)
		}
	}

	at := s.now()
	minutes := q.Minutes
	if q.Window != nil {
		at = q.Window.Start
		if minutes == 0 {
			minutes = q.Window.Duration().Minutes()
		}
	}
	surge := pricing.SurgeInputs{At: at}
	if s.surge != nil {
		surge = s.surge.SurgeInputs(ctx, q.Kind, q.Location, at)
	}

	results := make([]Result, 0, len(cands))
	for _, c := range cands {
		r := Result{Provider: c.provider, DistanceKm: c.distance, Available: true}
		if err := s.availability(c.provider, q.Window, occupying[c.provider.ID]); err != nil {
			if !q.IncludeUnavailable {
				continue
			}
			r.Available, r.Reason = false, err.Error()
		}
		est, err := s.engine.Estimate(c.provider.PricingRequest(q.Ride, q.TripKm, minutes, surge))
		if err != nil {
			s.log.WithError(err).WithField("provider_id", c.provider.ID).Warn("estimate failed")
		} else {
			r.Estimate = &est
			if q.MaxPrice > 0 && est.Total > q.MaxPrice {
				continue
			}
		}
		results = append(results, r)
	}

	order(results, q.Sort)
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

func (s *Service) normalize(q *Query) error {
	if !q.Kind.Valid() {
		return fmt.Errorf("%w: kind %q", ErrBadRequest, q.Kind)
	}
	if err := geo.Validate(q.Location); err != nil {
		return err
	}
	if q.RadiusKm == 0 {
		q.RadiusKm = s.defaultRadius
	}
	if q.RadiusKm < 0 || q.RadiusKm > maxRadiusKm {
		return fmt.Errorf("%w: radius %v km", ErrBadRequest, q.RadiusKm)
	}
	if q.Window != nil {
		if err := q.Window.Validate(); err != nil {
			return err
		}
	}
	if q.TripKm < 0 || q.Minutes < 0 || q.MinRating < 0 || q.MaxPrice < 0 {
		return fmt.Errorf("%w: negative filter", ErrBadRequest)
	}
	switch q.Sort {
	case "":
		q.Sort = SortDistance
	case SortDistance, SortRating, SortPrice:
	default:
		return fmt.Errorf("%w: sort %q", ErrBadRequest, q.Sort)
	}
	if q.Limit <= 0 || q.Limit > maxLimit {
		q.Limit = 20
	}
	return nil
}

// candidates reads the live index and falls back to a bounding-box scan of
// the provider table when the index is unavailable.
func (s *Service) candidates(ctx context.Context, q Query) ([]candidate, error) {
	fetch := q.Limit * candidateFactor
	if s.index != nil {
		nearby, err := s.index.Nearby(ctx, q.Kind, q.Location, q.RadiusKm, fetch)
		if err == nil {
			return s.hydrate(ctx, q.Kind, nearby)
		}
		s.log.WithError(err).Warn("live index search failed, scanning provider table")
	}

	box, err := geo.BoundingBox(q.Location, q.RadiusKm)
	if err != nil {
		return nil, err
	}
	rows, err := s.directory.ListInBox(ctx, q.Kind, box, fetch)
	if err != nil {
		return nil, err
	}
	out := make([]candidate, 0, len(rows))
	for _, p := range rows {
		d, err := geo.DistanceKm(q.Location, p.Location)
		if err != nil || d > q.RadiusKm {
			continue
		}
		out = append(out, candidate{provider: p, distance: d})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].distance < out[j].distance })
	return out, nil
}

func (s *Service) hydrate(ctx context.Context, kind types.ProviderKind, nearby []provider.Nearby) ([]candidate, error) {
	if len(nearby) == 0 {
		return nil, nil
	}
	ids := make([]types.ID, len(nearby))
	for i, n := range nearby {
		ids[i] = n.ID
	}
	rows, err := s.directory.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]candidate, 0, len(nearby))
	for _, n := range nearby {
		p, ok := rows[n.ID]
		if !ok || p.Kind != kind {
			continue
		}
		// the index position is fresher than the stored snapshot
		p.Location = n.Location
		out = append(out, candidate{provider: p, distance: n.DistanceKm})
	}
	return out, nil
}

func (s *Service) availability(p *provider.Provider, w *availability.Window, occupying []availability.Window) error {
	if w == nil {
		if !p.Available {
			return availability.ErrProviderUnavailable
		}
		return nil
	}
	return s.matcher.Check(availability.Input{
		Available: p.Available,
		Schedule:  p.Schedule,
		Window:    *w,
		Occupying: occupying,
	})
}

func filter(cands []candidate, q Query) []candidate {
	out := cands[:0]
	for _, c := range cands {
		if q.VerifiedOnly && !c.provider.Verified() {
			continue
		}
		if c.provider.Rating < q.MinRating {
			continue
		}
		out = append(out, c)
	}
	return out
}

func order(results []Result, key SortKey) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		switch key {
		case SortRating:
			if a.Provider.Rating != b.Provider.Rating {
				return a.Provider.Rating > b.Provider.Rating
			}
		case SortPrice:
			pa, pb := total(a), total(b)
			if pa != pb {
				return pa < pb
			}
		}
		return a.DistanceKm < b.DistanceKm
	})
}

func total(r Result) float64 {
	if r.Estimate == nil {
		return 0
	}
	return r.Estimate.Total
}
