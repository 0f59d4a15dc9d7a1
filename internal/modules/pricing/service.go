// README: Pricing service resolves live surge inputs (weather, demand) and quotes fares.
package pricing

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PearlPath/pearlpath-api/internal/observability"
	"github.com/PearlPath/pearlpath-api/internal/types"
)

type WeatherSource interface {
	Condition(ctx context.Context, p types.Point) (Weather, error)
}

type DemandSource interface {
	DemandRatio(ctx context.Context, kind types.ProviderKind, p types.Point) (float64, error)
}

type Deps struct {
	Engine  *Engine
	Weather WeatherSource
	Demand  DemandSource
	Log     logrus.FieldLogger
	Clock   func() time.Time
}

type Service struct {
	engine  *Engine
	weather WeatherSource
	demand  DemandSource
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{engine: d.Engine, weather: d.Weather, demand: d.Demand, log: d.Log, now: d.Clock}
	if s.engine == nil {
		s.engine = NewEngine(DefaultPolicy(), time.UTC)
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *Service) Engine() *Engine {
	return s.engine
}

// SurgeInputs gathers live conditions at p. A failed weather lookup disables
// surge entirely; a failed demand lookup only drops the demand bump.
func (s *Service) SurgeInputs(ctx context.Context, kind types.ProviderKind, p types.Point, at time.Time) SurgeInputs {
	in := SurgeInputs{At: at, Weather: WeatherClear}
	if s.weather != nil {
		w, err := s.weather.Condition(ctx, p)
		if err != nil {
			s.log.WithError(err).Warn("weather lookup failed, pricing without surge")
			return SurgeInputs{}
		}
		in.Weather = w
	}
	if s.demand != nil {
		ratio, err := s.demand.DemandRatio(ctx, kind, p)
		if err != nil {
			s.log.WithError(err).Warn("demand lookup failed")
		} else {
			in.DemandRatio = ratio
		}
	}
	return in
}

type QuoteCommand struct {
	Request Request
	// Live replaces Request.Surge with conditions resolved at Location.
	Live     bool
	Location types.Point
}

func (s *Service) Quote(ctx context.Context, cmd QuoteCommand) (Breakdown, error) {
	r := cmd.Request
	if cmd.Live {
		at := r.Surge.At
		if at.IsZero() {
			at = s.now()
		}
		r.Surge = s.SurgeInputs(ctx, r.Kind, cmd.Location, at)
	}
	b, err := s.engine.Estimate(r)
	if err != nil {
		return Breakdown{}, err
	}
	observability.SurgeMultiplier.Observe(b.SurgeMultiplier)
	return b, nil
}
