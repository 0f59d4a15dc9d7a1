package pricing

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/PearlPath/pearlpath-api/internal/logger"
	"github.com/PearlPath/pearlpath-api/internal/types"
)

var colombo = time.FixedZone("Asia/Colombo", 5*3600+30*60)

func TestEngine_Estimate(t *testing.T) {
	// 2026-03-02 is a Monday
	rush := time.Date(2026, 3, 2, 8, 0, 0, 0, colombo)
	midday := time.Date(2026, 3, 2, 12, 0, 0, 0, colombo)
	saturdayRush := time.Date(2026, 3, 7, 8, 0, 0, 0, colombo)

	e := NewEngine(DefaultPolicy(), colombo)

	tests := []struct {
		name string
		req  Request
		want Breakdown
	}{
		{
			name: "no surge",
			req: Request{
				Kind:            types.KindGuide,
				Verified:        true,
				Rates:           Rates{Base: 300, PerKm: 50, PerMinute: 5},
				DistanceKm:      10,
				DurationMinutes: 30,
			},
			want: Breakdown{Subtotal: 950, SurgeMultiplier: 1, SurgeAmount: 0, CommissionRate: 0.10, Commission: 95, ProviderEarnings: 855, Total: 950},
		},
		{
			name: "unverified guide pays 15%",
			req: Request{
				Kind:       types.KindGuide,
				Rates:      Rates{Base: 1000},
				Surge:      SurgeInputs{At: midday},
				DistanceKm: 0,
			},
			want: Breakdown{Subtotal: 1000, SurgeMultiplier: 1, CommissionRate: 0.15, Commission: 150, ProviderEarnings: 850, Total: 1000},
		},
		{
			name: "ride in rush hour rain with platform fee",
			req: Request{
				Kind:       types.KindDriver,
				Ride:       true,
				Rates:      Rates{Base: 100, PerKm: 40},
				DistanceKm: 10,
				Surge:      SurgeInputs{At: rush, Weather: WeatherRain},
			},
			// 500 * 1.35 = 675; fee 5% = 33.75; commission 5% of 675
			want: Breakdown{Subtotal: 500, SurgeMultiplier: 1.35, SurgeAmount: 175, PlatformFee: 33.75, CommissionRate: 0.05, Commission: 33.75, ProviderEarnings: 641.25, Total: 708.75},
		},
		{
			name: "premium driver tier",
			req: Request{
				Kind:             types.KindDriver,
				Rates:            Rates{Base: 2000},
				SubscriptionTier: "premium",
			},
			want: Breakdown{Subtotal: 2000, SurgeMultiplier: 1, CommissionRate: 0.08, Commission: 160, ProviderEarnings: 1840, Total: 2000},
		},
		{
			name: "unknown tier falls back to standard",
			req: Request{
				Kind:             types.KindDriver,
				Rates:            Rates{Base: 2000},
				SubscriptionTier: "gold",
			},
			want: Breakdown{Subtotal: 2000, SurgeMultiplier: 1, CommissionRate: 0.05, Commission: 100, ProviderEarnings: 1900, Total: 2000},
		},
		{
			name: "weekend morning is not rush",
			req: Request{
				Kind:  types.KindDriver,
				Rates: Rates{Base: 1000},
				Surge: SurgeInputs{At: saturdayRush},
			},
			want: Breakdown{Subtotal: 1000, SurgeMultiplier: 1.1, SurgeAmount: 100, CommissionRate: 0.05, Commission: 55, ProviderEarnings: 1045, Total: 1100},
		},
		{
			name: "rounds half up",
			req: Request{
				Kind:  types.KindDriver,
				Rates: Rates{Base: 10.005},
			},
			want: Breakdown{Subtotal: 10.01, SurgeMultiplier: 1, CommissionRate: 0.05, Commission: 0.5, ProviderEarnings: 9.5, Total: 10.01},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Estimate(tt.req)
			if err != nil {
				t.Fatalf("Estimate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Estimate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDefaultPolicyEstimate(t *testing.T) {
	e := NewEngine(DefaultPolicy(), time.UTC)
	got, err := e.Estimate(Request{Kind: types.KindDriver, Rates: Rates{Base: 300, PerKm: 50, PerMinute: 5}, DistanceKm: 10, DurationMinutes: 30})
	if err != nil {
		t.Fatal(err)
	}
	if got.Subtotal != 950 || got.SurgeAmount != 0 || got.Total != 950 {
		t.Fatalf("Estimate() = %+v", got)
	}
}

func TestMultiplierNeverExceedsCap(t *testing.T) {
	e := NewEngine(DefaultPolicy(), colombo)
	times := []time.Time{
		{},
		time.Date(2026, 3, 2, 8, 30, 0, 0, colombo),
		time.Date(2026, 3, 2, 18, 0, 0, 0, colombo),
		time.Date(2026, 3, 8, 8, 0, 0, 0, colombo),
	}
	weathers := []Weather{"", WeatherClear, WeatherRain, WeatherStorm}
	ratios := []float64{0, 0.5, 0.61, 0.8, 0.81, 1}
	for _, at := range times {
		for _, w := range weathers {
			for _, r := range ratios {
				m := e.Multiplier(SurgeInputs{At: at, Weather: w, DemandRatio: r})
				if m > MaxMultiplier || m < 1 {
					t.Fatalf("Multiplier(%v,%v,%v) = %v out of [1, 2]", at, w, r, m)
				}
			}
		}
	}
	if m := e.Multiplier(SurgeInputs{At: times[1], Weather: WeatherStorm, DemandRatio: 0.9}); m < 1.75-1e-9 || m > 1.75+1e-9 {
		t.Fatalf("worst case multiplier = %v, want 1.75", m)
	}
}

func TestMultiplierBoundaries(t *testing.T) {
	e := NewEngine(DefaultPolicy(), colombo)
	tests := []struct {
		in   SurgeInputs
		want float64
	}{
		{SurgeInputs{At: time.Date(2026, 3, 2, 6, 59, 0, 0, colombo)}, 1.0},
		{SurgeInputs{At: time.Date(2026, 3, 2, 7, 0, 0, 0, colombo)}, 1.2},
		{SurgeInputs{At: time.Date(2026, 3, 2, 9, 0, 0, 0, colombo)}, 1.0},
		{SurgeInputs{At: time.Date(2026, 3, 2, 17, 0, 0, 0, colombo)}, 1.2},
		{SurgeInputs{At: time.Date(2026, 3, 2, 19, 0, 0, 0, colombo)}, 1.0},
		{SurgeInputs{DemandRatio: 0.6}, 1.0},
		{SurgeInputs{DemandRatio: 0.7}, 1.15},
		{SurgeInputs{DemandRatio: 0.8}, 1.15},
		{SurgeInputs{DemandRatio: 0.85}, 1.3},
	}
	for _, tt := range tests {
		if got := e.Multiplier(tt.in); got < tt.want-1e-9 || got > tt.want+1e-9 {
			t.Errorf("Multiplier(%+v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEstimateRejectsBadInput(t *testing.T) {
	bad := []Request{
		{Kind: "boat", Rates: Rates{Base: 1}},
		{Kind: types.KindDriver, Rates: Rates{Base: -1}},
		{Kind: types.KindDriver, DistanceKm: -3},
		{Kind: types.KindDriver, Surge: SurgeInputs{DemandRatio: 1.5}},
	}
	e := NewEngine(DefaultPolicy(), time.UTC)
	for _, r := range bad {
		if _, err := e.Estimate(r); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Estimate(%+v) err = %v, want ErrInvalidInput", r, err)
		}
	}
}

func TestFixedMultiplierOverridesSurge(t *testing.T) {
	e := NewEngine(DefaultPolicy(), colombo)
	b, err := e.Estimate(Request{
		Kind:            types.KindDriver,
		Rates:           Rates{Base: 1000},
		Surge:           SurgeInputs{Weather: WeatherStorm},
		FixedMultiplier: 1.5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if b.SurgeMultiplier != 1.5 || b.Total != 1500 {
		t.Fatalf("Estimate() = %+v", b)
	}
	if _, err := e.Estimate(Request{Kind: types.KindDriver, FixedMultiplier: 0.5}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("multiplier below 1 err = %v", err)
	}
}

func TestFinalReportsVariance(t *testing.T) {
	e := NewEngine(DefaultPolicy(), colombo)
	req := Request{Kind: types.KindDriver, Rates: Rates{Base: 300, PerKm: 50, PerMinute: 5}, DistanceKm: 12, DurationMinutes: 30}
	b, variance, err := e.Final(req, 950)
	if err != nil {
		t.Fatal(err)
	}
	if b.Total != 1050 || variance != 100 {
		t.Fatalf("Final() total=%v variance=%v, want 1050 and 100", b.Total, variance)
	}
}

func TestCombine(t *testing.T) {
	e := NewEngine(DefaultPolicy(), colombo)
	guide, _ := e.Estimate(Request{Kind: types.KindGuide, Verified: true, Rates: Rates{Base: 1000}})
	driver, _ := e.Estimate(Request{Kind: types.KindDriver, Rates: Rates{Base: 500, PerKm: 50}, DistanceKm: 10})
	got := Combine(guide, driver)
	if got.Total != 2000 || got.Commission != 150 || got.ProviderEarnings != 1850 {
		t.Fatalf("Combine() = %+v", got)
	}
	if got.CommissionRate != 0.075 {
		t.Fatalf("blended rate = %v, want 0.075", got.CommissionRate)
	}
}

type fakeWeather struct {
	w   Weather
	err error
}

func (f fakeWeather) Condition(context.Context, types.Point) (Weather, error) { return f.w, f.err }

type fakeDemand struct {
	ratio float64
	err   error
}

func (f fakeDemand) DemandRatio(context.Context, types.ProviderKind, types.Point) (float64, error) {
	return f.ratio, f.err
}

func TestServiceSurgeInputs(t *testing.T) {
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, colombo)
	p := types.Point{Lat: 6.93, Lng: 79.85}
	e := NewEngine(DefaultPolicy(), colombo)

	svc := NewService(Deps{Engine: e, Weather: fakeWeather{w: WeatherStorm}, Demand: fakeDemand{ratio: 0.9}, Log: logger.Discard()})
	in := svc.SurgeInputs(context.Background(), types.KindDriver, p, at)
	if in.Weather != WeatherStorm || in.DemandRatio != 0.9 || !in.At.Equal(at) {
		t.Fatalf("SurgeInputs() = %+v", in)
	}

	svc = NewService(Deps{Engine: e, Weather: fakeWeather{err: errors.New("redis down")}, Demand: fakeDemand{ratio: 0.9}, Log: logger.Discard()})
	in = svc.SurgeInputs(context.Background(), types.KindDriver, p, at)
	if e.Multiplier(in) != 1.0 {
		t.Fatalf("weather failure should disable surge, got %+v", in)
	}

	svc = NewService(Deps{Engine: e, Weather: fakeWeather{w: WeatherRain}, Demand: fakeDemand{err: errors.New("index down")}, Log: logger.Discard()})
	in = svc.SurgeInputs(context.Background(), types.KindDriver, p, at)
	if in.DemandRatio != 0 || in.Weather != WeatherRain {
		t.Fatalf("demand failure should only drop demand, got %+v", in)
	}
}

func TestServiceQuoteLive(t *testing.T) {
	e := NewEngine(DefaultPolicy(), colombo)
	svc := NewService(Deps{Engine: e, Weather: fakeWeather{w: WeatherRain}, Log: logger.Discard()})
	b, err := svc.Quote(context.Background(), QuoteCommand{
		Request:  Request{Kind: types.KindDriver, Rates: Rates{Base: 1000}, Surge: SurgeInputs{At: time.Date(2026, 3, 2, 12, 0, 0, 0, colombo)}},
		Live:     true,
		Location: types.Point{Lat: 6.93, Lng: 79.85},
	})
	if err != nil {
		t.Fatal(err)
	}
	if b.SurgeMultiplier != 1.15 || b.Total != 1150 {
		t.Fatalf("Quote() = %+v", b)
	}
}

func TestServiceQuoteLiveUsesClock(t *testing.T) {
	rush := time.Date(2026, 3, 2, 8, 0, 0, 0, colombo)
	svc := NewService(Deps{
		Engine:  NewEngine(DefaultPolicy(), colombo),
		Weather: fakeWeather{w: WeatherRain},
		Log:     logger.Discard(),
		Clock:   func() time.Time { return rush },
	})
	b, err := svc.Quote(context.Background(), QuoteCommand{
		Request:  Request{Kind: types.KindDriver, Rates: Rates{Base: 1000}},
		Live:     true,
		Location: types.Point{Lat: 6.93, Lng: 79.85},
	})
	if err != nil {
		t.Fatal(err)
	}
	// weekday rush 0.2 plus rain 0.15
	if b.SurgeMultiplier != 1.35 || b.Total != 1350 {
		t.Fatalf("Quote() = %+v", b)
	}
}

func TestWeatherStore(t *testing.T) {
	addr := os.Getenv("PEARLPATH_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PEARLPATH_TEST_REDIS_ADDR not set; skipping integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	ctx := context.Background()
	store := NewWeatherStore(rdb)
	p := types.Point{Lat: -33.0, Lng: 151.0}
	rdb.Del(ctx, weatherKey(p))

	w, err := store.Condition(ctx, p)
	if err != nil || w != WeatherClear {
		t.Fatalf("missing key: w=%v err=%v", w, err)
	}
	if err := store.SetCondition(ctx, p, WeatherStorm, time.Minute); err != nil {
		t.Fatal(err)
	}
	w, err = store.Condition(ctx, types.Point{Lat: -33.0001, Lng: 151.0001})
	if err != nil || w != WeatherStorm {
		t.Fatalf("same cell: w=%v err=%v", w, err)
	}
}
