// README: Entry point; loads config, runs migrations, wires services, starts the HTTP server and the ride-timeout sweeper.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/PearlPath/pearlpath-api/internal/config"
	httptransport "github.com/PearlPath/pearlpath-api/internal/http"
	"github.com/PearlPath/pearlpath-api/internal/infra"
	"github.com/PearlPath/pearlpath-api/internal/logger"
	"github.com/PearlPath/pearlpath-api/internal/maps"
	"github.com/PearlPath/pearlpath-api/internal/modules/availability"
	"github.com/PearlPath/pearlpath-api/internal/modules/booking"
	"github.com/PearlPath/pearlpath-api/internal/modules/dispatch"
	"github.com/PearlPath/pearlpath-api/internal/modules/matching"
	"github.com/PearlPath/pearlpath-api/internal/modules/notify"
	"github.com/PearlPath/pearlpath-api/internal/modules/poi"
	"github.com/PearlPath/pearlpath-api/internal/modules/pricing"
	"github.com/PearlPath/pearlpath-api/internal/modules/provider"
	"github.com/PearlPath/pearlpath-api/internal/modules/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("pearlpath-api stopped")
	}
	log.Info("pearlpath-api stopped")
}

func run(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	if cfg.Firebase.ProjectID == "" {
		return errors.New("PEARLPATH_FIREBASE_PROJECT_ID is required")
	}
	app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
	if err != nil {
		return err
	}
	verifier, err := infra.NewFirebaseVerifier(ctx, app)
	if err != nil {
		return err
	}

	if err := infra.RunMigrations(cfg.DB.DSN); err != nil {
		return err
	}
	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer dbPool.Close()

	redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	sinks := []notify.Sink{}
	if fcm, err := infra.NewFirebaseMessaging(ctx, app); err != nil {
		log.WithError(err).Warn("fcm unavailable, push notifications disabled")
	} else {
		sinks = append(sinks, notify.NewFCM(fcm))
	}
	if len(cfg.Kafka.Brokers) > 0 {
		writer := infra.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer writer.Close()
		sinks = append(sinks, notify.NewKafka(writer))
	}
	notifier := notify.NewDispatcher(log, sinks...)
	// drain in-flight notifications before the Kafka writer closes
	defer notifier.Wait()

	routes, err := maps.NewRouteService(cfg.Maps.APIKey, log)
	if err != nil {
		return err
	}

	engine := pricing.NewEngine(pricing.Policy{
		GuideVerified:   cfg.Pricing.GuideVerified,
		GuideUnverified: cfg.Pricing.GuideUnverified,
		DriverStandard:  cfg.Pricing.DriverStandard,
		Tiers:           cfg.Pricing.Tiers,
		RidePlatformFee: cfg.Pricing.RidePlatformFee,
	}, loc)
	matcher := availability.NewMatcher(loc)

	liveIndex := provider.NewLiveIndex(redisClient)
	providerStore := provider.NewStore(dbPool)
	providerSvc := provider.NewService(providerStore, liveIndex, log)

	pricingSvc := pricing.NewService(pricing.Deps{
		Engine:  engine,
		Weather: pricing.NewWeatherStore(redisClient),
		Demand:  liveIndex,
		Log:     log,
	})

	bookingSvc := booking.NewService(booking.Deps{
		Store:     booking.NewStore(dbPool),
		Providers: providerSvc,
		Engine:    engine,
		Surge:     pricingSvc,
		Matcher:   matcher,
		Notifier:  notifier,
		Occupancy: providerSvc,
		Log:       log,
	})

	matchingSvc := matching.NewService(matching.Deps{
		Index:         liveIndex,
		Directory:     providerStore,
		Occupancy:     bookingSvc,
		Surge:         pricingSvc,
		Engine:        engine,
		Matcher:       matcher,
		DefaultRadius: cfg.Matching.RadiusKm,
		Log:           log,
	})

	dispatchCfg := dispatch.DefaultConfig()
	dispatchCfg.ResponseTimeout = cfg.Dispatch.ResponseTimeout
	dispatchCfg.ShareTTL = cfg.Dispatch.ShareTTL
	dispatchSvc := dispatch.NewService(dispatch.Deps{
		Bookings:  bookingSvc,
		Routes:    routes,
		Incidents: dispatch.NewIncidentStore(dbPool),
		Shares:    dispatch.NewShareStore(redisClient),
		Positions: providerSvc,
		Notifier:  notifier,
		Config:    dispatchCfg,
		Log:       log,
	})

	poiSvc := poi.NewService(poi.NewStore(dbPool), log)

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Verifier:  verifier,
		Limiter:   ratelimit.NewLimiter(redisClient, cfg.RateLimit.RPM, time.Minute, log),
		Log:       log,
		Providers: providerSvc,
		Search:    matchingSvc,
		Bookings:  bookingSvc,
		Pricing:   pricingSvc,
		Dispatch:  dispatchSvc,
		POIs:      poiSvc,
		Currency:  cfg.Region.Currency,
		Health: func(ctx context.Context) error {
			if err := dbPool.Ping(ctx); err != nil {
				return err
			}
			return redisClient.Ping(ctx).Err()
		},
	})

	go runSweeper(ctx, dispatchSvc, cfg.Dispatch.SweepInterval, log)

	server := httptransport.NewServer(cfg.HTTP.Addr, router, cfg.HTTP.ShutdownTimeout, log)
	return server.Run(ctx)
}

// runSweeper cancels ride requests the driver left unanswered past the response timeout.
func runSweeper(ctx context.Context, svc *dispatch.Service, every time.Duration, log logrus.FieldLogger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.SweepUnanswered(ctx)
			if err != nil {
				log.WithError(err).Warn("ride sweep failed")
				continue
			}
			if n > 0 {
				log.WithField("expired", n).Info("expired unanswered rides")
			}
		}
	}
}
