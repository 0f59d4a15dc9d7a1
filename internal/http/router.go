// README: HTTP router registration.
package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/PearlPath/pearlpath-api/internal/http/handlers"
	"github.com/PearlPath/pearlpath-api/internal/http/middleware"
	"github.com/PearlPath/pearlpath-api/internal/infra"
)

type BookingService interface {
	handlers.BookingService
	handlers.ProviderBookings
}

type RouterDeps struct {
	Verifier infra.TokenVerifier
	// Limiter is optional; nil disables rate limiting.
	Limiter   middleware.Limiter
	Log       logrus.FieldLogger
	Providers handlers.ProviderService
	Search    handlers.Searcher
	Bookings  BookingService
	Pricing   handlers.Quoter
	Dispatch  handlers.DispatchService
	POIs      handlers.POIService
	// Currency is the ISO code reported with fare estimates.
	Currency string
	// Health reports dependency readiness for /health; nil always answers OK.
	Health func(ctx context.Context) error
}

func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(d.Log), middleware.Logging(d.Log), middleware.Metrics())

	r.GET("/health", func(c *gin.Context) {
		if d.Health != nil {
			if err := d.Health(c.Request.Context()); err != nil {
				d.Log.WithError(err).Warn("health check failed")
				c.String(http.StatusServiceUnavailable, "UNAVAILABLE")
				return
			}
		}
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	providerHandler := handlers.NewProviderHandler(d.Providers, d.Search, d.Bookings)
	bookingHandler := handlers.NewBookingHandler(d.Bookings)
	fareHandler := handlers.NewFareHandler(d.Pricing, d.Currency)
	rideHandler := handlers.NewRideHandler(d.Dispatch)
	poiHandler := handlers.NewPOIHandler(d.POIs)

	public := r.Group("/api")
	if d.Limiter != nil {
		public.Use(middleware.RateLimit(d.Limiter))
	}
	public.GET("/trips/shared/:token", rideHandler.ViewShared)

	api := r.Group("/api")
	api.Use(middleware.Auth(d.Verifier))
	if d.Limiter != nil {
		api.Use(middleware.RateLimit(d.Limiter))
	}

	api.GET("/providers/search", providerHandler.Search)
	api.POST("/providers", providerHandler.Register)
	api.GET("/providers/:id", providerHandler.Get)
	api.GET("/providers/:id/bookings", providerHandler.Bookings)
	api.PUT("/providers/:id/location", providerHandler.UpdateLocation)
	api.PUT("/providers/:id/online", providerHandler.SetOnline)
	api.PUT("/providers/:id/schedule", providerHandler.UpdateSchedule)
	api.PUT("/providers/:id/verification", providerHandler.Verify)

	api.POST("/bookings", bookingHandler.Create)
	api.GET("/bookings", bookingHandler.ListMine)
	api.GET("/bookings/:id", bookingHandler.Get)
	api.POST("/bookings/:id/rating", bookingHandler.Rate)
	api.POST("/bookings/:id/incidents", rideHandler.Report)
	api.POST("/bookings/:id/:action", bookingHandler.Transition)

	api.POST("/fares/estimate", fareHandler.Estimate)

	api.POST("/rides", rideHandler.Request)
	api.POST("/rides/:id/respond", rideHandler.Respond)
	api.POST("/rides/:id/start", rideHandler.Start)
	api.POST("/rides/:id/complete", rideHandler.Complete)
	api.POST("/rides/:id/share", rideHandler.Share)
	api.POST("/rides/:id/sos", rideHandler.SOS)

	api.GET("/incidents", rideHandler.ListIncidents)
	api.GET("/incidents/:id", rideHandler.GetIncident)
	api.POST("/incidents/:id/review", rideHandler.ReviewIncident)
	api.POST("/incidents/:id/resolve", rideHandler.ResolveIncident)

	api.POST("/pois/classify", poiHandler.Classify)
	api.POST("/pois", poiHandler.Submit)
	api.GET("/pois/pending", poiHandler.ListPending)
	api.GET("/pois/:id", poiHandler.Get)
	api.POST("/pois/:id/moderate", poiHandler.Moderate)

	return r
}
