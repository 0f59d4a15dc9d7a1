package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BookingTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "pearlpath", Name: "booking_transitions_total", Help: "Booking state transitions by target status"},
		[]string{"type", "to"},
	)
	BookingCreateConflicts = promauto.NewCounter(prometheus.CounterOpts{Namespace: "pearlpath", Name: "booking_create_conflicts_total", Help: "Booking creations rejected for scheduling conflicts"})
	SurgeMultiplier        = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pearlpath",
		Name:      "surge_multiplier",
		Help:      "Surge multiplier applied to quotes",
		Buckets:   []float64{1.0, 1.1, 1.2, 1.3, 1.5, 1.75, 2.0},
	})
	SearchLatency   = promauto.NewHistogram(prometheus.HistogramOpts{Namespace: "pearlpath", Name: "provider_search_latency_seconds", Help: "Provider search latency seconds"})
	SOSTriggered    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "pearlpath", Name: "sos_triggered_total", Help: "SOS incidents created"})
	RidesExpired    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "pearlpath", Name: "rides_expired_total", Help: "Ride requests cancelled after the driver did not respond"})
	POIClassified   = promauto.NewCounterVec(prometheus.CounterOpts{Namespace: "pearlpath", Name: "poi_classified_total", Help: "POI submissions by automatic status"}, []string{"status"})
	ProvidersOnline = promauto.NewGaugeVec(prometheus.GaugeOpts{Namespace: "pearlpath", Name: "providers_online", Help: "Providers currently in the live index"}, []string{"kind"})
	RateLimited     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "pearlpath", Name: "rate_limited_total", Help: "Requests rejected by the rate limiter"})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "pearlpath", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "pearlpath",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
