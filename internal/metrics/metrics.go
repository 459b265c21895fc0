package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters for the resilience layer and pipeline decisions. Registered on
// the default registry and served by the monitor endpoint when enabled.
var (
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalrun_provider_requests_total",
		Help: "Provider HTTP requests by outcome",
	}, []string{"provider", "outcome"})

	ProviderRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalrun_provider_retries_total",
		Help: "Retried provider HTTP attempts",
	}, []string{"provider"})

	BreakerRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalrun_breaker_rejections_total",
		Help: "Requests rejected by an open circuit breaker",
	}, []string{"provider"})

	FallbackEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalrun_fallback_events_total",
		Help: "Primary provider fallbacks by capability",
	}, []string{"capability", "to"})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalrun_cache_hits_total",
		Help: "Date-keyed cache hits by provider",
	}, []string{"provider"})

	Exclusions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "signalrun_exclusions_total",
		Help: "Per-ticker exclusions by phase and reason",
	}, []string{"phase", "reason"})

	PositionsSized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "signalrun_positions_sized_total",
		Help: "Positions emitted to the execution plan",
	})
)
