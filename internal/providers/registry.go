package providers

import (
	"github.com/alphaledger/signalrun/internal/cache"
	"github.com/alphaledger/signalrun/internal/config"
	"github.com/alphaledger/signalrun/internal/net/circuit"
	"github.com/alphaledger/signalrun/internal/net/httpx"
	"github.com/alphaledger/signalrun/internal/net/ratelimit"
)

// Registry wires all provider clients to their breakers, limiters, and
// the shared response cache, and composes the fallback adapters.
type Registry struct {
	Polygon *Polygon
	UW      *UW
	FMP     *FMP
	Fred    *Fred

	Exposure *FallbackExposure
	Flow     *FallbackFlow

	breakers map[string]*circuit.Breaker
}

// NewRegistry builds one client per configured provider. Every provider
// gets its own breaker and limiter; all share the resilience constants.
func NewRegistry(cfg config.Config, store cache.Store, audit Auditor) *Registry {
	res := cfg.Core.Resilience
	limiters := ratelimit.NewManager()
	breakers := make(map[string]*circuit.Breaker, len(config.CriticalProviders))

	client := func(name string) *httpx.Client {
		rt := cfg.Runtime.Providers[name]
		limiters.AddProvider(name, res.ProviderRPS, res.ProviderBurst, res.ProviderConcurrency)
		breakers[name] = circuit.NewBreaker(circuit.Config{
			Provider:          name,
			WindowSize:        res.BreakerWindowSize,
			MinResults:        res.BreakerMinResults,
			FailureRateToOpen: res.BreakerFailureRate,
			Cooldown:          res.BreakerCooldown.Std(),
		})
		return httpx.NewClient(httpx.Config{
			Provider:    name,
			BaseURL:     rt.BaseURL,
			Timeout:     res.RequestTimeout.Std(),
			MaxAttempts: res.MaxAttempts,
			BackoffUnit: res.BackoffUnit.Std(),
			Headers:     rt.Headers(),
		}, breakers[name], limiters.Get(name))
	}

	r := &Registry{
		Polygon:  NewPolygon(client("polygon"), store),
		UW:       NewUW(client("uw")),
		FMP:      NewFMP(client("fmp"), cfg.Runtime.Providers["fmp"].APIKey),
		Fred:     NewFred(client("fred"), cfg.Runtime.Providers["fred"].APIKey, store),
		breakers: breakers,
	}
	r.Exposure = NewFallbackExposure(r.UW, r.Polygon, audit)
	r.Flow = NewFallbackFlow(r.UW, audit)
	return r
}

// Breakers exposes per-provider breakers for health reporting.
func (r *Registry) Breakers() map[string]*circuit.Breaker { return r.breakers }
