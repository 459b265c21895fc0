package providers

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/alphaledger/signalrun/internal/journal"
	"github.com/alphaledger/signalrun/internal/metrics"
)

// FallbackExposure tries the primary exposure source and, when it yields
// nothing, falls back to the secondary. Every fallback is audited: the
// choice of data source changes what the run saw.
type FallbackExposure struct {
	primary   ExposureSource
	secondary ExposureSource
	audit     Auditor
}

func NewFallbackExposure(primary, secondary ExposureSource, audit Auditor) *FallbackExposure {
	return &FallbackExposure{primary: primary, secondary: secondary, audit: audit}
}

func (f *FallbackExposure) ExposureByStrike(ctx context.Context, symbol string) ([]StrikeExposure, bool) {
	if exposures, ok := f.primary.ExposureByStrike(ctx, symbol); ok {
		return exposures, true
	}

	if f.secondary == nil {
		f.record(symbol, "none")
		return nil, false
	}
	f.record(symbol, f.secondary.Name())
	return f.secondary.ExposureByStrike(ctx, symbol)
}

func (f *FallbackExposure) record(symbol, to string) {
	metrics.FallbackEvents.WithLabelValues("exposure", to).Inc()
	log.Warn().Str("symbol", symbol).Str("from", f.primary.Name()).Str("to", to).
		Msg("exposure source fallback")
	if f.audit != nil {
		f.audit.Emit("provider_fallback", journal.SevWarning,
			journal.WithTicker(symbol),
			journal.WithData(map[string]any{
				"capability": "exposure", "from": f.primary.Name(), "to": to,
			}))
	}
}

// FallbackFlow wraps the sole dark-pool source. There is no secondary;
// when the primary is down the degradation itself is recorded and the
// caller proceeds without flow data.
type FallbackFlow struct {
	primary FlowSource
	audit   Auditor
}

func NewFallbackFlow(primary FlowSource, audit Auditor) *FallbackFlow {
	return &FallbackFlow{primary: primary, audit: audit}
}

func (f *FallbackFlow) Activity(ctx context.Context, symbol string) (FlowActivity, bool) {
	if activity, ok := f.primary.Activity(ctx, symbol); ok {
		return activity, true
	}

	metrics.FallbackEvents.WithLabelValues("darkpool", "none").Inc()
	log.Warn().Str("symbol", symbol).Str("from", f.primary.Name()).
		Msg("dark-pool source down, no secondary")
	if f.audit != nil {
		f.audit.Emit("provider_fallback", journal.SevWarning,
			journal.WithTicker(symbol),
			journal.WithData(map[string]any{
				"capability": "darkpool", "from": f.primary.Name(), "to": "none",
			}))
	}
	return FlowActivity{}, false
}
