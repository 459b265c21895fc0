package pipeline

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"github.com/alphaledger/signalrun/internal/config"
	"github.com/alphaledger/signalrun/internal/indicators"
	"github.com/alphaledger/signalrun/internal/journal"
	"github.com/alphaledger/signalrun/internal/providers"
	"github.com/alphaledger/signalrun/internal/state"
)

// Diagnostics is Phase 0: sequential provider canaries, the manual
// drawdown breaker, then the macro volatility regime. Any halt condition
// returns a HaltError before the pipeline produces output.
func (d Deps) Diagnostics(ctx context.Context) (MacroRegime, error) {
	canaries := map[string]func(context.Context) bool{
		"polygon": d.Providers.Polygon.Canary,
		"uw":      d.Providers.UW.Canary,
		"fmp":     d.Providers.FMP.Canary,
		"fred":    d.Providers.Fred.Canary,
	}
	for _, name := range config.CriticalProviders {
		canary, known := canaries[name]
		if !known {
			return MacroRegime{}, &HaltError{Reason: fmt.Sprintf("no canary for critical provider %s", name)}
		}
		if !canary(ctx) {
			d.emit("provider_down", journal.SevError, journal.WithPhase("diagnostics"),
				journal.WithData(map[string]any{"provider": name}))
			return MacroRegime{}, &HaltError{Reason: fmt.Sprintf("critical provider %s unreachable", name)}
		}
		log.Info().Str("provider", name).Msg("canary ok")
	}

	mb, err := state.ReadManualBreaker(d.Cfg.Runtime.ManualBreakerPath)
	if err != nil {
		return MacroRegime{}, err
	}
	if mb.Active {
		d.emit("manual_breaker_active", journal.SevError, journal.WithPhase("diagnostics"),
			journal.WithData(map[string]any{"reason": mb.Reason, "set_at": mb.SetAt}))
		return MacroRegime{}, &HaltError{Reason: "manual drawdown breaker active: " + mb.Reason}
	}

	macro := d.macroRegime(ctx)
	d.emit("macro_regime", journal.SevInfo, journal.WithPhase("diagnostics"),
		journal.WithData(map[string]any{
			"vix": macro.VIX, "source": macro.VIXSource, "band": macro.Band,
			"multiplier": macro.Multiplier, "rate_sensitive": macro.RateSensitive,
		}))
	return macro, nil
}

// macroRegime resolves VIX primary → secondary → conservative default,
// classifies the band, derives the sizing multiplier, and flags
// rate-sensitivity from the 10y yield vs its moving average.
func (d Deps) macroRegime(ctx context.Context) MacroRegime {
	mc := d.Cfg.Core.Macro
	today := d.now().UTC().Format("2006-01-02")
	from := d.now().UTC().AddDate(0, 0, -90).Format("2006-01-02")

	vix, source := d.resolveVIX(ctx, from, today)

	m := MacroRegime{VIX: vix, VIXSource: source}
	m.Band = vixBand(vix)
	m.Multiplier = vixMultiplier(vix, mc.MultiplierStart, mc.MultiplierRate, mc.MultiplierFloor,
		mc.ExtremeThreshold, mc.ExtremeMultiplier)

	yields, ok := d.Providers.Fred.Series(ctx, providers.SeriesYield10Y, from, today)
	if ok && len(yields) >= mc.YieldMAWindow {
		m.Yield10Y = yields[len(yields)-1]
		m.YieldMA = indicators.SMA(yields, mc.YieldMAWindow)
		if m.YieldMA > 0 {
			exceed := (m.Yield10Y - m.YieldMA) / m.YieldMA * 100
			m.RateSensitive = exceed > mc.RateSensExceedPct
		}
	} else {
		log.Warn().Msg("10y yield unavailable, rate sensitivity unflagged")
	}
	return m
}

func (d Deps) resolveVIX(ctx context.Context, from, today string) (float64, string) {
	mc := d.Cfg.Core.Macro

	sane := func(v float64) bool { return v >= mc.VIXSaneMin && v <= mc.VIXSaneMax }

	if series, ok := d.Providers.Fred.Series(ctx, providers.SeriesVIX, from, today); ok && len(series) > 0 {
		if v := series[len(series)-1]; sane(v) {
			return v, "fred"
		}
		log.Warn().Float64("vix", series[len(series)-1]).Msg("primary VIX outside sane range")
	}

	if bars, ok := d.Providers.Polygon.Bars(ctx, mc.VIXFallbackSymbol, from, today); ok && len(bars) > 0 {
		if v := bars[len(bars)-1].Close; sane(v) {
			return v, "polygon"
		}
	}

	log.Warn().Float64("default", mc.VIXDefault).Msg("VIX unavailable from both sources, using conservative default")
	return mc.VIXDefault, "default"
}

// vixMultiplier derives the macro sizing multiplier: linear decay from
// the start threshold, floored, with a flat override in extreme
// volatility. Below the start threshold the result exceeds 1 and sizes
// up; the combined-multiplier clamp bounds the total.
func vixMultiplier(vix, start, rate, floor, extreme, extremeMult float64) float64 {
	m := math.Max(floor, 1-(vix-start)*rate)
	if vix >= extreme {
		m = extremeMult
	}
	return m
}

func vixBand(vix float64) string {
	switch {
	case vix < 15:
		return "calm"
	case vix < 20:
		return "normal"
	case vix < 30:
		return "elevated"
	case vix < 40:
		return "high"
	default:
		return "extreme"
	}
}
