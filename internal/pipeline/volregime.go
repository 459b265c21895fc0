package pipeline

import (
	"context"
	"math"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/alphaledger/signalrun/internal/journal"
	"github.com/alphaledger/signalrun/internal/metrics"
	"github.com/alphaledger/signalrun/internal/providers"
)

// VolRegimes is Phase 5: classifies the top-N surviving tickers by their
// options-derived exposure profile. Missing exposure data defaults to
// suppressive; in LONG mode destabilizing tickers are excluded.
func (d Deps) VolRegimes(ctx context.Context, run *RunContext) map[string]*VolRegime {
	core := d.Cfg.Core.VolRegime

	survivors := topSurvivors(run.Analyses, d.Cfg.Tuning.VolRegime.TopN)

	var wg sync.WaitGroup
	results := make([]*VolRegime, len(survivors))
	for i, a := range survivors {
		wg.Add(1)
		go func(i int, a *StockAnalysis) {
			defer wg.Done()
			price := a.Bars[len(a.Bars)-1].Close
			exposures, ok := d.Providers.Exposure.ExposureByStrike(ctx, a.Ticker.Symbol)
			results[i] = classifyVolRegime(a.Ticker.Symbol, price, exposures, ok, core.TransitionalBandPct,
				core.SuppressiveMultiplier, core.TransitionalMultiplier, core.DestabilizingMultiplier)
		}(i, a)
	}
	wg.Wait()

	out := make(map[string]*VolRegime, len(results))
	for _, v := range results {
		if run.Mode == ModeLong && v.Regime == "destabilizing" {
			v.Excluded = true
			v.Reason = "destabilizing_regime"
			metrics.Exclusions.WithLabelValues("vol_regime", v.Reason).Inc()
		}
		d.emit("vol_regime", journal.SevInfo, journal.WithPhase("vol_regime"),
			journal.WithTicker(v.Symbol),
			journal.WithData(map[string]any{
				"regime": v.Regime, "net_exposure": v.NetExposure,
				"zero_crossing": v.ZeroCrossing, "upper_wall": v.UpperWall,
				"lower_wall": v.LowerWall, "multiplier": v.Multiplier,
				"data_missing": v.DataMissing, "excluded": v.Excluded,
			}))
		out[v.Symbol] = v
	}
	return out
}

func topSurvivors(analyses []*StockAnalysis, n int) []*StockAnalysis {
	// Analyses arrive sorted by original score descending from Phase 4.
	out := make([]*StockAnalysis, 0, n)
	for _, a := range analyses {
		if a.Excluded || len(a.Bars) == 0 {
			continue
		}
		out = append(out, a)
		if len(out) == n {
			break
		}
	}
	return out
}

// classifyVolRegime derives walls, the zero-crossing, and the regime from
// exposure-by-strike data. Exposures must be sorted ascending by strike.
func classifyVolRegime(symbol string, price float64, exposures []providers.StrikeExposure, ok bool,
	bandPct, suppressiveMult, transitionalMult, destabilizingMult float64) *VolRegime {

	v := &VolRegime{Symbol: symbol, Regime: "suppressive", Multiplier: suppressiveMult}
	if !ok || len(exposures) == 0 {
		// Absence of data is not a bearish signal; default conservative.
		v.DataMissing = true
		log.Debug().Str("symbol", symbol).Msg("exposure data missing, defaulting to suppressive")
		return v
	}

	var maxPos, maxNeg float64
	for _, e := range exposures {
		v.NetExposure += e.Net
		if e.Net > maxPos {
			maxPos = e.Net
			v.UpperWall = e.Strike
		}
		if e.Net < maxNeg {
			maxNeg = e.Net
			v.LowerWall = e.Strike
		}
	}

	v.ZeroCrossing = zeroCrossing(exposures)
	if v.ZeroCrossing == 0 {
		// No crossing: report unknown, keep the suppressive default.
		return v
	}

	switch {
	case math.Abs(price-v.ZeroCrossing)/v.ZeroCrossing*100 <= bandPct:
		v.Regime = "transitional"
		v.Multiplier = transitionalMult
	case price > v.ZeroCrossing && v.NetExposure > 0:
		v.Regime = "suppressive"
		v.Multiplier = suppressiveMult
	case price < v.ZeroCrossing:
		v.Regime = "destabilizing"
		v.Multiplier = destabilizingMult
	default:
		// Above the crossing without positive net backing: hedging flows
		// amplify rather than dampen.
		v.Regime = "destabilizing"
		v.Multiplier = destabilizingMult
	}
	return v
}

// zeroCrossing finds the price where cumulative exposure changes sign,
// linearly interpolated between the bracketing strikes. The accumulation
// runs from the top of the strike ladder down, so a positive low-strike /
// negative high-strike profile crosses strictly between the two. Returns
// 0 when no sign change exists.
func zeroCrossing(exposures []providers.StrikeExposure) float64 {
	n := len(exposures)
	cum := make([]float64, n)
	running := 0.0
	for i := n - 1; i >= 0; i-- {
		running += exposures[i].Net
		cum[i] = running
	}

	for i := 1; i < n; i++ {
		lo, hi := cum[i-1], cum[i]
		if (lo > 0 && hi < 0) || (lo < 0 && hi > 0) {
			s0, s1 := exposures[i-1].Strike, exposures[i].Strike
			return s0 + (s1-s0)*(0-lo)/(hi-lo)
		}
	}
	return 0
}
