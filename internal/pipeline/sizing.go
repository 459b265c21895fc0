package pipeline

import (
	"math"

	"github.com/rs/zerolog/log"

	"github.com/alphaledger/signalrun/internal/indicators"
	"github.com/alphaledger/signalrun/internal/journal"
	"github.com/alphaledger/signalrun/internal/metrics"
	"github.com/alphaledger/signalrun/internal/providers"
	"github.com/alphaledger/signalrun/internal/state"
)

// SizePositions is Phase 6: converts surviving analyses into risk-sized
// orders. Candidates are ranked by original (pre-freshness) score, the
// freshness bonus touches only the audited final score, limits apply in
// strict priority order, and the same-day dedup absorbs reruns.
func (d Deps) SizePositions(run *RunContext) []Position {
	cfg := d.Cfg.Tuning.Sizing

	var candidates []Position
	for _, a := range run.Analyses {
		if a.Excluded {
			continue
		}
		vol, has := run.VolByTick[a.Ticker.Symbol]
		if !has {
			continue // outside top-N, never classified
		}
		if vol.Excluded {
			continue
		}

		pos, reason := d.sizeOne(run, a, vol)
		if reason != "" {
			metrics.Exclusions.WithLabelValues("sizing", reason).Inc()
			d.emit("sizing_failed", journal.SevWarning, journal.WithPhase("sizing"),
				journal.WithTicker(a.Ticker.Symbol),
				journal.WithData(map[string]any{"reason": reason}))
			continue
		}
		candidates = append(candidates, pos)
	}

	// Phase 4 already sorted analyses by original score; candidates
	// inherit that order, so limit priority ignores freshness.
	sized := d.applyLimits(candidates)

	var final []Position
	for _, pos := range sized {
		if d.State.SeenToday(pos.Hash) {
			d.emit("signal_deduped", journal.SevInfo, journal.WithPhase("sizing"),
				journal.WithTicker(pos.Symbol),
				journal.WithData(map[string]any{"hash": pos.Hash}))
			continue
		}
		if !d.DryRun {
			if err := d.State.RecordSignal(pos.Symbol, string(pos.Direction), float64(pos.Quantity)*pos.Entry); err != nil {
				log.Error().Err(err).Str("symbol", pos.Symbol).Msg("signal state write failed")
			}
		}
		metrics.PositionsSized.Inc()
		d.emit("position_sized", journal.SevInfo, journal.WithPhase("sizing"),
			journal.WithTicker(pos.Symbol),
			journal.WithData(map[string]any{
				"direction": string(pos.Direction), "quantity": pos.Quantity,
				"entry": pos.Entry, "stop": pos.Stop,
				"target1": pos.Target1, "target2": pos.Target2,
				"risk_usd": pos.RiskUSD, "multiplier": pos.Multipliers.Combined,
				"fresh": pos.Fresh, "same_bar_policy": cfg.SameBarPolicy,
			}))
		final = append(final, pos)
	}
	return final
}

// sizeOne computes a single candidate position; a non-empty reason marks
// a sizing failure for the ticker, never a corrupt order.
func (d Deps) sizeOne(run *RunContext, a *StockAnalysis, vol *VolRegime) (Position, string) {
	cfg := d.Cfg.Tuning.Sizing

	bars := a.Bars
	entry := bars[len(bars)-1].Close
	atr := atrOf(bars, 14)
	if !positiveFinite(entry) || !positiveFinite(atr) {
		return Position{}, "invalid_price_or_atr"
	}

	m := d.multipliers(a, vol, run.Macro)

	baseRisk := d.Cfg.Runtime.AccountEquity * cfg.RiskPerTradePct / 100
	adjustedRisk := baseRisk * m.Combined
	stopDistance := atr * cfg.StopATRMultiple
	if !positiveFinite(stopDistance) {
		return Position{}, "invalid_stop_distance"
	}

	quantity := int(math.Floor(adjustedRisk / stopDistance))
	if quantity <= 0 {
		return Position{}, "quantity_zero"
	}
	if quantity > cfg.MaxQuantity {
		quantity = cfg.MaxQuantity
	}
	if notional := float64(quantity) * entry; notional > cfg.MaxTickerNotional {
		quantity = int(math.Floor(cfg.MaxTickerNotional / entry))
		if quantity <= 0 {
			return Position{}, "ticker_notional_cap"
		}
	}

	pos := Position{
		Symbol:        a.Ticker.Symbol,
		Sector:        a.Ticker.Sector,
		Direction:     run.Mode,
		Entry:         entry,
		Quantity:      quantity,
		RiskUSD:       float64(quantity) * stopDistance,
		OriginalScore: a.OriginalScore,
		Score:         a.OriginalScore,
		VolRegime:     vol.Regime,
		Multipliers:   m,
		Hash:          state.SignalHash(a.Ticker.Symbol, string(run.Mode), run.Date),
	}

	// Freshness multiplies the score for names absent from recent signal
	// history. Ranking already happened on the original score; this is
	// audit-visible output only.
	if !d.State.SeenWithin(a.Ticker.Symbol, cfg.FreshnessWindowDays) {
		pos.Fresh = true
		pos.Score = a.OriginalScore * cfg.FreshnessBonus
	}

	d.bracket(&pos, atr, vol)
	d.splitLegs(&pos)
	return pos, ""
}

// multipliers derives the six sizing factors and their clamped product.
func (d Deps) multipliers(a *StockAnalysis, vol *VolRegime, macro MacroRegime) Multipliers {
	cfg := d.Cfg.Tuning.Sizing

	m := Multipliers{
		Flow:        bandMultiplier(a.Flow, 70, 55, 40),
		Insider:     insiderMultiplier(a.Ticker.InsiderBuyRatio),
		Fundamental: bandMultiplier(a.Fundamental, 70, 55, 40),
		VolRegime:   vol.Multiplier,
		MacroVol:    macro.Multiplier,
		Utility:     1.0,
	}
	if a.OriginalScore >= cfg.UtilityScoreCutoff {
		m.Utility = cfg.UtilityBonus
	}
	m.Combined = clampF(m.Flow*m.Insider*m.Fundamental*m.VolRegime*m.MacroVol*m.Utility,
		cfg.MultiplierMin, cfg.MultiplierMax)
	return m
}

func bandMultiplier(score, strong, decent, weak float64) float64 {
	switch {
	case score >= strong:
		return 1.2
	case score >= decent:
		return 1.1
	case score < weak:
		return 0.8
	default:
		return 1.0
	}
}

func insiderMultiplier(ratio float64) float64 {
	switch {
	case ratio >= 2:
		return 1.2
	case ratio >= 1:
		return 1.1
	default:
		return 1.0
	}
}

// bracket sets the ATR-based stop and targets, snapping the near target
// to the Phase 5 wall when the wall is more conservative.
func (d Deps) bracket(pos *Position, atr float64, vol *VolRegime) {
	cfg := d.Cfg.Tuning.Sizing

	if pos.Direction == ModeShort {
		pos.Stop = pos.Entry + atr*cfg.StopATRMultiple
		pos.Target1 = pos.Entry - atr*cfg.Target1ATRMultiple
		pos.Target2 = pos.Entry - atr*cfg.Target2ATRMultiple
		if wall := vol.LowerWall; wall > pos.Target1 && wall < pos.Entry {
			pos.Target1 = wall
		}
		return
	}

	pos.Stop = pos.Entry - atr*cfg.StopATRMultiple
	pos.Target1 = pos.Entry + atr*cfg.Target1ATRMultiple
	pos.Target2 = pos.Entry + atr*cfg.Target2ATRMultiple
	if wall := vol.UpperWall; wall > pos.Entry && wall < pos.Target1 {
		pos.Target1 = wall
	}
}

// splitLegs divides quantity across the two take-profit legs; leg2 is the
// remainder so the legs always sum to the total.
func (d Deps) splitLegs(pos *Position) {
	leg1 := int(math.Floor(float64(pos.Quantity) * d.Cfg.Tuning.Sizing.Leg1SplitPct / 100))
	pos.QuantityLeg1 = leg1
	pos.QuantityLeg2 = pos.Quantity - leg1
}

func atrOf(bars []providers.Bar, period int) float64 {
	highs := make([]float64, len(bars))
	lows := make([]float64, len(bars))
	cl := make([]float64, len(bars))
	for i, b := range bars {
		highs[i] = b.High
		lows[i] = b.Low
		cl[i] = b.Close
	}
	return indicators.ATR(highs, lows, cl, period)
}

func positiveFinite(v float64) bool {
	return v > 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}
