package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/alphaledger/signalrun/internal/indicators"
	"github.com/alphaledger/signalrun/internal/journal"
	"github.com/alphaledger/signalrun/internal/metrics"
	"github.com/alphaledger/signalrun/internal/providers"
)

// Score is Phase 4: per-ticker technical/flow/fundamental scoring with
// the sector adjustment folded in. Per-ticker fetches run concurrently;
// a ticker whose data cannot be fetched is excluded with a reason, never
// aborting the batch.
func (d Deps) Score(ctx context.Context, run *RunContext) []*StockAnalysis {
	today := d.now().UTC().Format("2006-01-02")
	from := d.now().UTC().AddDate(0, 0, -320).Format("2006-01-02")

	benchBars, benchOK := d.Providers.Polygon.Bars(ctx, d.Cfg.Core.BMI.BenchmarkSymbol, from, today)
	var benchCloses []float64
	if benchOK {
		benchCloses = closes(benchBars)
	}

	var wg sync.WaitGroup
	analyses := make([]*StockAnalysis, len(run.Universe))

	for i, t := range run.Universe {
		wg.Add(1)
		go func(i int, t providers.TickerInfo) {
			defer wg.Done()
			analyses[i] = d.scoreTicker(ctx, run, t, benchCloses, from, today)
		}(i, t)
	}
	wg.Wait()

	// Deterministic order for the scan matrix and downstream phases.
	sort.Slice(analyses, func(i, j int) bool {
		if analyses[i].OriginalScore != analyses[j].OriginalScore {
			return analyses[i].OriginalScore > analyses[j].OriginalScore
		}
		return analyses[i].Ticker.Symbol < analyses[j].Ticker.Symbol
	})

	included := 0
	for _, a := range analyses {
		if !a.Excluded {
			included++
			continue
		}
		metrics.Exclusions.WithLabelValues("scoring", a.Reason).Inc()
		d.emit("ticker_excluded", journal.SevInfo, journal.WithPhase("scoring"),
			journal.WithTicker(a.Ticker.Symbol),
			journal.WithData(map[string]any{"reason": a.Reason, "score": a.Score}))
	}
	d.emit("scoring_complete", journal.SevInfo, journal.WithPhase("scoring"),
		journal.WithData(map[string]any{"analyzed": len(analyses), "included": included}))
	return analyses
}

func (d Deps) scoreTicker(ctx context.Context, run *RunContext, t providers.TickerInfo, benchCloses []float64, from, today string) *StockAnalysis {
	cfg := d.Cfg.Tuning.Scoring
	a := &StockAnalysis{Ticker: t}

	exclude := func(reason string) *StockAnalysis {
		a.Excluded = true
		a.Reason = reason
		a.OriginalScore = a.Score
		return a
	}

	if sector, has := run.Sectors[t.Sector]; has && sector.Vetoed {
		return exclude("sector_veto")
	}

	bars, ok := d.Providers.Polygon.Bars(ctx, t.Symbol, from, today)
	if !ok || len(bars) < cfg.TrendMADays {
		log.Warn().Str("symbol", t.Symbol).Msg("insufficient bars, ticker skipped in scoring")
		return exclude("bars_unavailable")
	}
	a.Bars = bars
	cl := closes(bars)
	price := cl[len(cl)-1]

	// Long-MA trend filter is a hard gate, direction-aware.
	trendMA := indicators.SMA(cl, cfg.TrendMADays)
	if run.Mode == ModeShort {
		if price >= trendMA {
			return exclude("trend_filter")
		}
	} else if price <= trendMA {
		return exclude("trend_filter")
	}

	a.FlowData, a.HasFlow = d.Providers.Flow.Activity(ctx, t.Symbol)

	a.Technical = technicalScore(cl, benchCloses, cfg.ShortMADays, run.Mode)
	a.Flow = flowScore(a.FlowData, a.HasFlow, run.Mode)
	a.Fundamental, a.Shark = fundamentalScore(t, a.FlowData, run.Mode)

	if sector, has := run.Sectors[t.Sector]; has {
		a.SectorAdj = sector.Adjustment
	}
	a.Score = cfg.TechnicalWeight*a.Technical + cfg.FlowWeight*a.Flow +
		cfg.FundamentalWeight*a.Fundamental + a.SectorAdj
	a.OriginalScore = a.Score

	if dangerZone(t, cfg.DangerDebtEquity, cfg.DangerNetMargin, cfg.DangerInterestCov) {
		return exclude("danger_zone")
	}
	if a.Score < cfg.MinScore {
		return exclude("score_below_min")
	}
	if a.Score > cfg.CrowdedCeiling {
		return exclude("crowded_trade")
	}
	return a
}

// technicalScore builds the sub-score from relative strength against the
// benchmark and the short-MA position. The hard trend gate has already
// passed by the time this runs.
func technicalScore(cl, benchCloses []float64, shortMADays int, mode Mode) float64 {
	score := 50.0

	rel := indicators.PercentChange(cl, 20)
	if len(benchCloses) > 20 {
		rel -= indicators.PercentChange(benchCloses, 20)
	}
	if mode == ModeShort {
		rel = -rel
	}
	score += clampF(rel*2.5, -25, 25)

	shortMA := indicators.SMA(cl, shortMADays)
	price := cl[len(cl)-1]
	aboveShort := price > shortMA
	if (mode == ModeLong && aboveShort) || (mode == ModeShort && !aboveShort) {
		score += 10
	}
	return clampF(score, 0, 100)
}

// flowScore reads the dark-pool/options-flow snapshot. Missing flow data
// scores neutral: absence of data is not a signal either way.
func flowScore(f providers.FlowActivity, has bool, mode Mode) float64 {
	if !has {
		return 50
	}
	score := 50.0

	if f.RelativeVolume > 1.5 {
		score += 10
	}
	if f.ParticipationPct > 30 {
		score += 10
	}
	if f.BlockTrades >= 5 {
		score += 10
	}

	bullishFlow := f.PutCallRatio < 0.7 && f.OTMRatio > 0.3
	bearishFlow := f.PutCallRatio > 1.3
	buying := f.BuyPressure > 0.6
	selling := f.BuyPressure < 0.4
	if mode == ModeShort {
		if bearishFlow {
			score += 10
		}
		if selling {
			score += 10
		}
	} else {
		if bullishFlow {
			score += 10
		}
		if buying {
			score += 10
		}
	}
	return clampF(score, 0, 100)
}

// fundamentalScore combines growth, efficiency, leverage safety, insider
// activity and institutional trend, and flags suspicious accumulation.
func fundamentalScore(t providers.TickerInfo, f providers.FlowActivity, mode Mode) (float64, bool) {
	score := 50.0

	growth := t.RevenueGrowth > 0.15
	efficient := t.NetMargin > 10 || t.ROE > 0.15
	safe := t.DebtEquity >= 0 && t.DebtEquity < 1

	if mode == ModeShort {
		// Short candidates score on deteriorating fundamentals.
		if t.RevenueGrowth < 0 {
			score += 10
		}
		if t.NetMargin < 0 {
			score += 10
		}
		if t.DebtEquity > 2 {
			score += 10
		}
	} else {
		if growth {
			score += 10
		}
		if efficient {
			score += 10
		}
		if safe {
			score += 10
		}
	}

	if t.InstOwnTrend > 0 {
		score += 5
	}
	if t.InsiderBuyRatio > 1 {
		score *= 1.1
	}

	// Shark: insiders and dark pool accumulating in the same name.
	shark := t.InsiderBuyRatio > 2 && f.ParticipationPct > 40 && f.BuyPressure > 0.6
	if shark {
		score += 5
	}
	return clampF(score, 0, 100), shark
}

// dangerZone excludes on two or more structural red flags regardless of
// how well the ticker otherwise scored.
func dangerZone(t providers.TickerInfo, maxDE, minMargin, minCoverage float64) bool {
	flags := 0
	if t.DebtEquity > maxDE {
		flags++
	}
	if t.NetMargin < minMargin {
		flags++
	}
	if t.InterestCoverage < minCoverage && t.InterestCoverage != 0 {
		flags++
	}
	return flags >= 2
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
