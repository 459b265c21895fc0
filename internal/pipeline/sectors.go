package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/alphaledger/signalrun/internal/indicators"
	"github.com/alphaledger/signalrun/internal/journal"
	"github.com/alphaledger/signalrun/internal/providers"
	"github.com/alphaledger/signalrun/internal/state"
)

// defaultRegimePair applies when no sector-specific thresholds are tuned.
var defaultRegimePair = struct{ Oversold, Overbought float64 }{-5, 5}

// Sectors is Phase 3: momentum-ranks the fixed sector proxies, assigns
// each a sentiment regime, applies the veto matrix (LONG mode only), the
// rate-sensitivity penalty, and appends the day's momentum snapshot to
// the rolling history.
func (d Deps) Sectors(ctx context.Context, mode Mode, macro MacroRegime, bmi BMIData) map[string]*SectorScore {
	cfg := d.Cfg.Tuning.Sectors
	core := d.Cfg.Core.Sectors

	today := d.now().UTC().Format("2006-01-02")
	from := d.now().UTC().AddDate(0, 0, -(cfg.MomentumDays + cfg.TrendMADays + 30)).Format("2006-01-02")

	type fetched struct {
		etf    string
		sector string
		bench  bool
		bars   []providers.Bar
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	var rows []fetched

	fetch := func(etf, sector string, bench bool) {
		defer wg.Done()
		bars, ok := d.Providers.Polygon.Bars(ctx, etf, from, today)
		if !ok || len(bars) < cfg.MomentumDays+1 {
			log.Warn().Str("etf", etf).Msg("sector bars unavailable, sector skipped")
			return
		}
		mu.Lock()
		rows = append(rows, fetched{etf: etf, sector: sector, bench: bench, bars: bars})
		mu.Unlock()
	}

	for etf, sector := range core.ETFs {
		wg.Add(1)
		go fetch(etf, sector, false)
	}
	wg.Add(1)
	go fetch(core.BondBenchmark, "bonds", true)
	wg.Wait()

	scores := make(map[string]*SectorScore, len(rows))
	for _, row := range rows {
		cl := closes(row.bars)
		s := &SectorScore{
			ETF:       row.etf,
			Sector:    row.sector,
			Momentum:  indicators.PercentChange(cl, cfg.MomentumDays),
			TrendUp:   cl[len(cl)-1] > indicators.SMA(cl, cfg.TrendMADays),
			Benchmark: row.bench,
		}
		s.Regime = d.sectorRegime(row.sector, s.Momentum)
		scores[row.sector] = s
	}

	d.rankSectors(scores)

	for _, s := range scores {
		d.applyVeto(s, mode)
		if !s.Vetoed && macro.RateSensitive && contains(core.RateSensitive, s.Sector) {
			s.Adjustment -= cfg.RateSensPenalty
		}
		d.emit("sector_scored", journal.SevInfo, journal.WithPhase("sectors"),
			journal.WithData(map[string]any{
				"sector": s.Sector, "etf": s.ETF, "momentum": s.Momentum,
				"classification": s.Classification, "regime": s.Regime,
				"vetoed": s.Vetoed, "veto_reason": s.VetoReason,
				"adjustment": s.Adjustment,
			}))
	}

	momentum := make(map[string]float64, len(scores))
	for name, s := range scores {
		momentum[name] = s.Momentum
	}
	if err := d.State.AppendHistory(state.HistoryPoint{Date: today, BMI: bmi.Value, SectorMomentum: momentum}); err != nil {
		log.Warn().Err(err).Msg("history append failed")
	}

	return scores
}

// rankSectors classifies by momentum rank: top-K leaders, bottom-K
// laggards, rest neutral. The bond benchmark is scored but excluded
// from the ranking itself.
func (d Deps) rankSectors(scores map[string]*SectorScore) {
	cfg := d.Cfg.Tuning.Sectors

	ranked := make([]*SectorScore, 0, len(scores))
	for _, s := range scores {
		if s.Benchmark {
			s.Classification = "neutral"
			continue
		}
		ranked = append(ranked, s)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Momentum != ranked[j].Momentum {
			return ranked[i].Momentum > ranked[j].Momentum
		}
		return ranked[i].Sector < ranked[j].Sector
	})

	for i, s := range ranked {
		switch {
		case i < cfg.TopK:
			s.Classification = "leader"
		case i >= len(ranked)-cfg.BottomK:
			s.Classification = "laggard"
		default:
			s.Classification = "neutral"
		}
	}
}

func (d Deps) sectorRegime(sector string, momentum float64) string {
	if d.SectorRegime != nil {
		return d.SectorRegime(sector, momentum)
	}
	pair, has := d.Cfg.Tuning.Sectors.RegimeThresholds[sector]
	oversold, overbought := defaultRegimePair.Oversold, defaultRegimePair.Overbought
	if has {
		oversold, overbought = pair.Oversold, pair.Overbought
	}
	switch {
	case momentum <= oversold:
		return "oversold"
	case momentum >= overbought:
		return "overbought"
	default:
		return "neutral"
	}
}

// applyVeto implements the classification x regime matrix. Vetoes apply
// in LONG mode only; the bond benchmark never vetoes.
func (d Deps) applyVeto(s *SectorScore, mode Mode) {
	cfg := d.Cfg.Tuning.Sectors

	switch s.Classification {
	case "leader":
		s.Adjustment += cfg.LeaderBonus
		return
	case "laggard":
		if s.Regime == "oversold" {
			// Mean-reversion allowance: tradeable, with a small penalty
			// substituted for the full laggard penalty.
			s.Adjustment -= cfg.MeanReversionPenalty
			return
		}
		if mode == ModeLong && !s.Benchmark {
			s.Vetoed = true
			s.VetoReason = "laggard_" + s.Regime
			return
		}
		s.Adjustment -= cfg.LaggardPenalty
		return
	default: // neutral
		if s.Regime == "overbought" && mode == ModeLong && !s.Benchmark {
			s.Vetoed = true
			s.VetoReason = "neutral_overbought"
		}
	}
}
