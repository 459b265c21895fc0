package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/alphaledger/signalrun/internal/indicators"
	"github.com/alphaledger/signalrun/internal/journal"
	"github.com/alphaledger/signalrun/internal/providers"
)

// Regime is Phase 1: the Big-Money-Index. Scans the most liquid names'
// daily bars for volume-spike buy/sell signals, smooths the daily buy
// ratio, classifies the regime, and fixes the run's strategy mode.
//
// Bar fetches for independent tickers run concurrently under the market
// data provider's semaphore; the per-day aggregation is a pure function
// of the fetched bars, so concurrent and sequential runs agree exactly.
func (d Deps) Regime(ctx context.Context, screener []providers.TickerInfo) (BMIData, Mode) {
	cfg := d.Cfg.Core.BMI

	scan := topByMarketCap(screener, cfg.ScanUniverseSize)
	symbols := make([]string, len(scan))
	for i, t := range scan {
		symbols[i] = t.Symbol
	}

	today := d.now().UTC().Format("2006-01-02")
	from := d.now().UTC().AddDate(0, 0, -(cfg.LookbackDays + cfg.WarmupSamples + 30)).Format("2006-01-02")

	barsBySymbol := d.fetchBars(ctx, symbols, from, today)

	ratios, dates := dailyBuyRatios(barsBySymbol, cfg.WarmupSamples, cfg.SigmaK)

	bmi := BMIData{DaysCovered: len(ratios)}
	if len(ratios) < cfg.SmoothingWindow {
		log.Warn().Int("days", len(ratios)).Int("needed", cfg.SmoothingWindow).
			Msg("insufficient history for regime, failing safe to neutral/LONG")
		bmi.Classification = "neutral_long"
		bmi.FailSafe = true
		d.emit("regime_failsafe", journal.SevWarning, journal.WithPhase("regime"),
			journal.WithData(map[string]any{"days": len(ratios)}))
		return bmi, ModeLong
	}

	bmi.Value = indicators.SMA(ratios, cfg.SmoothingWindow)
	bmi.Classification = classifyBMI(bmi.Value, cfg.GreenThreshold, cfg.RedThreshold)

	// Divergence: benchmark up while the smoothed index slid. Informational
	// only; never changes the strategy mode.
	if len(ratios) >= cfg.SmoothingWindow+cfg.DivergenceWindowDays {
		prior := indicators.SMA(ratios[:len(ratios)-cfg.DivergenceWindowDays], cfg.SmoothingWindow)
		if bench, ok := barsBySymbol[cfg.BenchmarkSymbol]; ok {
			benchCloses := closes(bench)
			benchChange := indicators.PercentChange(benchCloses, cfg.DivergenceWindowDays)
			if benchChange > cfg.DivergenceBenchmarkRisePct && prior-bmi.Value > cfg.DivergenceDropPoints {
				bmi.Divergence = true
				log.Warn().Float64("bmi", bmi.Value).Float64("prior", prior).
					Float64("benchmark_change_pct", benchChange).Msg("bearish divergence flagged")
			}
		}
	}

	mode := ModeLong
	if bmi.Classification == "short_favoring" {
		mode = ModeShort
	}

	d.emit("regime_decided", journal.SevInfo, journal.WithPhase("regime"),
		journal.WithData(map[string]any{
			"bmi": bmi.Value, "classification": bmi.Classification,
			"mode": string(mode), "divergence": bmi.Divergence,
			"days": len(dates),
		}))
	return bmi, mode
}

// fetchBars retrieves daily bars for all symbols concurrently. Failures
// are logged and skipped; the gather proceeds with what succeeded.
func (d Deps) fetchBars(ctx context.Context, symbols []string, from, to string) map[string][]providers.Bar {
	// Benchmark bars are needed for divergence regardless of scan set.
	want := append([]string{}, symbols...)
	bench := d.Cfg.Core.BMI.BenchmarkSymbol
	if !contains(want, bench) {
		want = append(want, bench)
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	out := make(map[string][]providers.Bar, len(want))

	for _, symbol := range want {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			bars, ok := d.Providers.Polygon.Bars(ctx, symbol, from, to)
			if !ok {
				log.Warn().Str("symbol", symbol).Msg("bar fetch failed, ticker skipped in regime scan")
				return
			}
			mu.Lock()
			out[symbol] = bars
			mu.Unlock()
		}(symbol)
	}
	wg.Wait()
	return out
}

// dailyBuyRatios aggregates per-day buy/sell signals across all tickers
// into a chronological ratio series. A ticker contributes a signal on a
// day when its volume exceeds mean + k*sigma of the prior warmup window
// and its close is on one side of its open.
func dailyBuyRatios(barsBySymbol map[string][]providers.Bar, warmup int, sigmaK float64) ([]float64, []string) {
	type tally struct{ buys, sells int }
	byDate := map[string]*tally{}

	// Deterministic iteration: aggregation is commutative per date, but a
	// sorted walk keeps logs and any future tie-breaks stable.
	symbols := make([]string, 0, len(barsBySymbol))
	for s := range barsBySymbol {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)

	for _, symbol := range symbols {
		bars := barsBySymbol[symbol]
		volumes := make([]float64, len(bars))
		for i, b := range bars {
			volumes[i] = b.Volume
		}
		for i := warmup; i < len(bars); i++ {
			// Every post-warmup trading day gets a ratio, signal or not.
			t := byDate[bars[i].Date]
			if t == nil {
				t = &tally{}
				byDate[bars[i].Date] = t
			}
			window := volumes[i-warmup : i]
			threshold := indicators.SMA(window, warmup) + sigmaK*indicators.StdDev(window, warmup)
			if bars[i].Volume <= threshold || bars[i].Close == bars[i].Open {
				continue
			}
			if bars[i].Close > bars[i].Open {
				t.buys++
			} else {
				t.sells++
			}
		}
	}

	dates := make([]string, 0, len(byDate))
	for date := range byDate {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	ratios := make([]float64, len(dates))
	for i, date := range dates {
		t := byDate[date]
		total := t.buys + t.sells
		if total == 0 {
			ratios[i] = 50
			continue
		}
		ratios[i] = float64(t.buys) / float64(total) * 100
	}
	return ratios, dates
}

func classifyBMI(value, green, red float64) string {
	switch {
	case value <= green:
		return "aggressive_long"
	case value >= red:
		return "short_favoring"
	default:
		return "neutral_long"
	}
}

func topByMarketCap(tickers []providers.TickerInfo, n int) []providers.TickerInfo {
	sorted := append([]providers.TickerInfo{}, tickers...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].MarketCap != sorted[j].MarketCap {
			return sorted[i].MarketCap > sorted[j].MarketCap
		}
		return sorted[i].Symbol < sorted[j].Symbol
	})
	if n > 0 && len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func closes(bars []providers.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
