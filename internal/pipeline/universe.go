package pipeline

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/alphaledger/signalrun/internal/journal"
	"github.com/alphaledger/signalrun/internal/metrics"
	"github.com/alphaledger/signalrun/internal/providers"
)

// Universe is Phase 2: screens the full ticker snapshot into the run's
// tradeable universe for the decided mode, then removes names with
// earnings inside the exclusion window. A failed calendar fetch fails
// open: binary-event risk is accepted over an empty universe.
func (d Deps) Universe(ctx context.Context, mode Mode, screener []providers.TickerInfo) []providers.TickerInfo {
	var kept []providers.TickerInfo
	for _, t := range screener {
		var reason string
		if mode == ModeShort {
			reason = d.shortScreenReason(t)
		} else {
			reason = d.longScreenReason(t)
		}
		if reason != "" {
			metrics.Exclusions.WithLabelValues("universe", reason).Inc()
			continue
		}
		kept = append(kept, t)
	}

	kept = d.excludeEarnings(ctx, kept, d.Cfg.Tuning.Universe.EarningsExclusionDays)

	d.emit("universe_built", journal.SevInfo, journal.WithPhase("universe"),
		journal.WithData(map[string]any{
			"mode": string(mode), "screened": len(screener), "kept": len(kept),
		}))
	return kept
}

func (d Deps) longScreenReason(t providers.TickerInfo) string {
	cfg := d.Cfg.Tuning.Universe.Long
	switch {
	case !t.ActivelyTraded:
		return "not_actively_traded"
	case t.MarketCap < cfg.MinMarketCap:
		return "market_cap_floor"
	case t.Price < cfg.MinPrice:
		return "price_floor"
	case t.AvgVolume < cfg.MinAvgVolume:
		return "volume_floor"
	default:
		return ""
	}
}

// shortScreenReason requires all three zombie criteria: excess leverage,
// negative margin, and thin interest coverage.
func (d Deps) shortScreenReason(t providers.TickerInfo) string {
	cfg := d.Cfg.Tuning.Universe.Short
	switch {
	case t.MarketCap < cfg.MinMarketCap:
		return "market_cap_floor"
	case t.DebtEquity <= cfg.DebtEquityAbove:
		return "not_zombie_leverage"
	case t.NetMargin >= cfg.NetMarginBelow:
		return "not_zombie_margin"
	case t.InterestCoverage >= cfg.InterestCoverBelow:
		return "not_zombie_coverage"
	default:
		return ""
	}
}

func (d Deps) excludeEarnings(ctx context.Context, tickers []providers.TickerInfo, windowDays int) []providers.TickerInfo {
	if windowDays <= 0 || len(tickers) == 0 {
		return tickers
	}
	from := d.now().UTC().Format("2006-01-02")
	to := d.now().UTC().AddDate(0, 0, windowDays).Format("2006-01-02")

	events, ok := d.Providers.FMP.EarningsCalendar(ctx, from, to)
	if !ok {
		log.Warn().Msg("earnings calendar unavailable, failing open (no earnings exclusions)")
		d.emit("earnings_fail_open", journal.SevWarning, journal.WithPhase("universe"))
		return tickers
	}

	upcoming := make(map[string]string, len(events))
	for _, e := range events {
		upcoming[e.Symbol] = e.Date
	}

	kept := tickers[:0]
	for _, t := range tickers {
		if date, has := upcoming[t.Symbol]; has {
			metrics.Exclusions.WithLabelValues("universe", "earnings_window").Inc()
			d.emit("ticker_excluded", journal.SevInfo, journal.WithPhase("universe"),
				journal.WithTicker(t.Symbol),
				journal.WithData(map[string]any{"reason": "earnings_window", "earnings_date": date}))
			continue
		}
		kept = append(kept, t)
	}
	return kept
}
