package pipeline

import (
	"math"

	"github.com/alphaledger/signalrun/internal/journal"
	"github.com/alphaledger/signalrun/internal/metrics"
)

// applyLimits enforces the position limits in strict priority order:
// portfolio cap, per-sector cap, per-position risk cap, aggregate
// notional cap (drop), per-ticker notional cap (reduce). Candidates must
// arrive sorted by original score descending.
func (d Deps) applyLimits(candidates []Position) []Position {
	cfg := d.Cfg.Tuning.Sizing
	maxRisk := d.Cfg.Runtime.AccountEquity * cfg.MaxPositionRiskPct / 100

	drop := func(pos Position, reason string) {
		metrics.Exclusions.WithLabelValues("limits", reason).Inc()
		d.emit("position_dropped", journal.SevInfo, journal.WithPhase("sizing"),
			journal.WithTicker(pos.Symbol),
			journal.WithData(map[string]any{"reason": reason}))
	}

	var kept []Position
	perSector := map[string]int{}
	aggregateNotional := 0.0

	for _, pos := range candidates {
		if len(kept) >= cfg.MaxPositions {
			drop(pos, "portfolio_cap")
			continue
		}
		if perSector[pos.Sector] >= cfg.MaxPerSector {
			drop(pos, "sector_cap")
			continue
		}
		if pos.RiskUSD > maxRisk {
			drop(pos, "position_risk_cap")
			continue
		}

		notional := float64(pos.Quantity) * pos.Entry
		if aggregateNotional+notional > cfg.MaxAggregateNotional {
			drop(pos, "aggregate_notional_cap")
			continue
		}

		if notional > cfg.MaxTickerNotional {
			// Reduce, don't drop: trim quantity to the ticker cap.
			reduced := int(math.Floor(cfg.MaxTickerNotional / pos.Entry))
			if reduced <= 0 {
				drop(pos, "ticker_notional_cap")
				continue
			}
			ratio := float64(reduced) / float64(pos.Quantity)
			pos.Quantity = reduced
			pos.RiskUSD *= ratio
			d.splitLegs(&pos)
			notional = float64(pos.Quantity) * pos.Entry
			d.emit("position_reduced", journal.SevInfo, journal.WithPhase("sizing"),
				journal.WithTicker(pos.Symbol),
				journal.WithData(map[string]any{"reason": "ticker_notional_cap", "quantity": pos.Quantity}))
		}

		perSector[pos.Sector]++
		aggregateNotional += notional
		kept = append(kept, pos)
	}
	return kept
}
