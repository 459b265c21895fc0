// Package providers contains the HTTP clients for the four external data
// providers and the fallback adapters that compose same-capability sources.
// All fetch methods report failure as an empty result plus a false flag;
// callers apply their own fallback or default policy.
package providers

import (
	"context"
	"time"

	"github.com/alphaledger/signalrun/internal/journal"
)

// finalizedDate returns the cache date for a range ending at to. A range
// ending today (or later) is keyed by the last completed day: today's
// data is still mutable, but everything through yesterday is settled, so
// a same-day re-run reuses what the first run fetched while the next
// session misses and refetches.
func finalizedDate(to string) string {
	now := time.Now().UTC()
	if to < now.Format("2006-01-02") {
		return to
	}
	return now.AddDate(0, 0, -1).Format("2006-01-02")
}

// Bar is one daily OHLCV bar.
type Bar struct {
	Date   string  `json:"date"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

// TickerInfo is one screener row: identity, liquidity, and the
// fundamentals used by universe screening and stock scoring.
type TickerInfo struct {
	Symbol           string  `json:"symbol"`
	Sector           string  `json:"sector"`
	MarketCap        float64 `json:"market_cap"`
	Price            float64 `json:"price"`
	AvgVolume        float64 `json:"avg_volume"`
	ActivelyTraded   bool    `json:"actively_traded"`
	DebtEquity       float64 `json:"debt_equity"`
	NetMargin        float64 `json:"net_margin"`
	InterestCoverage float64 `json:"interest_coverage"`
	RevenueGrowth    float64 `json:"revenue_growth"`
	ROE              float64 `json:"roe"`
	InsiderBuyRatio  float64 `json:"insider_buy_ratio"`
	InstOwnTrend     float64 `json:"inst_own_trend"`
}

// EarningsEvent marks a known earnings date for a symbol.
type EarningsEvent struct {
	Symbol string `json:"symbol"`
	Date   string `json:"date"`
}

// StrikeExposure is options-derived net exposure at one strike.
type StrikeExposure struct {
	Strike float64 `json:"strike"`
	Net    float64 `json:"net"`
}

// FlowActivity is the dark-pool and options-flow snapshot for one symbol.
type FlowActivity struct {
	Symbol           string  `json:"symbol"`
	ParticipationPct float64 `json:"participation_pct"`
	BlockTrades      int     `json:"block_trades"`
	BuyPressure      float64 `json:"buy_pressure"` // share of volume at/above VWAP
	VWAP             float64 `json:"vwap"`
	PutCallRatio     float64 `json:"put_call_ratio"`
	OTMRatio         float64 `json:"otm_ratio"`
	RelativeVolume   float64 `json:"relative_volume"`
}

// ExposureSource is a provider capable of exposure-by-strike data.
type ExposureSource interface {
	Name() string
	ExposureByStrike(ctx context.Context, symbol string) ([]StrikeExposure, bool)
}

// FlowSource is a provider capable of dark-pool/flow data.
type FlowSource interface {
	Name() string
	Activity(ctx context.Context, symbol string) (FlowActivity, bool)
}

// Auditor receives fallback and provider audit events. The run journal
// satisfies this; tests may pass nil.
type Auditor interface {
	Emit(typ string, sev journal.Severity, opts ...journal.Option)
}
