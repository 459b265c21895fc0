package providers

import (
	"context"
	"fmt"
	"net/url"

	"github.com/alphaledger/signalrun/internal/net/httpx"
)

// FMP serves the fundamentals screener and the earnings calendar. Auth is
// a query parameter rather than a header, so the key lives here instead
// of in the shared client headers.
type FMP struct {
	http   *httpx.Client
	apiKey string
}

func NewFMP(http *httpx.Client, apiKey string) *FMP {
	return &FMP{http: http, apiKey: apiKey}
}

func (f *FMP) Name() string { return "fmp" }

func (f *FMP) query(extra url.Values) url.Values {
	q := url.Values{"apikey": {f.apiKey}}
	for k, vs := range extra {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return q
}

type fmpScreenerRow struct {
	Symbol             string  `json:"symbol"`
	Sector             string  `json:"sector"`
	MarketCap          float64 `json:"marketCap"`
	Price              float64 `json:"price"`
	VolAvg             float64 `json:"volAvg"`
	IsActivelyTrading  bool    `json:"isActivelyTrading"`
	DebtToEquity       float64 `json:"debtToEquity"`
	NetProfitMargin    float64 `json:"netProfitMargin"`
	InterestCoverage   float64 `json:"interestCoverage"`
	RevenueGrowth      float64 `json:"revenueGrowth"`
	ReturnOnEquity     float64 `json:"returnOnEquity"`
	InsiderBuyRatio    float64 `json:"insiderBuyRatio"`
	InstitutionalTrend float64 `json:"institutionalTrend"`
}

// Screener returns the full screener snapshot used to build both
// directional universes. One call serves all screens; the per-direction
// criteria are applied locally.
func (f *FMP) Screener(ctx context.Context) ([]TickerInfo, bool) {
	var rows []fmpScreenerRow
	if !f.http.GetJSON(ctx, "/api/v3/stock-screener", f.query(url.Values{"limit": {"10000"}}), &rows) {
		return nil, false
	}

	out := make([]TickerInfo, 0, len(rows))
	for _, r := range rows {
		out = append(out, TickerInfo{
			Symbol:           r.Symbol,
			Sector:           r.Sector,
			MarketCap:        r.MarketCap,
			Price:            r.Price,
			AvgVolume:        r.VolAvg,
			ActivelyTraded:   r.IsActivelyTrading,
			DebtEquity:       r.DebtToEquity,
			NetMargin:        r.NetProfitMargin,
			InterestCoverage: r.InterestCoverage,
			RevenueGrowth:    r.RevenueGrowth,
			ROE:              r.ReturnOnEquity,
			InsiderBuyRatio:  r.InsiderBuyRatio,
			InstOwnTrend:     r.InstitutionalTrend,
		})
	}
	return out, true
}

type fmpEarningsRow struct {
	Symbol string `json:"symbol"`
	Date   string `json:"date"`
}

// EarningsCalendar returns known earnings events in [from, to]. A failed
// fetch returns ok=false; the universe phase fails open on it.
func (f *FMP) EarningsCalendar(ctx context.Context, from, to string) ([]EarningsEvent, bool) {
	var rows []fmpEarningsRow
	q := f.query(url.Values{"from": {from}, "to": {to}})
	if !f.http.GetJSON(ctx, "/api/v3/earning_calendar", q, &rows) {
		return nil, false
	}

	out := make([]EarningsEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, EarningsEvent{Symbol: r.Symbol, Date: r.Date})
	}
	return out, true
}

// Canary is the cheap Phase 0 health probe.
func (f *FMP) Canary(ctx context.Context) bool {
	_, ok := f.http.Get(ctx, fmt.Sprintf("/api/v3/profile/%s", "AAPL"), f.query(nil))
	return ok
}
