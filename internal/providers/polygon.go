package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alphaledger/signalrun/internal/cache"
	"github.com/alphaledger/signalrun/internal/net/httpx"
)

// Polygon serves daily bars for every symbol in the run, plus an
// options-snapshot approximation of exposure-by-strike used as the
// fallback behind the primary options provider.
type Polygon struct {
	http  *httpx.Client
	cache cache.Store
}

func NewPolygon(http *httpx.Client, store cache.Store) *Polygon {
	return &Polygon{http: http, cache: store}
}

func (p *Polygon) Name() string { return "polygon" }

type polygonAggs struct {
	Results []struct {
		T int64   `json:"t"` // epoch millis
		O float64 `json:"o"`
		H float64 `json:"h"`
		L float64 `json:"l"`
		C float64 `json:"c"`
		V float64 `json:"v"`
	} `json:"results"`
}

// Bars fetches daily bars for symbol over [from, to], both ISO dates.
// Results are cached keyed by the last completed day of the range, so a
// window ending today is served from cache on same-day re-runs and
// refetched by the next session.
func (p *Polygon) Bars(ctx context.Context, symbol, from, to string) ([]Bar, bool) {
	key := cache.Key{Provider: "polygon", Endpoint: "bars-" + from, Date: finalizedDate(to), Symbol: symbol}
	if data, ok := p.cache.Get(ctx, key); ok {
		var bars []Bar
		if err := json.Unmarshal(data, &bars); err == nil {
			return bars, true
		}
	}

	path := fmt.Sprintf("/v2/aggs/ticker/%s/range/1/day/%s/%s", symbol, from, to)
	query := url.Values{"adjusted": {"true"}, "sort": {"asc"}, "limit": {"5000"}}

	var resp polygonAggs
	if !p.http.GetJSON(ctx, path, query, &resp) {
		return nil, false
	}

	bars := make([]Bar, 0, len(resp.Results))
	for _, r := range resp.Results {
		bars = append(bars, Bar{
			Date:   time.UnixMilli(r.T).UTC().Format("2006-01-02"),
			Open:   r.O,
			High:   r.H,
			Low:    r.L,
			Close:  r.C,
			Volume: r.V,
		})
	}

	if data, err := json.Marshal(bars); err == nil {
		if err := p.cache.Put(ctx, key, data); err != nil {
			log.Warn().Err(err).Str("symbol", symbol).Msg("bar cache write failed")
		}
	}
	return bars, true
}

// Canary is the cheap Phase 0 health probe.
func (p *Polygon) Canary(ctx context.Context) bool {
	_, ok := p.http.Get(ctx, "/v1/marketstatus/now", nil)
	return ok
}

type polygonOptionsSnapshot struct {
	Results []struct {
		Details struct {
			ContractType string  `json:"contract_type"`
			StrikePrice  float64 `json:"strike_price"`
		} `json:"details"`
		OpenInterest float64 `json:"open_interest"`
		Greeks       struct {
			Gamma float64 `json:"gamma"`
		} `json:"greeks"`
	} `json:"results"`
}

// ExposureByStrike approximates net exposure per strike from the options
// chain snapshot: gamma times open interest times contract size, calls
// positive, puts negative. Coarser than the primary provider's figure but
// good enough to locate walls and the zero-crossing.
func (p *Polygon) ExposureByStrike(ctx context.Context, symbol string) ([]StrikeExposure, bool) {
	var resp polygonOptionsSnapshot
	path := fmt.Sprintf("/v3/snapshot/options/%s", symbol)
	if !p.http.GetJSON(ctx, path, url.Values{"limit": {"250"}}, &resp) {
		return nil, false
	}

	byStrike := map[float64]float64{}
	for _, r := range resp.Results {
		net := r.Greeks.Gamma * r.OpenInterest * 100
		if r.Details.ContractType == "put" {
			net = -net
		}
		byStrike[r.Details.StrikePrice] += net
	}

	out := make([]StrikeExposure, 0, len(byStrike))
	for strike, net := range byStrike {
		out = append(out, StrikeExposure{Strike: strike, Net: net})
	}
	sortExposures(out)
	return out, true
}
