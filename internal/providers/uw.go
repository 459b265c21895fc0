package providers

import (
	"context"
	"fmt"
	"sort"

	"github.com/alphaledger/signalrun/internal/net/httpx"
)

// UW is the primary options-flow provider: exposure by strike and
// dark-pool activity. Both capabilities sit behind fallback adapters; see
// fallback.go.
type UW struct {
	http *httpx.Client
}

func NewUW(http *httpx.Client) *UW {
	return &UW{http: http}
}

func (u *UW) Name() string { return "uw" }

type uwExposure struct {
	Data []struct {
		Strike float64 `json:"strike"`
		Net    float64 `json:"net_exposure"`
	} `json:"data"`
}

// ExposureByStrike returns the provider's net exposure per strike,
// sorted ascending by strike.
func (u *UW) ExposureByStrike(ctx context.Context, symbol string) ([]StrikeExposure, bool) {
	var resp uwExposure
	path := fmt.Sprintf("/api/stock/%s/exposure/strike", symbol)
	if !u.http.GetJSON(ctx, path, nil, &resp) {
		return nil, false
	}

	out := make([]StrikeExposure, 0, len(resp.Data))
	for _, d := range resp.Data {
		out = append(out, StrikeExposure{Strike: d.Strike, Net: d.Net})
	}
	sortExposures(out)
	return out, true
}

type uwDarkPool struct {
	Data struct {
		ParticipationPct float64 `json:"participation_pct"`
		BlockTrades      int     `json:"block_trades"`
		BuyPressure      float64 `json:"buy_pressure"`
		VWAP             float64 `json:"vwap"`
		PutCallRatio     float64 `json:"put_call_ratio"`
		OTMRatio         float64 `json:"otm_ratio"`
		RelativeVolume   float64 `json:"relative_volume"`
	} `json:"data"`
}

// Activity returns the dark-pool and flow snapshot for one symbol.
func (u *UW) Activity(ctx context.Context, symbol string) (FlowActivity, bool) {
	var resp uwDarkPool
	path := fmt.Sprintf("/api/darkpool/%s", symbol)
	if !u.http.GetJSON(ctx, path, nil, &resp) {
		return FlowActivity{}, false
	}
	return FlowActivity{
		Symbol:           symbol,
		ParticipationPct: resp.Data.ParticipationPct,
		BlockTrades:      resp.Data.BlockTrades,
		BuyPressure:      resp.Data.BuyPressure,
		VWAP:             resp.Data.VWAP,
		PutCallRatio:     resp.Data.PutCallRatio,
		OTMRatio:         resp.Data.OTMRatio,
		RelativeVolume:   resp.Data.RelativeVolume,
	}, true
}

// Canary is the cheap Phase 0 health probe.
func (u *UW) Canary(ctx context.Context) bool {
	_, ok := u.http.Get(ctx, "/api/market/status", nil)
	return ok
}

func sortExposures(exposures []StrikeExposure) {
	sort.Slice(exposures, func(i, j int) bool {
		return exposures[i].Strike < exposures[j].Strike
	})
}
