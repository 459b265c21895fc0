package providers

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/alphaledger/signalrun/internal/cache"
	"github.com/alphaledger/signalrun/internal/net/httpx"
)

// SeriesVIX and SeriesYield10Y are the two macro series Phase 0 reads.
const (
	SeriesVIX      = "VIXCLS"
	SeriesYield10Y = "DGS10"
)

// Fred serves macro series observations. Auth is a query parameter.
type Fred struct {
	http   *httpx.Client
	apiKey string
	cache  cache.Store
}

func NewFred(http *httpx.Client, apiKey string, store cache.Store) *Fred {
	return &Fred{http: http, apiKey: apiKey, cache: store}
}

func (f *Fred) Name() string { return "fred" }

type fredObservations struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

// Series returns the numeric observations for a series over [from, to],
// oldest first. FRED encodes missing values as "."; those are skipped.
// Results are cached keyed by the last completed day of the range, same
// as bar windows.
func (f *Fred) Series(ctx context.Context, id, from, to string) ([]float64, bool) {
	key := cache.Key{Provider: "fred", Endpoint: "series-" + from, Date: finalizedDate(to), Symbol: id}
	if data, ok := f.cache.Get(ctx, key); ok {
		var values []float64
		if err := json.Unmarshal(data, &values); err == nil {
			return values, true
		}
	}

	q := url.Values{
		"series_id":         {id},
		"api_key":           {f.apiKey},
		"file_type":         {"json"},
		"sort_order":        {"asc"},
		"observation_start": {from},
		"observation_end":   {to},
	}

	var resp fredObservations
	if !f.http.GetJSON(ctx, "/fred/series/observations", q, &resp) {
		return nil, false
	}

	values := make([]float64, 0, len(resp.Observations))
	for _, obs := range resp.Observations {
		if obs.Value == "." {
			continue
		}
		v, err := strconv.ParseFloat(obs.Value, 64)
		if err != nil {
			log.Warn().Str("series", id).Str("date", obs.Date).Str("value", obs.Value).
				Msg("unparseable series observation skipped")
			continue
		}
		values = append(values, v)
	}

	if data, err := json.Marshal(values); err == nil {
		if err := f.cache.Put(ctx, key, data); err != nil {
			log.Warn().Err(err).Str("series", id).Msg("series cache write failed")
		}
	}
	return values, true
}

// Canary is the cheap Phase 0 health probe.
func (f *Fred) Canary(ctx context.Context) bool {
	q := url.Values{
		"series_id": {SeriesVIX},
		"api_key":   {f.apiKey},
		"file_type": {"json"},
		"limit":     {"1"},
	}
	_, ok := f.http.Get(ctx, "/fred/series/observations", q)
	return ok
}
