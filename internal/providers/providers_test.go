package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphaledger/signalrun/internal/cache"
	"github.com/alphaledger/signalrun/internal/net/circuit"
	"github.com/alphaledger/signalrun/internal/net/httpx"
	"github.com/alphaledger/signalrun/internal/net/ratelimit"
)

func testClient(t *testing.T, name, baseURL string) *httpx.Client {
	t.Helper()
	return httpx.NewClient(httpx.Config{
		Provider:    name,
		BaseURL:     baseURL,
		Timeout:     time.Second,
		MaxAttempts: 1,
	}, circuit.NewBreaker(circuit.Config{Provider: name}), ratelimit.NewLimiter(1000, 10, 4))
}

func TestPolygonBars_ParsesAndCaches(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, "/v2/aggs/ticker/NVDA/range/1/day/2026-01-02/2026-01-30", r.URL.Path)
		w.Write([]byte(`{"results":[
			{"t":1767312000000,"o":100,"h":105,"l":99,"c":104,"v":1200000},
			{"t":1767398400000,"o":104,"h":106,"l":103,"c":105,"v":900000}
		]}`))
	}))
	defer srv.Close()

	p := NewPolygon(testClient(t, "polygon", srv.URL), cache.NewFileCache(t.TempDir()))

	bars, ok := p.Bars(context.Background(), "NVDA", "2026-01-02", "2026-01-30")
	require.True(t, ok)
	require.Len(t, bars, 2)
	assert.Equal(t, "2026-01-02", bars[0].Date)
	assert.Equal(t, 104.0, bars[0].Close)
	assert.Equal(t, 1200000.0, bars[0].Volume)

	// Second fetch of the same historical window is served from cache.
	bars2, ok := p.Bars(context.Background(), "NVDA", "2026-01-02", "2026-01-30")
	require.True(t, ok)
	assert.Equal(t, bars, bars2)
	assert.Equal(t, 1, calls)
}

func TestFinalizedDate(t *testing.T) {
	past := time.Now().UTC().AddDate(0, 0, -10).Format("2006-01-02")
	assert.Equal(t, past, finalizedDate(past), "settled dates key as themselves")

	today := time.Now().UTC().Format("2006-01-02")
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	assert.Equal(t, yesterday, finalizedDate(today), "today keys by the last completed day")
}

func TestPolygonBars_WindowEndingTodayServedFromCacheOnRerun(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(`{"results":[{"t":1767312000000,"o":100,"h":105,"l":99,"c":104,"v":1200000}]}`))
	}))
	defer srv.Close()

	p := NewPolygon(testClient(t, "polygon", srv.URL), cache.NewFileCache(t.TempDir()))

	from := time.Now().UTC().AddDate(0, 0, -30).Format("2006-01-02")
	to := time.Now().UTC().Format("2006-01-02")

	bars, ok := p.Bars(context.Background(), "NVDA", from, to)
	require.True(t, ok)
	require.Len(t, bars, 1)

	bars2, ok := p.Bars(context.Background(), "NVDA", from, to)
	require.True(t, ok)
	assert.Equal(t, bars, bars2)
	assert.Equal(t, 1, calls, "live windows must still hit the cache on a same-day re-run")
}

func TestPolygonExposure_NetsCallsAgainstPuts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"results":[
			{"details":{"contract_type":"call","strike_price":100},"open_interest":500,"greeks":{"gamma":0.02}},
			{"details":{"contract_type":"put","strike_price":100},"open_interest":300,"greeks":{"gamma":0.02}},
			{"details":{"contract_type":"call","strike_price":110},"open_interest":200,"greeks":{"gamma":0.01}}
		]}`))
	}))
	defer srv.Close()

	p := NewPolygon(testClient(t, "polygon", srv.URL), cache.NewFileCache(t.TempDir()))

	exposures, ok := p.ExposureByStrike(context.Background(), "NVDA")
	require.True(t, ok)
	require.Len(t, exposures, 2)
	assert.Equal(t, 100.0, exposures[0].Strike)
	assert.InDelta(t, 0.02*500*100-0.02*300*100, exposures[0].Net, 1e-9)
	assert.Equal(t, 110.0, exposures[1].Strike)
	assert.InDelta(t, 0.01*200*100, exposures[1].Net, 1e-9)
}

func TestFredSeries_SkipsMissingObservations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "VIXCLS", r.URL.Query().Get("series_id"))
		w.Write([]byte(`{"observations":[
			{"date":"2026-01-02","value":"17.44"},
			{"date":"2026-01-03","value":"."},
			{"date":"2026-01-05","value":"18.10"}
		]}`))
	}))
	defer srv.Close()

	f := NewFred(testClient(t, "fred", srv.URL), "key", cache.NewFileCache(t.TempDir()))

	values, ok := f.Series(context.Background(), SeriesVIX, "2026-01-01", "2026-01-05")
	require.True(t, ok)
	assert.Equal(t, []float64{17.44, 18.10}, values)
}

func TestFMPScreener_MapsRows(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.URL.Query().Get("apikey"))
		w.Write([]byte(`[{"symbol":"NVDA","sector":"technology","marketCap":2e12,
			"price":500,"volAvg":30000000,"isActivelyTrading":true,
			"debtToEquity":0.4,"netProfitMargin":32.5,"interestCoverage":40,
			"revenueGrowth":0.6,"returnOnEquity":0.45}]`))
	}))
	defer srv.Close()

	f := NewFMP(testClient(t, "fmp", srv.URL), "key")

	rows, ok := f.Screener(context.Background())
	require.True(t, ok)
	require.Len(t, rows, 1)
	assert.Equal(t, "NVDA", rows[0].Symbol)
	assert.Equal(t, "technology", rows[0].Sector)
	assert.True(t, rows[0].ActivelyTraded)
	assert.Equal(t, 32.5, rows[0].NetMargin)
}

type stubExposure struct {
	name      string
	exposures []StrikeExposure
	ok        bool
	calls     int
}

func (s *stubExposure) Name() string { return s.name }
func (s *stubExposure) ExposureByStrike(ctx context.Context, symbol string) ([]StrikeExposure, bool) {
	s.calls++
	return s.exposures, s.ok
}

func TestFallbackExposure_PrimaryWins(t *testing.T) {
	primary := &stubExposure{name: "uw", exposures: []StrikeExposure{{Strike: 100, Net: 5}}, ok: true}
	secondary := &stubExposure{name: "polygon", ok: true}
	fb := NewFallbackExposure(primary, secondary, nil)

	exposures, ok := fb.ExposureByStrike(context.Background(), "NVDA")
	require.True(t, ok)
	assert.Equal(t, primary.exposures, exposures)
	assert.Zero(t, secondary.calls, "secondary untouched while primary serves")
}

func TestFallbackExposure_SecondaryOnPrimaryFailure(t *testing.T) {
	primary := &stubExposure{name: "uw", ok: false}
	secondary := &stubExposure{name: "polygon", exposures: []StrikeExposure{{Strike: 90, Net: -3}}, ok: true}
	fb := NewFallbackExposure(primary, secondary, nil)

	exposures, ok := fb.ExposureByStrike(context.Background(), "NVDA")
	require.True(t, ok)
	assert.Equal(t, secondary.exposures, exposures)
	assert.Equal(t, 1, secondary.calls)
}

type stubFlow struct {
	activity FlowActivity
	ok       bool
}

func (s *stubFlow) Name() string { return "uw" }
func (s *stubFlow) Activity(ctx context.Context, symbol string) (FlowActivity, bool) {
	return s.activity, s.ok
}

func TestFallbackFlow_NoSecondary(t *testing.T) {
	fb := NewFallbackFlow(&stubFlow{ok: false}, nil)

	activity, ok := fb.Activity(context.Background(), "NVDA")
	assert.False(t, ok, "dark pool has no secondary source")
	assert.Zero(t, activity.ParticipationPct)
}
