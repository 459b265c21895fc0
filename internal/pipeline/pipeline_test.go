package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphaledger/signalrun/internal/config"
	"github.com/alphaledger/signalrun/internal/providers"
	"github.com/alphaledger/signalrun/internal/state"
)

func testDeps(t *testing.T) Deps {
	t.Helper()
	cfg := config.Default()
	cfg.Runtime.AccountEquity = 100000
	st, err := state.Open(t.TempDir())
	require.NoError(t, err)
	return Deps{Cfg: cfg, State: st}
}

func TestVIXMultiplier_ReferenceScenario(t *testing.T) {
	// start=20, rate=0.02, floor=0.25: VIX 25 decays to exactly 0.90.
	assert.InDelta(t, 0.90, vixMultiplier(25, 20, 0.02, 0.25, 40, 0.20), 1e-12)
}

func TestVIXMultiplier_CalmMarketExceedsOne(t *testing.T) {
	// Below the start threshold the linear formula sizes up: VIX 12 with
	// start 20 and rate 0.02 gives 1 + 8*0.02 = 1.16.
	assert.InDelta(t, 1.16, vixMultiplier(12, 20, 0.02, 0.25, 40, 0.20), 1e-12)
}

func TestVIXMultiplier_FloorAndExtreme(t *testing.T) {
	assert.Equal(t, 0.25, vixMultiplier(58, 20, 0.02, 0.25, 60, 0.20), "deep decay hits the floor")
	assert.Equal(t, 0.20, vixMultiplier(45, 20, 0.02, 0.25, 40, 0.20), "extreme override is flat")
}

func TestVIXBands(t *testing.T) {
	cases := map[float64]string{
		12: "calm", 17: "normal", 25: "elevated", 35: "high", 45: "extreme",
	}
	for vix, want := range cases {
		assert.Equal(t, want, vixBand(vix), "vix %.0f", vix)
	}
}

func TestDailyBuyRatios_VolumeSpikeSignal(t *testing.T) {
	// 20 warm-up days at volume 1000 with sigma 100 (alternating 900/1100),
	// then a day at 1300 closing up: threshold 1000+2*100=1200 < 1300 -> buy.
	bars := make([]providers.Bar, 0, 21)
	for i := 0; i < 20; i++ {
		vol := 900.0
		if i%2 == 1 {
			vol = 1100
		}
		bars = append(bars, providers.Bar{
			Date: dateN(i), Open: 10, High: 11, Low: 9, Close: 10, Volume: vol,
		})
	}
	bars = append(bars, providers.Bar{
		Date: dateN(20), Open: 10, High: 12, Low: 10, Close: 11.5, Volume: 1300,
	})

	ratios, dates := dailyBuyRatios(map[string][]providers.Bar{"TICK": bars}, 20, 2.0)
	require.Len(t, dates, 1)
	assert.Equal(t, []float64{100}, ratios, "single buy signal gives ratio 100")
}

func TestDailyBuyRatios_NoSignalIsNeutral(t *testing.T) {
	bars := make([]providers.Bar, 0, 21)
	for i := 0; i < 21; i++ {
		bars = append(bars, providers.Bar{
			Date: dateN(i), Open: 10, High: 11, Low: 9, Close: 10.1, Volume: 1000,
		})
	}
	ratios, _ := dailyBuyRatios(map[string][]providers.Bar{"TICK": bars}, 20, 2.0)
	require.Len(t, ratios, 1)
	assert.Equal(t, 50.0, ratios[0], "no signal days score the neutral 50")
}

func TestClassifyBMI_Monotonic(t *testing.T) {
	prev := "aggressive_long"
	order := map[string]int{"aggressive_long": 0, "neutral_long": 1, "short_favoring": 2}
	for v := 0.0; v <= 100; v += 0.5 {
		got := classifyBMI(v, 25, 80)
		assert.GreaterOrEqual(t, order[got], order[prev],
			"classification must never move back toward aggressive_long as the index rises (at %v)", v)
		prev = got
	}
	assert.Equal(t, "aggressive_long", classifyBMI(25, 25, 80))
	assert.Equal(t, "neutral_long", classifyBMI(25.5, 25, 80))
	assert.Equal(t, "short_favoring", classifyBMI(80, 25, 80))
}

func TestVetoMatrix_AllNineCells(t *testing.T) {
	d := testDeps(t)

	cases := []struct {
		classification string
		regime         string
		vetoed         bool
		adjustment     float64
	}{
		{"leader", "oversold", false, 10},
		{"leader", "neutral", false, 10},
		{"leader", "overbought", false, 10},
		{"neutral", "oversold", false, 0},
		{"neutral", "neutral", false, 0},
		{"neutral", "overbought", true, 0},
		{"laggard", "oversold", false, -3},
		{"laggard", "neutral", true, 0},
		{"laggard", "overbought", true, 0},
	}
	for _, tc := range cases {
		s := &SectorScore{Sector: "technology", Classification: tc.classification, Regime: tc.regime}
		d.applyVeto(s, ModeLong)
		assert.Equal(t, tc.vetoed, s.Vetoed, "%s + %s veto", tc.classification, tc.regime)
		if !tc.vetoed {
			assert.Equal(t, tc.adjustment, s.Adjustment, "%s + %s adjustment", tc.classification, tc.regime)
		}
	}
}

func TestSectorRegime_InjectedSourceOverridesDerivation(t *testing.T) {
	d := testDeps(t)

	// Default derivation against the +-5 thresholds.
	assert.Equal(t, "oversold", d.sectorRegime("technology", -6))
	assert.Equal(t, "neutral", d.sectorRegime("technology", 0))
	assert.Equal(t, "overbought", d.sectorRegime("technology", 6))

	d.SectorRegime = func(sector string, momentum float64) string { return "overbought" }
	assert.Equal(t, "overbought", d.sectorRegime("technology", -6),
		"an injected regime source replaces the momentum derivation")
}

func TestVetoMatrix_ShortModeNeverVetoes(t *testing.T) {
	d := testDeps(t)

	s := &SectorScore{Sector: "energy", Classification: "laggard", Regime: "overbought"}
	d.applyVeto(s, ModeShort)
	assert.False(t, s.Vetoed)
	assert.Equal(t, -d.Cfg.Tuning.Sectors.LaggardPenalty, s.Adjustment)
}

func TestVetoMatrix_BenchmarkNeverVetoes(t *testing.T) {
	d := testDeps(t)

	s := &SectorScore{Sector: "bonds", Classification: "neutral", Regime: "overbought", Benchmark: true}
	d.applyVeto(s, ModeLong)
	assert.False(t, s.Vetoed)
}

func TestLongScreen_FloorsAndActiveTrading(t *testing.T) {
	d := testDeps(t)

	good := providers.TickerInfo{Symbol: "NVDA", MarketCap: 3e9, Price: 50, AvgVolume: 2e6, ActivelyTraded: true}
	assert.Empty(t, d.longScreenReason(good))

	cases := map[string]providers.TickerInfo{
		"not_actively_traded": {MarketCap: 3e9, Price: 50, AvgVolume: 2e6},
		"market_cap_floor":    {MarketCap: 1e9, Price: 50, AvgVolume: 2e6, ActivelyTraded: true},
		"price_floor":         {MarketCap: 3e9, Price: 2, AvgVolume: 2e6, ActivelyTraded: true},
		"volume_floor":        {MarketCap: 3e9, Price: 50, AvgVolume: 1e5, ActivelyTraded: true},
	}
	for want, ticker := range cases {
		assert.Equal(t, want, d.longScreenReason(ticker))
	}
}

func TestShortScreen_RequiresAllZombieCriteria(t *testing.T) {
	d := testDeps(t)

	zombie := providers.TickerInfo{MarketCap: 1e9, DebtEquity: 3, NetMargin: -10, InterestCoverage: 0.5}
	assert.Empty(t, d.shortScreenReason(zombie))

	// Any single healthy metric disqualifies the short candidate.
	healthy := zombie
	healthy.DebtEquity = 1
	assert.Equal(t, "not_zombie_leverage", d.shortScreenReason(healthy))

	healthy = zombie
	healthy.NetMargin = 5
	assert.Equal(t, "not_zombie_margin", d.shortScreenReason(healthy))

	healthy = zombie
	healthy.InterestCoverage = 3
	assert.Equal(t, "not_zombie_coverage", d.shortScreenReason(healthy))
}

func TestZeroCrossing_StrictlyInterior(t *testing.T) {
	exposures := []providers.StrikeExposure{
		{Strike: 100, Net: 5000},
		{Strike: 110, Net: -3000},
	}
	x := zeroCrossing(exposures)
	assert.Greater(t, x, 100.0, "crossing must not snap to the lower strike")
	assert.Less(t, x, 110.0, "crossing must not snap to the upper strike")
}

func TestZeroCrossing_NoneFound(t *testing.T) {
	exposures := []providers.StrikeExposure{
		{Strike: 100, Net: 5000},
		{Strike: 110, Net: 3000},
	}
	assert.Equal(t, 0.0, zeroCrossing(exposures), "same-sign profile reports unknown")
}

func TestClassifyVolRegime(t *testing.T) {
	exposures := []providers.StrikeExposure{
		{Strike: 100, Net: 5000},
		{Strike: 110, Net: -3000},
	}
	// Crossing at 104: above with positive net -> suppressive.
	v := classifyVolRegime("TICK", 108, exposures, true, 2.0, 1.0, 0.75, 0.5)
	assert.Equal(t, "suppressive", v.Regime)
	assert.Equal(t, 1.0, v.Multiplier)
	assert.Equal(t, 100.0, v.UpperWall)
	assert.Equal(t, 110.0, v.LowerWall)

	// Below the crossing -> destabilizing.
	v = classifyVolRegime("TICK", 95, exposures, true, 2.0, 1.0, 0.75, 0.5)
	assert.Equal(t, "destabilizing", v.Regime)
	assert.Equal(t, 0.5, v.Multiplier)

	// Within the 2% band -> transitional.
	v = classifyVolRegime("TICK", 104.5, exposures, true, 2.0, 1.0, 0.75, 0.5)
	assert.Equal(t, "transitional", v.Regime)
	assert.Equal(t, 0.75, v.Multiplier)
}

func TestClassifyVolRegime_MissingDataDefaultsSuppressive(t *testing.T) {
	v := classifyVolRegime("TICK", 100, nil, false, 2.0, 1.0, 0.75, 0.5)
	assert.Equal(t, "suppressive", v.Regime)
	assert.True(t, v.DataMissing)
	assert.False(t, v.Excluded, "missing data is not an exclusion")
}

func TestSplitLegs_SumsToTotal(t *testing.T) {
	d := testDeps(t)

	pos := Position{Quantity: 100}
	d.splitLegs(&pos)
	assert.Equal(t, 33, pos.QuantityLeg1)
	assert.Equal(t, 67, pos.QuantityLeg2)

	for _, qty := range []int{1, 7, 99, 250} {
		pos := Position{Quantity: qty}
		d.splitLegs(&pos)
		assert.Equal(t, qty, pos.QuantityLeg1+pos.QuantityLeg2, "legs must sum for qty %d", qty)
	}
}

func TestMultipliers_ClampedProduct(t *testing.T) {
	d := testDeps(t)

	a := &StockAnalysis{
		Flow:          90,
		Fundamental:   90,
		OriginalScore: 88,
		Ticker:        providers.TickerInfo{InsiderBuyRatio: 3},
	}
	vol := &VolRegime{Multiplier: 1.0}
	macro := MacroRegime{Multiplier: 1.0}

	m := d.multipliers(a, vol, macro)
	// 1.2*1.2*1.2*1.0*1.0*1.25 = 2.16, clamped to 2.0.
	assert.Equal(t, 2.0, m.Combined)

	weak := &StockAnalysis{Flow: 20, Fundamental: 20, OriginalScore: 60}
	m = d.multipliers(weak, &VolRegime{Multiplier: 0.5}, MacroRegime{Multiplier: 0.25})
	// 0.8*1.0*0.8*0.5*0.25 = 0.08, clamped up to 0.25.
	assert.Equal(t, 0.25, m.Combined)
}

func TestApplyLimits_StrictPriorityOrder(t *testing.T) {
	d := testDeps(t)
	d.Cfg.Tuning.Sizing.MaxPositions = 4
	d.Cfg.Tuning.Sizing.MaxPerSector = 1
	d.Cfg.Tuning.Sizing.MaxAggregateNotional = 70000
	d.Cfg.Tuning.Sizing.MaxTickerNotional = 30000
	d.Cfg.Tuning.Sizing.MaxPositionRiskPct = 2.0 // 2000 on 100k equity

	mk := func(sym, sector string, qty int, entry, risk float64) Position {
		return Position{Symbol: sym, Sector: sector, Quantity: qty, Entry: entry, RiskUSD: risk}
	}

	candidates := []Position{
		mk("AAA", "tech", 100, 200, 1500),      // 20000 notional, kept
		mk("BBB", "tech", 50, 100, 1000),       // sector cap, dropped
		mk("CCC", "energy", 10, 100, 5000),     // risk cap, dropped
		mk("DDD", "energy", 400, 100, 1500),    // 40000 notional -> reduced to qty 300
		mk("EEE", "health", 100, 50, 500),      // 5000 notional, kept
		mk("GGG", "utilities", 400, 100, 1000), // 40000 pushes aggregate past 70000, dropped
		mk("HHH", "finance", 10, 100, 100),     // 1000 notional, kept (4th slot)
		mk("III", "materials", 10, 100, 100),   // portfolio cap, dropped
	}

	kept := d.applyLimits(candidates)
	require.Len(t, kept, 4)
	assert.Equal(t, []string{"AAA", "DDD", "EEE", "HHH"},
		[]string{kept[0].Symbol, kept[1].Symbol, kept[2].Symbol, kept[3].Symbol})
	assert.Equal(t, 300, kept[1].Quantity, "ticker notional cap reduces, not drops")
	assert.Equal(t, 300, kept[1].QuantityLeg1+kept[1].QuantityLeg2)
}

func TestSizeOne_GuardsInvalidInputs(t *testing.T) {
	d := testDeps(t)
	run := &RunContext{Mode: ModeLong, Date: "2026-03-02", Cfg: d.Cfg, Macro: MacroRegime{Multiplier: 1}}

	a := &StockAnalysis{
		Ticker: providers.TickerInfo{Symbol: "TICK", Sector: "tech"},
		Bars:   flatBars(30, 0), // zero prices
	}
	_, reason := d.sizeOne(run, a, &VolRegime{Multiplier: 1})
	assert.Equal(t, "invalid_price_or_atr", reason)
}

func TestSizeOne_QuantityAndBracket(t *testing.T) {
	d := testDeps(t)
	run := &RunContext{Mode: ModeLong, Date: "2026-03-02", Cfg: d.Cfg, Macro: MacroRegime{Multiplier: 1}}

	// Flat 100-close bars with range 2: ATR=2, stop distance 3.
	a := &StockAnalysis{
		Ticker:        providers.TickerInfo{Symbol: "TICK", Sector: "tech"},
		Flow:          50,
		Fundamental:   50,
		OriginalScore: 60,
		Bars:          flatBars(30, 100),
	}
	pos, reason := d.sizeOne(run, a, &VolRegime{Regime: "suppressive", Multiplier: 1})
	require.Empty(t, reason)

	// Base risk 1000, all multipliers 1.0, stop distance 3: qty 333.
	assert.Equal(t, 333, pos.Quantity)
	assert.Equal(t, 100.0, pos.Entry)
	assert.Equal(t, 97.0, pos.Stop)
	assert.Equal(t, 104.0, pos.Target1)
	assert.Equal(t, 107.0, pos.Target2)
	assert.True(t, pos.Fresh, "no prior signal history means fresh")
	assert.InDelta(t, pos.OriginalScore*1.10, pos.Score, 1e-9)
}

func TestBracket_WallSnapWhenMoreConservative(t *testing.T) {
	d := testDeps(t)

	pos := Position{Direction: ModeLong, Entry: 100}
	d.bracket(&pos, 2, &VolRegime{UpperWall: 102.5})
	assert.Equal(t, 102.5, pos.Target1, "wall inside the ATR target is more conservative")

	pos = Position{Direction: ModeLong, Entry: 100}
	d.bracket(&pos, 2, &VolRegime{UpperWall: 120})
	assert.Equal(t, 104.0, pos.Target1, "distant wall leaves the ATR target alone")
}

func dateN(i int) string {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i).Format("2006-01-02")
}

func flatBars(n int, price float64) []providers.Bar {
	bars := make([]providers.Bar, n)
	for i := range bars {
		bars[i] = providers.Bar{
			Date:   dateN(i),
			Open:   price,
			High:   price + 1,
			Low:    price - 1,
			Close:  price,
			Volume: 1000,
		}
	}
	return bars
}
