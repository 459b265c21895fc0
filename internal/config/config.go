// Package config loads the three-layer engine configuration: fixed
// algorithm constants (core), operator-tunable thresholds (tuning), and
// per-environment runtime values (runtime). Environment variables override
// file values; validation failures halt the run before Phase 0.
package config

import "time"

// Config is the merged, validated configuration for one run.
type Config struct {
	Core    CoreConfig
	Tuning  TuningConfig
	Runtime RuntimeConfig
}

// CoreConfig holds algorithm constants. These define the strategy itself
// and are not expected to change between deployments.
type CoreConfig struct {
	BMI struct {
		LookbackDays               int     `yaml:"lookback_days"`
		WarmupSamples              int     `yaml:"warmup_samples"`
		SigmaK                     float64 `yaml:"sigma_k"`
		SmoothingWindow            int     `yaml:"smoothing_window"`
		GreenThreshold             float64 `yaml:"green_threshold"`
		RedThreshold               float64 `yaml:"red_threshold"`
		DivergenceBenchmarkRisePct float64 `yaml:"divergence_benchmark_rise_pct"`
		DivergenceDropPoints       float64 `yaml:"divergence_drop_points"`
		DivergenceWindowDays       int     `yaml:"divergence_window_days"`
		BenchmarkSymbol            string  `yaml:"benchmark_symbol"`
		ScanUniverseSize           int     `yaml:"scan_universe_size"`
	} `yaml:"bmi"`

	Macro struct {
		VIXSaneMin        float64 `yaml:"vix_sane_min"`
		VIXSaneMax        float64 `yaml:"vix_sane_max"`
		VIXDefault        float64 `yaml:"vix_default"`
		MultiplierStart   float64 `yaml:"multiplier_start"`
		MultiplierRate    float64 `yaml:"multiplier_rate"`
		MultiplierFloor   float64 `yaml:"multiplier_floor"`
		ExtremeThreshold  float64 `yaml:"extreme_threshold"`
		ExtremeMultiplier float64 `yaml:"extreme_multiplier"`
		YieldMAWindow     int     `yaml:"yield_ma_window"`
		RateSensExceedPct float64 `yaml:"rate_sens_exceed_pct"`
		VIXFallbackSymbol string  `yaml:"vix_fallback_symbol"`
	} `yaml:"macro"`

	Sectors struct {
		ETFs          map[string]string `yaml:"etfs"` // ETF symbol -> sector name
		BondBenchmark string            `yaml:"bond_benchmark"`
		RateSensitive []string          `yaml:"rate_sensitive"` // sector names
	} `yaml:"sectors"`

	VolRegime struct {
		TransitionalBandPct     float64 `yaml:"transitional_band_pct"`
		SuppressiveMultiplier   float64 `yaml:"suppressive_multiplier"`
		TransitionalMultiplier  float64 `yaml:"transitional_multiplier"`
		DestabilizingMultiplier float64 `yaml:"destabilizing_multiplier"`
	} `yaml:"vol_regime"`

	Resilience struct {
		BreakerWindowSize   int      `yaml:"breaker_window_size"`
		BreakerMinResults   int      `yaml:"breaker_min_results"`
		BreakerFailureRate  float64  `yaml:"breaker_failure_rate"`
		BreakerCooldown     Duration `yaml:"breaker_cooldown"`
		MaxAttempts         int      `yaml:"max_attempts"`
		BackoffUnit         Duration `yaml:"backoff_unit"`
		RequestTimeout      Duration `yaml:"request_timeout"`
		ProviderRPS         float64  `yaml:"provider_rps"`
		ProviderBurst       int      `yaml:"provider_burst"`
		ProviderConcurrency int      `yaml:"provider_concurrency"`
	} `yaml:"resilience"`
}

// TuningConfig holds operator-adjustable thresholds.
type TuningConfig struct {
	Universe struct {
		Long struct {
			MinMarketCap float64 `yaml:"min_market_cap"`
			MinPrice     float64 `yaml:"min_price"`
			MinAvgVolume float64 `yaml:"min_avg_volume"`
		} `yaml:"long"`
		Short struct {
			MinMarketCap       float64 `yaml:"min_market_cap"`
			DebtEquityAbove    float64 `yaml:"debt_equity_above"`
			NetMarginBelow     float64 `yaml:"net_margin_below"`
			InterestCoverBelow float64 `yaml:"interest_cover_below"`
		} `yaml:"short"`
		EarningsExclusionDays int `yaml:"earnings_exclusion_days"`
	} `yaml:"universe"`

	Sectors struct {
		MomentumDays         int                   `yaml:"momentum_days"`
		TrendMADays          int                   `yaml:"trend_ma_days"`
		TopK                 int                   `yaml:"top_k"`
		BottomK              int                   `yaml:"bottom_k"`
		LeaderBonus          float64               `yaml:"leader_bonus"`
		LaggardPenalty       float64               `yaml:"laggard_penalty"`
		MeanReversionPenalty float64               `yaml:"mean_reversion_penalty"`
		RateSensPenalty      float64               `yaml:"rate_sens_penalty"`
		RegimeThresholds     map[string]RegimePair `yaml:"regime_thresholds"` // sector name -> pair
	} `yaml:"sectors"`

	Scoring struct {
		TechnicalWeight   float64 `yaml:"technical_weight"`
		FlowWeight        float64 `yaml:"flow_weight"`
		FundamentalWeight float64 `yaml:"fundamental_weight"`
		TrendMADays       int     `yaml:"trend_ma_days"`
		ShortMADays       int     `yaml:"short_ma_days"`
		MinScore          float64 `yaml:"min_score"`
		CrowdedCeiling    float64 `yaml:"crowded_ceiling"`
		DangerDebtEquity  float64 `yaml:"danger_debt_equity"`
		DangerNetMargin   float64 `yaml:"danger_net_margin"`
		DangerInterestCov float64 `yaml:"danger_interest_cov"`
	} `yaml:"scoring"`

	VolRegime struct {
		TopN int `yaml:"top_n"`
	} `yaml:"vol_regime"`

	Sizing struct {
		RiskPerTradePct      float64 `yaml:"risk_per_trade_pct"`
		StopATRMultiple      float64 `yaml:"stop_atr_multiple"`
		Target1ATRMultiple   float64 `yaml:"target1_atr_multiple"`
		Target2ATRMultiple   float64 `yaml:"target2_atr_multiple"`
		Leg1SplitPct         float64 `yaml:"leg1_split_pct"`
		MultiplierMin        float64 `yaml:"multiplier_min"`
		MultiplierMax        float64 `yaml:"multiplier_max"`
		UtilityScoreCutoff   float64 `yaml:"utility_score_cutoff"`
		UtilityBonus         float64 `yaml:"utility_bonus"`
		FreshnessBonus       float64 `yaml:"freshness_bonus"`
		FreshnessWindowDays  int     `yaml:"freshness_window_days"`
		MaxQuantity          int     `yaml:"max_quantity"`
		MaxPositions         int     `yaml:"max_positions"`
		MaxPerSector         int     `yaml:"max_per_sector"`
		MaxPositionRiskPct   float64 `yaml:"max_position_risk_pct"`
		MaxAggregateNotional float64 `yaml:"max_aggregate_notional"`
		MaxTickerNotional    float64 `yaml:"max_ticker_notional"`
		SameBarPolicy        string  `yaml:"same_bar_policy"` // stop_first | target_first
	} `yaml:"sizing"`
}

// RegimePair is a sector-specific oversold/overbought threshold pair.
type RegimePair struct {
	Oversold   float64 `yaml:"oversold"`
	Overbought float64 `yaml:"overbought"`
}

// RuntimeConfig holds per-environment values: account, keys, paths.
type RuntimeConfig struct {
	AccountEquity float64 `yaml:"account_equity"`

	Providers map[string]ProviderRuntime `yaml:"providers"`

	Cache struct {
		Backend   string `yaml:"backend"` // file | redis
		Dir       string `yaml:"dir"`
		RedisAddr string `yaml:"redis_addr"`
	} `yaml:"cache"`

	StateDir          string `yaml:"state_dir"`
	OutputDir         string `yaml:"output_dir"`
	ManualBreakerPath string `yaml:"manual_breaker_path"`
	PostgresDSN       string `yaml:"postgres_dsn"`
	MonitorAddr       string `yaml:"monitor_addr"` // empty disables the monitor server
}

// ProviderRuntime carries one provider's endpoint and credentials.
type ProviderRuntime struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	AuthHeader string `yaml:"auth_header"` // header name carrying the key
	AuthScheme string `yaml:"auth_scheme"` // optional value prefix, e.g. "Bearer "
}

// CriticalProviders are health-checked in Phase 0; any one down halts the run.
var CriticalProviders = []string{"polygon", "uw", "fmp", "fred"}

// Default returns the built-in configuration. Files and environment
// variables layer on top of these values.
func Default() Config {
	var c Config

	c.Core.BMI.LookbackDays = 60
	c.Core.BMI.WarmupSamples = 20
	c.Core.BMI.SigmaK = 2.0
	c.Core.BMI.SmoothingWindow = 25
	c.Core.BMI.GreenThreshold = 25
	c.Core.BMI.RedThreshold = 80
	c.Core.BMI.DivergenceBenchmarkRisePct = 1.0
	c.Core.BMI.DivergenceDropPoints = 2.0
	c.Core.BMI.DivergenceWindowDays = 5
	c.Core.BMI.BenchmarkSymbol = "SPY"
	c.Core.BMI.ScanUniverseSize = 50

	c.Core.Macro.VIXSaneMin = 5
	c.Core.Macro.VIXSaneMax = 100
	c.Core.Macro.VIXDefault = 30
	c.Core.Macro.MultiplierStart = 20
	c.Core.Macro.MultiplierRate = 0.02
	c.Core.Macro.MultiplierFloor = 0.25
	c.Core.Macro.ExtremeThreshold = 40
	c.Core.Macro.ExtremeMultiplier = 0.20
	c.Core.Macro.YieldMAWindow = 20
	c.Core.Macro.RateSensExceedPct = 2.0
	c.Core.Macro.VIXFallbackSymbol = "I:VIX"

	c.Core.Sectors.ETFs = map[string]string{
		"XLK":  "technology",
		"XLF":  "financials",
		"XLV":  "healthcare",
		"XLE":  "energy",
		"XLY":  "consumer_discretionary",
		"XLP":  "consumer_staples",
		"XLI":  "industrials",
		"XLB":  "materials",
		"XLRE": "real_estate",
		"XLU":  "utilities",
		"XLC":  "communication_services",
	}
	c.Core.Sectors.BondBenchmark = "TLT"
	c.Core.Sectors.RateSensitive = []string{"technology", "real_estate"}

	c.Core.VolRegime.TransitionalBandPct = 2.0
	c.Core.VolRegime.SuppressiveMultiplier = 1.0
	c.Core.VolRegime.TransitionalMultiplier = 0.75
	c.Core.VolRegime.DestabilizingMultiplier = 0.5

	c.Core.Resilience.BreakerWindowSize = 50
	c.Core.Resilience.BreakerMinResults = 10
	c.Core.Resilience.BreakerFailureRate = 0.30
	c.Core.Resilience.BreakerCooldown = Duration(60 * time.Second)
	c.Core.Resilience.MaxAttempts = 3
	c.Core.Resilience.BackoffUnit = Duration(time.Second)
	c.Core.Resilience.RequestTimeout = Duration(15 * time.Second)
	c.Core.Resilience.ProviderRPS = 5
	c.Core.Resilience.ProviderBurst = 5
	c.Core.Resilience.ProviderConcurrency = 4

	c.Tuning.Universe.Long.MinMarketCap = 2e9
	c.Tuning.Universe.Long.MinPrice = 5
	c.Tuning.Universe.Long.MinAvgVolume = 1e6
	c.Tuning.Universe.Short.MinMarketCap = 5e8
	c.Tuning.Universe.Short.DebtEquityAbove = 2.0
	c.Tuning.Universe.Short.NetMarginBelow = -5.0
	c.Tuning.Universe.Short.InterestCoverBelow = 1.5
	c.Tuning.Universe.EarningsExclusionDays = 5

	c.Tuning.Sectors.MomentumDays = 20
	c.Tuning.Sectors.TrendMADays = 20
	c.Tuning.Sectors.TopK = 3
	c.Tuning.Sectors.BottomK = 3
	c.Tuning.Sectors.LeaderBonus = 10
	c.Tuning.Sectors.LaggardPenalty = 10
	c.Tuning.Sectors.MeanReversionPenalty = 3
	c.Tuning.Sectors.RateSensPenalty = 5
	c.Tuning.Sectors.RegimeThresholds = map[string]RegimePair{}

	c.Tuning.Scoring.TechnicalWeight = 0.40
	c.Tuning.Scoring.FlowWeight = 0.35
	c.Tuning.Scoring.FundamentalWeight = 0.25
	c.Tuning.Scoring.TrendMADays = 200
	c.Tuning.Scoring.ShortMADays = 20
	c.Tuning.Scoring.MinScore = 55
	c.Tuning.Scoring.CrowdedCeiling = 90
	c.Tuning.Scoring.DangerDebtEquity = 4.0
	c.Tuning.Scoring.DangerNetMargin = -20.0
	c.Tuning.Scoring.DangerInterestCov = 1.0

	c.Tuning.VolRegime.TopN = 20

	c.Tuning.Sizing.RiskPerTradePct = 1.0
	c.Tuning.Sizing.StopATRMultiple = 1.5
	c.Tuning.Sizing.Target1ATRMultiple = 2.0
	c.Tuning.Sizing.Target2ATRMultiple = 3.5
	c.Tuning.Sizing.Leg1SplitPct = 33
	c.Tuning.Sizing.MultiplierMin = 0.25
	c.Tuning.Sizing.MultiplierMax = 2.0
	c.Tuning.Sizing.UtilityScoreCutoff = 85
	c.Tuning.Sizing.UtilityBonus = 1.25
	c.Tuning.Sizing.FreshnessBonus = 1.10
	c.Tuning.Sizing.FreshnessWindowDays = 10
	c.Tuning.Sizing.MaxQuantity = 10000
	c.Tuning.Sizing.MaxPositions = 10
	c.Tuning.Sizing.MaxPerSector = 3
	c.Tuning.Sizing.MaxPositionRiskPct = 2.0
	c.Tuning.Sizing.MaxAggregateNotional = 250000
	c.Tuning.Sizing.MaxTickerNotional = 50000
	c.Tuning.Sizing.SameBarPolicy = "stop_first"

	c.Runtime.Providers = map[string]ProviderRuntime{}
	c.Runtime.Cache.Backend = "file"
	c.Runtime.Cache.Dir = "data/cache"
	c.Runtime.StateDir = "data/state"
	c.Runtime.OutputDir = "out"
	c.Runtime.ManualBreakerPath = "data/state/manual_breaker.json"

	return c
}
