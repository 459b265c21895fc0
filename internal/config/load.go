package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Load reads the three config layers from dir (core.yaml, tuning.yaml,
// runtime.yaml — each optional, layered over defaults), applies environment
// overrides, and validates. Any validation failure halts the run before
// Phase 0.
func Load(dir string) (Config, error) {
	// .env is a convenience for local runs; absence is normal.
	_ = godotenv.Load()

	c := Default()

	if err := loadLayer(filepath.Join(dir, "core.yaml"), &c.Core); err != nil {
		return Config{}, err
	}
	if err := loadLayer(filepath.Join(dir, "tuning.yaml"), &c.Tuning); err != nil {
		return Config{}, err
	}
	if err := loadLayer(filepath.Join(dir, "runtime.yaml"), &c.Runtime); err != nil {
		return Config{}, err
	}

	applyEnv(&c)

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// loadLayer unmarshals one YAML file over the defaults already present in
// out. Unknown keys warn rather than fail, so forward-compatible config
// files keep working on older binaries.
func loadLayer(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Debug().Str("path", path).Msg("config layer not present, using defaults")
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}

	warnUnknownKeys(path, data, out)

	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// warnUnknownKeys compares the file's top-level keys against the struct's
// yaml tags.
func warnUnknownKeys(path string, data []byte, out any) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return // the real unmarshal will report the error
	}

	known := map[string]bool{}
	marshaled, err := yaml.Marshal(out)
	if err != nil {
		return
	}
	var fields map[string]any
	if err := yaml.Unmarshal(marshaled, &fields); err != nil {
		return
	}
	for k := range fields {
		known[k] = true
	}

	for k := range raw {
		if !known[k] {
			log.Warn().Str("path", path).Str("key", k).Msg("unknown config key ignored")
		}
	}
}

// applyEnv layers environment variables over file values.
func applyEnv(c *Config) {
	if v := os.Getenv("SIGNALRUN_ACCOUNT_EQUITY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Runtime.AccountEquity = f
		}
	}
	if v := os.Getenv("SIGNALRUN_CACHE_BACKEND"); v != "" {
		c.Runtime.Cache.Backend = v
	}
	if v := os.Getenv("SIGNALRUN_CACHE_DIR"); v != "" {
		c.Runtime.Cache.Dir = v
	}
	if v := os.Getenv("SIGNALRUN_REDIS_ADDR"); v != "" {
		c.Runtime.Cache.RedisAddr = v
	}
	if v := os.Getenv("SIGNALRUN_STATE_DIR"); v != "" {
		c.Runtime.StateDir = v
	}
	if v := os.Getenv("SIGNALRUN_OUTPUT_DIR"); v != "" {
		c.Runtime.OutputDir = v
	}
	if v := os.Getenv("SIGNALRUN_POSTGRES_DSN"); v != "" {
		c.Runtime.PostgresDSN = v
	}

	for _, name := range CriticalProviders {
		prefix := "SIGNALRUN_" + strings.ToUpper(name) + "_"
		p := c.Runtime.Providers[name]
		if v := os.Getenv(prefix + "API_KEY"); v != "" {
			p.APIKey = v
		}
		if v := os.Getenv(prefix + "BASE_URL"); v != "" {
			p.BaseURL = v
		}
		c.Runtime.Providers[name] = p
	}
}

// Validate enforces required keys, numeric ranges, and the scoring-weight
// sum. Errors here are halt conditions.
func (c Config) Validate() error {
	s := c.Tuning.Scoring
	sum := s.TechnicalWeight + s.FlowWeight + s.FundamentalWeight
	if math.Abs(sum-1.0) > 1e-6 {
		return fmt.Errorf("scoring weights must sum to 1.0, got %.6f", sum)
	}

	if c.Runtime.AccountEquity <= 0 {
		return fmt.Errorf("runtime account_equity must be positive, got %.2f", c.Runtime.AccountEquity)
	}
	if r := c.Tuning.Sizing.RiskPerTradePct; r <= 0 || r > 10 {
		return fmt.Errorf("risk_per_trade_pct must be in (0, 10], got %.2f", r)
	}
	if c.Tuning.Sizing.MultiplierMin >= c.Tuning.Sizing.MultiplierMax {
		return fmt.Errorf("sizing multiplier_min %.2f must be below multiplier_max %.2f",
			c.Tuning.Sizing.MultiplierMin, c.Tuning.Sizing.MultiplierMax)
	}
	if p := c.Tuning.Sizing.Leg1SplitPct; p <= 0 || p >= 100 {
		return fmt.Errorf("leg1_split_pct must be in (0, 100), got %.1f", p)
	}
	switch c.Tuning.Sizing.SameBarPolicy {
	case "stop_first", "target_first":
	default:
		return fmt.Errorf("same_bar_policy must be stop_first or target_first, got %q", c.Tuning.Sizing.SameBarPolicy)
	}

	if c.Core.BMI.GreenThreshold >= c.Core.BMI.RedThreshold {
		return fmt.Errorf("bmi green_threshold %.1f must be below red_threshold %.1f",
			c.Core.BMI.GreenThreshold, c.Core.BMI.RedThreshold)
	}
	if c.Core.Macro.VIXSaneMin >= c.Core.Macro.VIXSaneMax {
		return fmt.Errorf("macro vix sanity range invalid: [%.1f, %.1f]",
			c.Core.Macro.VIXSaneMin, c.Core.Macro.VIXSaneMax)
	}
	if c.Tuning.VolRegime.TopN <= 0 {
		return fmt.Errorf("vol_regime top_n must be positive, got %d", c.Tuning.VolRegime.TopN)
	}

	switch c.Runtime.Cache.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("cache backend must be file or redis, got %q", c.Runtime.Cache.Backend)
	}
	if c.Runtime.Cache.Backend == "redis" && c.Runtime.Cache.RedisAddr == "" {
		return fmt.Errorf("cache backend redis requires redis_addr")
	}

	for _, name := range CriticalProviders {
		p, ok := c.Runtime.Providers[name]
		if !ok || p.BaseURL == "" {
			return fmt.Errorf("provider %s requires a base_url", name)
		}
		if name != "fred" && p.APIKey == "" {
			return fmt.Errorf("provider %s requires an api_key", name)
		}
	}

	return nil
}

// Headers assembles the authentication header map for one provider.
func (p ProviderRuntime) Headers() map[string]string {
	if p.APIKey == "" || p.AuthHeader == "" {
		return nil
	}
	return map[string]string{p.AuthHeader: p.AuthScheme + p.APIKey}
}
