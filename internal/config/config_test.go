package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() Config {
	c := Default()
	c.Runtime.AccountEquity = 100000
	c.Runtime.Providers = map[string]ProviderRuntime{
		"polygon": {BaseURL: "https://api.polygon.test", APIKey: "pk", AuthHeader: "Authorization", AuthScheme: "Bearer "},
		"uw":      {BaseURL: "https://api.uw.test", APIKey: "uk", AuthHeader: "Authorization", AuthScheme: "Bearer "},
		"fmp":     {BaseURL: "https://api.fmp.test", APIKey: "fk", AuthHeader: "X-Api-Key"},
		"fred":    {BaseURL: "https://api.fred.test"},
	}
	return c
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	c := validTestConfig()
	assert.NoError(t, c.Validate())
}

func TestValidate_WeightsMustSumToOne(t *testing.T) {
	c := validTestConfig()
	c.Tuning.Scoring.TechnicalWeight = 0.5
	c.Tuning.Scoring.FlowWeight = 0.5
	c.Tuning.Scoring.FundamentalWeight = 0.5

	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weights must sum to 1.0")
}

func TestValidate_RequiresEquity(t *testing.T) {
	c := validTestConfig()
	c.Runtime.AccountEquity = 0
	assert.Error(t, c.Validate())
}

func TestValidate_RequiresCriticalProviderURL(t *testing.T) {
	c := validTestConfig()
	delete(c.Runtime.Providers, "uw")
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "uw")
}

func TestValidate_RedisBackendNeedsAddr(t *testing.T) {
	c := validTestConfig()
	c.Runtime.Cache.Backend = "redis"
	assert.Error(t, c.Validate())

	c.Runtime.Cache.RedisAddr = "localhost:6379"
	assert.NoError(t, c.Validate())
}

func TestLoad_LayersFilesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	tuning := `
scoring:
  min_score: 60
  technical_weight: 0.40
  flow_weight: 0.35
  fundamental_weight: 0.25
futureknob: true
`
	runtime := `
account_equity: 250000
providers:
  polygon: {base_url: "https://api.polygon.test", api_key: "pk", auth_header: "Authorization", auth_scheme: "Bearer "}
  uw:      {base_url: "https://api.uw.test", api_key: "uk", auth_header: "Authorization", auth_scheme: "Bearer "}
  fmp:     {base_url: "https://api.fmp.test", api_key: "fk", auth_header: "X-Api-Key"}
  fred:    {base_url: "https://api.fred.test"}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tuning.yaml"), []byte(tuning), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "runtime.yaml"), []byte(runtime), 0644))

	c, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 60.0, c.Tuning.Scoring.MinScore, "file value overrides default")
	assert.Equal(t, 250000.0, c.Runtime.AccountEquity)
	assert.Equal(t, 25, c.Core.BMI.SmoothingWindow, "defaults survive missing layer file")
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	runtime := `
account_equity: 250000
providers:
  polygon: {base_url: "https://api.polygon.test", api_key: "pk"}
  uw:      {base_url: "https://api.uw.test", api_key: "uk"}
  fmp:     {base_url: "https://api.fmp.test", api_key: "fk"}
  fred:    {base_url: "https://api.fred.test"}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "runtime.yaml"), []byte(runtime), 0644))

	t.Setenv("SIGNALRUN_ACCOUNT_EQUITY", "500000")
	t.Setenv("SIGNALRUN_POLYGON_API_KEY", "env-key")

	c, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 500000.0, c.Runtime.AccountEquity)
	assert.Equal(t, "env-key", c.Runtime.Providers["polygon"].APIKey)
}

func TestProviderRuntime_Headers(t *testing.T) {
	p := ProviderRuntime{APIKey: "abc", AuthHeader: "Authorization", AuthScheme: "Bearer "}
	assert.Equal(t, map[string]string{"Authorization": "Bearer abc"}, p.Headers())

	assert.Nil(t, ProviderRuntime{APIKey: "abc"}.Headers(), "no header name, no headers")
}
