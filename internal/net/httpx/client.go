package httpx

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/alphaledger/signalrun/internal/metrics"
	"github.com/alphaledger/signalrun/internal/net/circuit"
	"github.com/alphaledger/signalrun/internal/net/ratelimit"
)

// Config defines the request wrapper for one provider.
type Config struct {
	Provider    string
	BaseURL     string
	Timeout     time.Duration
	MaxAttempts int           // Default 3
	BackoffUnit time.Duration // Attempt N sleeps N × unit before retrying
	Headers     map[string]string
}

// Client is a rate-limited, circuit-breaker-guarded HTTP client for a
// single provider. Failures are reported as empty results, never as
// errors: callers apply their own fallback policy.
type Client struct {
	config  Config
	breaker *circuit.Breaker
	limiter *ratelimit.Limiter
	http    *http.Client
	sleep   func(context.Context, time.Duration) error
}

// NewClient wires a provider client to its breaker and limiter.
func NewClient(config Config, breaker *circuit.Breaker, limiter *ratelimit.Limiter) *Client {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BackoffUnit <= 0 {
		config.BackoffUnit = time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	return &Client{
		config:  config,
		breaker: breaker,
		limiter: limiter,
		http:    &http.Client{Timeout: config.Timeout},
		sleep:   sleepCtx,
	}
}

// Breaker exposes the provider's circuit breaker for health reporting.
func (c *Client) Breaker() *circuit.Breaker { return c.breaker }

// Provider returns the provider name this client serves.
func (c *Client) Provider() string { return c.config.Provider }

// Get performs a GET with bounded retries and linear backoff. Timeouts,
// connection errors, 5xx and 429 are retried; other 4xx are not. Every
// attempt's outcome feeds the provider's circuit breaker. Exhaustion or a
// breaker rejection yields (nil, false).
func (c *Client) Get(ctx context.Context, path string, query url.Values) ([]byte, bool) {
	target := c.config.BaseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		if err := c.breaker.Allow(); err != nil {
			metrics.BreakerRejections.WithLabelValues(c.config.Provider).Inc()
			log.Warn().Str("provider", c.config.Provider).Str("url", path).
				Msg("request rejected by open circuit breaker")
			return nil, false
		}

		body, retryable, ok := c.attempt(ctx, target)
		if ok {
			metrics.ProviderRequests.WithLabelValues(c.config.Provider, "success").Inc()
			return body, true
		}
		metrics.ProviderRequests.WithLabelValues(c.config.Provider, "failure").Inc()
		if !retryable {
			return nil, false
		}

		if attempt < c.config.MaxAttempts {
			metrics.ProviderRetries.WithLabelValues(c.config.Provider).Inc()
			backoff := time.Duration(attempt) * c.config.BackoffUnit
			log.Debug().Str("provider", c.config.Provider).Int("attempt", attempt).
				Dur("backoff", backoff).Str("url", path).Msg("retrying provider request")
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, false
			}
		}
	}

	log.Warn().Str("provider", c.config.Provider).Str("url", path).
		Int("attempts", c.config.MaxAttempts).Msg("provider request exhausted retries")
	return nil, false
}

// GetJSON performs Get and unmarshals the response into v.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, v any) bool {
	body, ok := c.Get(ctx, path, query)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		log.Warn().Str("provider", c.config.Provider).Str("url", path).Err(err).
			Msg("provider returned malformed JSON")
		return false
	}
	return true
}

// attempt runs one request and reports (body, retryable, ok).
func (c *Client) attempt(ctx context.Context, target string) ([]byte, bool, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		c.breaker.Record(false)
		return nil, false, false
	}
	for k, v := range c.config.Headers {
		req.Header.Set(k, v)
	}

	release, err := c.limiter.Acquire(ctx)
	if err != nil {
		// Context cancelled while queued; not a provider failure.
		return nil, false, false
	}
	resp, err := c.http.Do(req)
	release()

	if err != nil {
		c.breaker.Record(false)
		log.Debug().Str("provider", c.config.Provider).Err(err).Msg("transport error")
		return nil, true, false
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			c.breaker.Record(false)
			return nil, true, false
		}
		c.breaker.Record(true)
		return body, false, true
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.breaker.Record(false)
		return nil, true, false
	default:
		// Non-429 4xx: the request itself is wrong, retrying cannot help.
		c.breaker.Record(false)
		log.Warn().Str("provider", c.config.Provider).Int("status", resp.StatusCode).
			Str("url", target).Msg("provider rejected request")
		return nil, false, false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
