package httpx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphaledger/signalrun/internal/net/circuit"
	"github.com/alphaledger/signalrun/internal/net/ratelimit"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, maxAttempts int) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		Provider:    "testprov",
		BaseURL:     srv.URL,
		MaxAttempts: maxAttempts,
		BackoffUnit: time.Millisecond,
	}, circuit.NewBreaker(circuit.Config{Provider: "testprov"}), ratelimit.NewLimiter(1000, 100, 4))
	return c, srv
}

func TestClient_SuccessFirstAttempt(t *testing.T) {
	var calls int64
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.Write([]byte(`{"ok":true}`))
	}, 3)

	body, ok := c.Get(context.Background(), "/bars", url.Values{"symbol": {"AAPL"}})
	require.True(t, ok)
	assert.JSONEq(t, `{"ok":true}`, string(body))
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls))
}

func TestClient_Retries5xxThenSucceeds(t *testing.T) {
	var calls int64
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[]`))
	}, 3)

	_, ok := c.Get(context.Background(), "/bars", nil)
	assert.True(t, ok)
	assert.Equal(t, int64(3), atomic.LoadInt64(&calls))
}

func TestClient_Retries429(t *testing.T) {
	var calls int64
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}, 3)

	_, ok := c.Get(context.Background(), "/bars", nil)
	assert.False(t, ok, "exhausted retries report an empty result")
	assert.Equal(t, int64(3), atomic.LoadInt64(&calls))
}

func TestClient_NoRetryOnOther4xx(t *testing.T) {
	var calls int64
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}, 3)

	_, ok := c.Get(context.Background(), "/bars", nil)
	assert.False(t, ok)
	assert.Equal(t, int64(1), atomic.LoadInt64(&calls), "404 must not be retried")
}

func TestClient_FailuresFeedBreakerUntilOpen(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, 3)

	// 4 requests × 3 attempts = 12 failures ≥ min 10, all failing.
	for i := 0; i < 4; i++ {
		c.Get(context.Background(), "/bars", nil)
	}
	assert.Equal(t, circuit.StateOpen, c.Breaker().State())

	// Open breaker short-circuits without touching the server.
	_, ok := c.Get(context.Background(), "/bars", nil)
	assert.False(t, ok)
}

func TestClient_SendsConfiguredHeaders(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(Config{
		Provider: "testprov",
		BaseURL:  srv.URL,
		Headers:  map[string]string{"Authorization": "Bearer sk-test"},
	}, circuit.NewBreaker(circuit.Config{Provider: "testprov"}), ratelimit.NewLimiter(1000, 100, 4))

	var v map[string]any
	require.True(t, c.GetJSON(context.Background(), "/health", nil, &v))
	assert.Equal(t, "Bearer sk-test", got)
}
