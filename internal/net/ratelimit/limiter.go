package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter bounds request throughput and concurrency for one provider.
// Throughput uses a token bucket; concurrency uses a counting semaphore so
// a burst of goroutines cannot exceed the provider's parallel-request cap.
type Limiter struct {
	bucket *rate.Limiter
	sem    chan struct{}
}

// NewLimiter creates a per-provider limiter with the given requests per
// second, burst capacity, and maximum concurrent in-flight requests.
func NewLimiter(rps float64, burst, maxConcurrent int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limiter{
		bucket: rate.NewLimiter(rate.Limit(rps), burst),
		sem:    make(chan struct{}, maxConcurrent),
	}
}

// Acquire blocks until both a rate token and a concurrency slot are
// available, or the context is cancelled. The returned release function
// must be called when the request completes.
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	if err := l.bucket.Wait(ctx); err != nil {
		return nil, err
	}
	select {
	case l.sem <- struct{}{}:
		return func() { <-l.sem }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// InFlight returns the number of requests currently holding a slot.
func (l *Limiter) InFlight() int {
	return len(l.sem)
}

// Manager holds one limiter per provider.
type Manager struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
}

func NewManager() *Manager {
	return &Manager{limiters: make(map[string]*Limiter)}
}

// AddProvider registers a limiter for the named provider.
func (m *Manager) AddProvider(name string, rps float64, burst, maxConcurrent int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiters[name] = NewLimiter(rps, burst, maxConcurrent)
}

// Get returns the limiter for a provider, or nil if none is registered.
func (m *Manager) Get(provider string) *Limiter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.limiters[provider]
}
