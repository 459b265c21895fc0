package circuit

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrOpen is returned when the breaker is rejecting requests.
var ErrOpen = errors.New("circuit breaker open")

// State represents the current state of a provider circuit breaker.
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half_open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config defines circuit breaker parameters for one provider.
type Config struct {
	Provider          string        `yaml:"provider"`
	WindowSize        int           `yaml:"window_size"`          // Sliding window of outcomes
	MinResults        int           `yaml:"min_results"`          // Outcomes required before tripping
	FailureRateToOpen float64       `yaml:"failure_rate_to_open"` // Window failure rate that trips
	Cooldown          time.Duration `yaml:"cooldown"`             // How long OPEN rejects before probing
}

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = 50
	}
	if c.MinResults <= 0 {
		c.MinResults = 10
	}
	if c.FailureRateToOpen <= 0 {
		c.FailureRateToOpen = 0.30
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 60 * time.Second
	}
	return c
}

// Breaker tracks a sliding window of request outcomes for a single provider
// and gates requests through a CLOSED/OPEN/HALF_OPEN state machine.
//
// The OPEN→HALF_OPEN transition is computed lazily on state reads once the
// cooldown has elapsed; there is no background timer.
type Breaker struct {
	mu            sync.Mutex
	config        Config
	window        []bool // true = failure
	next          int
	count         int
	failures      int
	state         State
	openedAt      time.Time
	probeInFlight bool
	now           func() time.Time
}

// NewBreaker creates a breaker for the named provider. Zero-valued config
// fields fall back to defaults (window 50, min 10, rate 0.30, cooldown 60s).
func NewBreaker(config Config) *Breaker {
	config = config.withDefaults()
	return &Breaker{
		config: config,
		window: make([]bool, config.WindowSize),
		now:    time.Now,
	}
}

// State returns the current state, applying the lazy OPEN→HALF_OPEN
// transition when the cooldown has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.config.Cooldown {
		b.state = StateHalfOpen
		b.probeInFlight = false
		log.Info().Str("provider", b.config.Provider).Msg("circuit breaker half-open, allowing probe")
	}
	return b.state
}

// Allow reports whether a request may proceed. In HALF_OPEN exactly one
// probe is admitted; callers must report its outcome via Record.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.stateLocked() {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if b.probeInFlight {
			return ErrOpen
		}
		b.probeInFlight = true
		return nil
	default:
		return ErrOpen
	}
}

// Record feeds one request outcome into the sliding window and applies
// state transitions.
func (b *Breaker) Record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen && b.probeInFlight {
		b.probeInFlight = false
		if success {
			b.reset()
			log.Info().Str("provider", b.config.Provider).Msg("circuit breaker closed after successful probe")
		} else {
			b.trip("probe failed")
		}
		return
	}

	if b.count == b.config.WindowSize && b.window[b.next] {
		b.failures--
	}
	b.window[b.next] = !success
	if !success {
		b.failures++
	}
	b.next = (b.next + 1) % b.config.WindowSize
	if b.count < b.config.WindowSize {
		b.count++
	}

	if b.state == StateClosed && b.count >= b.config.MinResults {
		rate := float64(b.failures) / float64(b.count)
		if rate >= b.config.FailureRateToOpen {
			b.trip("failure rate threshold")
		}
	}
}

// FailureRate returns the current window failure rate.
func (b *Breaker) FailureRate() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return 0
	}
	return float64(b.failures) / float64(b.count)
}

func (b *Breaker) trip(reason string) {
	b.state = StateOpen
	b.openedAt = b.now()
	log.Warn().
		Str("provider", b.config.Provider).
		Str("reason", reason).
		Int("window_count", b.count).
		Int("window_failures", b.failures).
		Msg("circuit breaker tripped open")
}

func (b *Breaker) reset() {
	b.state = StateClosed
	b.window = make([]bool, b.config.WindowSize)
	b.next = 0
	b.count = 0
	b.failures = 0
}
