package tangguh

import (
	"errors"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerConfig configures the optional circuit breaker stage. The breaker
// sits directly around the network dispatch, inside the retry loop, so an
// open circuit fails attempts fast instead of queueing them.
type BreakerConfig struct {
	// Name labels the breaker in metrics. Defaults to "default".
	Name string

	// FailureThreshold is the consecutive-failure count that trips the
	// breaker open. Defaults to 5.
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays open before probing
	// with half-open requests. Defaults to 30s.
	RecoveryTimeout time.Duration

	// HalfOpenRequests caps concurrent probes in the half-open state.
	// Defaults to 1.
	HalfOpenRequests int

	// Interval resets the closed-state failure counts periodically.
	// Zero keeps counts for the life of the closed state.
	Interval time.Duration
}

func (cfg *BreakerConfig) applyDefaults() {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenRequests <= 0 {
		cfg.HalfOpenRequests = 1
	}
}

// errServerStatus marks a 5xx response as a breaker failure while letting the
// response itself continue down the pipeline.
var errServerStatus = errors.New("tangguh: upstream server error")

// breaker wraps gobreaker specialized to HTTP responses. A nil breaker is a
// passthrough, so the dispatch path never branches on configuration.
type breaker struct {
	cb   *gobreaker.CircuitBreaker[*http.Response]
	name string
}

func newBreaker(cfg BreakerConfig, onStateChange func(name string, state float64)) *breaker {
	cfg.applyDefaults()

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: uint32(cfg.HalfOpenRequests),
		Interval:    cfg.Interval,
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
		},
	}
	if onStateChange != nil {
		settings.OnStateChange = func(name string, _, to gobreaker.State) {
			onStateChange(name, breakerStateValue(to))
		}
	}

	return &breaker{
		cb:   gobreaker.NewCircuitBreaker[*http.Response](settings),
		name: cfg.Name,
	}
}

// execute runs fn through the breaker. Transport errors and 5xx responses
// count as failures; an open circuit returns ErrCircuitOpen without calling fn.
func (b *breaker) execute(fn func() (*http.Response, error)) (*http.Response, error) {
	if b == nil {
		return fn()
	}

	resp, err := b.cb.Execute(func() (*http.Response, error) {
		resp, err := fn()
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 500 {
			return resp, errServerStatus
		}
		return resp, nil
	})

	if err != nil {
		if errors.Is(err, errServerStatus) {
			// The breaker counted the failure; the caller still gets the
			// raw 5xx for status mapping and retry decisions.
			return resp, nil
		}
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrCircuitOpen
		}
		return nil, err
	}
	return resp, nil
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 1
	case gobreaker.StateHalfOpen:
		return 2
	default:
		return 0
	}
}
