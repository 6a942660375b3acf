package tangguh

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ambiyansyah-risyal/tangguh/internal/backoff"
)

// RetryPolicy decides whether a failed try should be repeated and after what
// pause. It sees the raw HTTP response (when one arrived) before status
// mapping, the transport error otherwise. attempt is the zero-based index of
// the try that just finished; maxAttempts is the total try budget for the call.
type RetryPolicy interface {
	ShouldRetry(resp *http.Response, err error, attempt, maxAttempts int) (time.Duration, bool)
}

// DefaultRetryPolicy retries transport errors, timeouts, 429 and 5xx
// responses. Other 4xx responses and cancellations are terminal. Delays grow
// exponentially from BaseDelay up to MaxDelay with uniform jitter; a
// Retry-After header on 429/503 responses takes precedence.
type DefaultRetryPolicy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	Jitter     float64

	// Strategy overrides the delay algorithm. Nil means exponential jitter.
	Strategy backoff.Strategy
}

// NewDefaultRetryPolicy builds the standard policy with explicit delay knobs.
func NewDefaultRetryPolicy(base, max time.Duration, multiplier, jitter float64) *DefaultRetryPolicy {
	return &DefaultRetryPolicy{
		BaseDelay:  base,
		MaxDelay:   max,
		Multiplier: multiplier,
		Jitter:     jitter,
	}
}

// ShouldRetry implements the RetryPolicy interface.
func (p *DefaultRetryPolicy) ShouldRetry(resp *http.Response, err error, attempt, maxAttempts int) (time.Duration, bool) {
	if attempt+1 >= maxAttempts {
		return 0, false
	}

	var retryAfter time.Duration
	switch {
	case err != nil:
		// Cancellation is terminal no matter how many tries remain. The
		// pipeline classifies timeouts before calling here, so any
		// context.Canceled left in err means the caller walked away.
		if errors.Is(err, context.Canceled) {
			return 0, false
		}
	case resp != nil:
		if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
			return 0, false
		}
		retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	default:
		return 0, false
	}

	if retryAfter > 0 {
		return retryAfter, true
	}
	return p.delay(attempt), true
}

func (p *DefaultRetryPolicy) delay(attempt int) time.Duration {
	strategy := p.Strategy
	if strategy == nil {
		strategy = backoff.Exponential()
	}
	return strategy.Delay(attempt, p.BaseDelay, p.MaxDelay, p.Multiplier, p.Jitter)
}

// parseRetryAfter parses a Retry-After header value, supporting both
// delay-seconds and HTTP-date formats. Delays are capped at one hour.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}

// RetryBudget caps the total number of retries across all calls inside a
// sliding window, protecting a struggling upstream from retry storms.
type RetryBudget struct {
	max         int64
	window      time.Duration
	used        int64
	windowStart int64
}

// NewRetryBudget allows at most max retries per window.
func NewRetryBudget(max int, window time.Duration) *RetryBudget {
	return &RetryBudget{
		max:         int64(max),
		window:      window,
		windowStart: time.Now().UnixNano(),
	}
}

// Allow reports whether another retry fits in the current window and
// consumes a slot when it does.
func (b *RetryBudget) Allow() bool {
	now := time.Now().UnixNano()
	start := atomic.LoadInt64(&b.windowStart)

	if now-start >= int64(b.window) {
		if atomic.CompareAndSwapInt64(&b.windowStart, start, now) {
			atomic.StoreInt64(&b.used, 0)
		}
	}

	if atomic.LoadInt64(&b.used) >= b.max {
		return false
	}
	return atomic.AddInt64(&b.used, 1) <= b.max
}

// Stats returns the consumed and maximum retry slots with the window start.
func (b *RetryBudget) Stats() (used, max int64, windowStart time.Time) {
	return atomic.LoadInt64(&b.used),
		b.max,
		time.Unix(0, atomic.LoadInt64(&b.windowStart))
}
