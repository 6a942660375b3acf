// Package backoff computes retry delays. It centralizes the delay math so the
// retry policy and the tests agree on bounds and jitter behavior.
package backoff

import (
	"math/rand"
	"time"
)

// Strategy is a backoff delay algorithm.
type Strategy interface {
	// Delay returns the pause before retry number attempt (zero-based count
	// of completed tries).
	Delay(attempt int, base, max time.Duration, multiplier, jitter float64) time.Duration
}

// Exponential returns the default strategy: delay = min(base*multiplier^attempt, max)
// plus up to jitter*delay of uniform random noise, still capped at max.
func Exponential() Strategy { return exponential{} }

// Decorrelated returns the AWS-style decorrelated jitter strategy, which
// spreads delays uniformly across a widening window for smoother tails.
// See https://aws.amazon.com/blogs/architecture/exponential-backoff-and-jitter/
func Decorrelated() Strategy { return decorrelated{} }

type exponential struct{}

func (exponential) Delay(attempt int, base, max time.Duration, multiplier, jitter float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	// Cap the exponent to avoid float overflow on runaway attempt counts.
	if attempt > 30 {
		attempt = 30
	}

	delay := time.Duration(float64(base) * pow(multiplier, attempt))
	if delay < 0 || delay > max {
		delay = max
	}

	jitter = clampJitter(jitter)
	if jitter > 0 {
		noise := time.Duration(float64(delay) * jitter * rand.Float64())
		if delay+noise > max {
			delay = max
		} else {
			delay += noise
		}
	}
	return delay
}

type decorrelated struct{}

func (decorrelated) Delay(attempt int, base, max time.Duration, _, _ float64) time.Duration {
	if attempt <= 0 {
		return base
	}
	if attempt > 10 {
		attempt = 10
	}

	// Stateless rendering of the decorrelated formula: pick uniformly in
	// [base, min(max, base*3^attempt)].
	lower := float64(base)
	upper := lower * pow(3.0, attempt)

	maxFloat := float64(max)
	if upper > maxFloat || upper < 0 {
		upper = maxFloat
	}
	if upper < lower {
		upper = lower
	}

	delay := time.Duration(lower + rand.Float64()*(upper-lower))
	if delay < 0 || delay > max {
		delay = max
	}
	return delay
}

func clampJitter(jitter float64) float64 {
	if jitter < 0 {
		return 0
	}
	if jitter > 1 {
		return 1
	}
	return jitter
}

func pow(base float64, exponent int) float64 {
	result := 1.0
	for i := 0; i < exponent; i++ {
		result *= base
	}
	return result
}
