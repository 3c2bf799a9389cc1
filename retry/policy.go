// Package retry provides the backoff policy for message delivery.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines how failed deliveries are retried.
type Policy struct {
	// MaxAttempts is the maximum number of delivery attempts
	// (including the first). 0 means no limit.
	MaxAttempts int

	// InitialInterval is the delay before the first retry.
	InitialInterval time.Duration

	// MaxInterval caps the delay between retries.
	MaxInterval time.Duration

	// Multiplier is the factor by which the interval grows.
	Multiplier float64

	// RandomizationFactor adds jitter to the delay. A value of 0.2
	// keeps the actual delay within [delay * 0.8, delay * 1.2].
	RandomizationFactor float64
}

// DefaultPolicy returns the delivery default: three attempts with
// exponential backoff starting at 30 seconds.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxAttempts:         3,
		InitialInterval:     30 * time.Second,
		MaxInterval:         1 * time.Hour,
		Multiplier:          2.0,
		RandomizationFactor: 0.2,
	}
}

// NoRetry returns a policy that never retries.
func NoRetry() *Policy {
	return &Policy{
		MaxAttempts: 1,
	}
}

// Fixed returns a policy with a fixed delay between retries.
func Fixed(maxAttempts int, interval time.Duration) *Policy {
	return &Policy{
		MaxAttempts:     maxAttempts,
		InitialInterval: interval,
		MaxInterval:     interval,
		Multiplier:      1.0,
	}
}

// Exponential returns an exponential backoff policy.
func Exponential(maxAttempts int, initial, max time.Duration, multiplier float64) *Policy {
	return &Policy{
		MaxAttempts:         maxAttempts,
		InitialInterval:     initial,
		MaxInterval:         max,
		Multiplier:          multiplier,
		RandomizationFactor: 0.2,
	}
}

// ShouldRetry returns true if another attempt is allowed after the
// given number of completed attempts.
func (p *Policy) ShouldRetry(attempts int) bool {
	return p.MaxAttempts <= 0 || attempts < p.MaxAttempts
}

// Delay calculates the backoff before the next attempt, given the
// number of attempts already made.
func (p *Policy) Delay(attempts int) time.Duration {
	if attempts <= 1 {
		return p.addJitter(p.InitialInterval)
	}

	delay := float64(p.InitialInterval) * math.Pow(p.Multiplier, float64(attempts-1))
	if p.MaxInterval > 0 && delay > float64(p.MaxInterval) {
		delay = float64(p.MaxInterval)
	}
	return p.addJitter(time.Duration(delay))
}

// NextAttemptAt returns when a message that just failed its Nth
// attempt becomes eligible again.
func (p *Policy) NextAttemptAt(now time.Time, attempts int) time.Time {
	return now.Add(p.Delay(attempts))
}

// addJitter randomizes the delay to avoid thundering retries.
func (p *Policy) addJitter(delay time.Duration) time.Duration {
	if p.RandomizationFactor == 0 {
		return delay
	}
	factor := 1.0 + p.RandomizationFactor*(2*rand.Float64()-1)
	return time.Duration(float64(delay) * factor)
}
