package realtime

import (
	"math"
	"math/rand"
	"time"
)

// BackoffConfig shapes the reconnect delay sequence.
type BackoffConfig struct {
	// MaxAttempts is the reconnect attempt ceiling before giving up.
	MaxAttempts int
	// InitialDelay is the delay before the first reconnect attempt.
	InitialDelay time.Duration
	// MaxDelay caps the computed delay.
	MaxDelay time.Duration
	// Multiplier grows the delay between attempts.
	Multiplier float64
	// Jitter adds randomness to each delay (0.0 to 1.0 of the delay).
	Jitter float64
}

// DefaultBackoffConfig returns the reconnect defaults: five attempts, 500ms
// doubling up to 10s, half-delay jitter.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		MaxAttempts:  5,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.5,
	}
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	d := DefaultBackoffConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = d.InitialDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = d.MaxDelay
	}
	if c.Multiplier < 1 {
		c.Multiplier = d.Multiplier
	}
	if c.Jitter < 0 || c.Jitter > 1 {
		c.Jitter = d.Jitter
	}
	return c
}

// Delay returns the wait before the given attempt (1-based). The exponential
// curve is computed first, capped, then jittered so the cap still holds.
func (c BackoffConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := float64(c.InitialDelay) * math.Pow(c.Multiplier, float64(attempt-1))
	if backoff > float64(c.MaxDelay) {
		backoff = float64(c.MaxDelay)
	}
	if c.Jitter > 0 {
		jitter := backoff * c.Jitter * (rand.Float64()*2 - 1)
		backoff += jitter
	}
	if backoff < 0 {
		backoff = 0
	}
	return time.Duration(backoff)
}

// Exhausted reports whether attempt is past the ceiling.
func (c BackoffConfig) Exhausted(attempt int) bool {
	return attempt > c.MaxAttempts
}
