package session

import (
	"fmt"
	"math"
	"time"
)

// Backoff bounds the reconnect loop that follows an unexpected disconnect.
//
// MaxAttempts > 0 retries with exponentially growing delays and gives up after
// that many failed attempts. MaxAttempts == 0 disables reconnecting.
// MaxAttempts < 0 reconnects immediately after every disconnect with no limit;
// a failed attempt in that mode is not retried.
type Backoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int
}

// DefaultBackoff returns 1s doubling up to 30s, ten attempts.
func DefaultBackoff() Backoff {
	return Backoff{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2,
		MaxAttempts:  10,
	}
}

// Unbounded reports the immediate, unlimited reconnect mode.
func (b Backoff) Unbounded() bool {
	return b.MaxAttempts < 0
}

// Enabled reports whether any reconnect is attempted.
func (b Backoff) Enabled() bool {
	return b.MaxAttempts != 0
}

// Exhausted reports whether attempts already made use up the budget.
func (b Backoff) Exhausted(attempts int) bool {
	return b.MaxAttempts > 0 && attempts >= b.MaxAttempts
}

// Delay returns the wait before the attempt with the given zero-based index.
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Unbounded() || b.InitialDelay <= 0 {
		return 0
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(b.InitialDelay) * math.Pow(mult, float64(attempt))
	if b.MaxDelay > 0 && d > float64(b.MaxDelay) {
		return b.MaxDelay
	}
	if d > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// Validate rejects settings that cannot produce a sane schedule.
func (b Backoff) Validate() error {
	if b.InitialDelay < 0 {
		return fmt.Errorf("reconnect initial delay must not be negative: %s", b.InitialDelay)
	}
	if b.MaxDelay < 0 {
		return fmt.Errorf("reconnect max delay must not be negative: %s", b.MaxDelay)
	}
	if b.MaxDelay > 0 && b.MaxDelay < b.InitialDelay {
		return fmt.Errorf("reconnect max delay %s is below initial delay %s", b.MaxDelay, b.InitialDelay)
	}
	if b.Multiplier != 0 && b.Multiplier < 1 {
		return fmt.Errorf("reconnect multiplier must be >= 1, got %g", b.Multiplier)
	}
	return nil
}
