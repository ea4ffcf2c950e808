// Package backoff computes the wait between retry attempts of a saga
// step. Strategies carry no mutable state, so one value can serve any
// number of concurrent executions.
package backoff

import (
	"math/rand/v2"
	"time"
)

// Strategy maps a retry attempt number to a wait duration. Attempts are
// 1-indexed: Delay(1) is the wait after the first failed dispatch.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant waits the same Interval before every retry.
type Constant struct {
	Interval time.Duration
}

func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

func (c *Constant) Delay(int) time.Duration {
	return c.Interval
}

// Exponential starts at Initial and doubles per attempt, never
// exceeding Max (when Max is positive).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

func (e *Exponential) Delay(attempt int) time.Duration {
	d := e.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if e.Max > 0 && d >= e.Max {
			return e.Max
		}
		if d <= 0 {
			// Doubling overflowed; the cap is the only sane answer.
			if e.Max > 0 {
				return e.Max
			}
			return e.Initial
		}
	}
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ExponentialWithJitter draws a uniform duration from [0, b) where b is
// the doubling schedule's value for the attempt. Spreading retries over
// the whole window keeps simultaneous failures from retrying in
// lockstep.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration
}

func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay}
}

func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := (&Exponential{Initial: e.Initial, Max: e.Max}).Delay(attempt)
	if base <= 0 {
		return 0
	}
	return rand.N(base) //nolint:gosec // scheduling jitter, not a secret
}

// DefaultStrategy is what the saga engine uses when no strategy is
// configured: 1s doubling per attempt with a 60s ceiling.
func DefaultStrategy() Strategy {
	return NewExponential(1*time.Second, 60*time.Second)
}
