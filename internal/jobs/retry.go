package jobs

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy describes how often and how fast a task is attempted.
type RetryPolicy struct {
	MaxAttempts int
	Min         time.Duration
	Max         time.Duration
	Factor      float64
	Jitter      bool
}

// MaxRetry is the number of retries after the first attempt.
func (p RetryPolicy) MaxRetry() int {
	if p.MaxAttempts <= 1 {
		return 0
	}
	return p.MaxAttempts - 1
}

// Delay returns the wait before retry number n (0-based).
func (p RetryPolicy) Delay(n int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Min
	b.MaxInterval = p.Max
	b.Multiplier = p.Factor
	if b.Multiplier < 1 {
		b.Multiplier = 1
	}
	b.RandomizationFactor = 0
	if p.Jitter {
		b.RandomizationFactor = 0.5
	}
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 0; i < n; i++ {
		d = b.NextBackOff()
	}
	if d < p.Min {
		d = p.Min
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}
	return d
}
