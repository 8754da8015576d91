// Package backoff computes reconnect delays.
package backoff

import (
	"math/rand/v2"
	"time"
)

// DefaultBase is the delay before the first reconnect attempt.
const DefaultBase = time.Second

// Policy is an exponential backoff: Base * 2^(attempt-1).
//
// Max caps the delay when non-zero. Jitter, when in (0, 1], spreads the
// delay uniformly over [d*(1-Jitter), d]; zero keeps Delay deterministic.
type Policy struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
}

// Default returns the deterministic 1s doubling policy.
func Default() Policy {
	return Policy{Base: DefaultBase}
}

// Delay returns the wait before reconnect attempt n (n >= 1). Attempts
// below 1 are treated as 1.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}

	d := base
	for i := 1; i < attempt; i++ {
		// Stop doubling before overflow; the cap below still applies.
		if d > time.Duration(1<<62)/2 {
			break
		}
		d *= 2
	}
	if p.Max > 0 && d > p.Max {
		d = p.Max
	}

	if p.Jitter > 0 {
		j := p.Jitter
		if j > 1 {
			j = 1
		}
		spread := time.Duration(float64(d) * j)
		if spread > 0 {
			d -= time.Duration(rand.Int64N(int64(spread) + 1))
		}
	}
	return d
}
