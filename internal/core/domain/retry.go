package domain

import (
	"math"
	"math/rand"
	"time"
)

// Retry policy defaults, overridable per provider.
const (
	DefaultRetryBaseSeconds = 5
	DefaultRetryMaxSeconds  = 900
	DefaultRetryJitter      = 0.1
)

// RetryPolicy computes retry delays for failed jobs.
// Pure computation, no side effects beyond jitter sampling.
type RetryPolicy struct {
	BaseSeconds  int     `json:"base_seconds"`
	MaxSeconds   int     `json:"max_seconds"`
	JitterFactor float64 `json:"jitter_factor"`
}

// DefaultRetryPolicy returns the global defaults {5s, 900s, 0.1}.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseSeconds:  DefaultRetryBaseSeconds,
		MaxSeconds:   DefaultRetryMaxSeconds,
		JitterFactor: DefaultRetryJitter,
	}
}

// Delay computes the retry delay for a job on its given attempt count.
//
//	exp_backoff = min(base * 2^attempts, max)
//	effective   = max(hint, exp_backoff)
//	delay       = effective + uniform(0, jitter_factor * effective)
//
// hintSecs is a provider-supplied Retry-After (0 when absent); it always wins
// when larger than the exponential curve, so an authoritative wait time is
// never undercut.
func (p RetryPolicy) Delay(attempts int, hintSecs int) time.Duration {
	base := p.BaseSeconds
	if base <= 0 {
		base = DefaultRetryBaseSeconds
	}
	max := p.MaxSeconds
	if max <= 0 {
		max = DefaultRetryMaxSeconds
	}

	backoff := float64(base) * math.Pow(2, float64(attempts))
	if backoff > float64(max) {
		backoff = float64(max)
	}

	effective := backoff
	if float64(hintSecs) > effective {
		effective = float64(hintSecs)
	}

	jitter := rand.Float64() * p.JitterFactor * effective
	return time.Duration((effective + jitter) * float64(time.Second))
}
