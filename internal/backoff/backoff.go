package backoff

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Policy names accepted by Compute. Unknown names fall back to full jitter,
// the safest choice against synchronized retry bursts.
const (
	PolicyFixed          = "fixed"
	PolicyLinear         = "linear"
	PolicyExponential    = "exponential"
	PolicyExpEqualJitter = "exp_equal_jitter"
	PolicyExpFullJitter  = "exp_full_jitter"
)

// ValidPolicy reports whether name is one of the known policies.
func ValidPolicy(name string) bool {
	switch name {
	case PolicyFixed, PolicyLinear, PolicyExponential, PolicyExpEqualJitter, PolicyExpFullJitter:
		return true
	}
	return false
}

// Compute returns a delay based on attempts and policy.
// attempts is expected to be >= 0.
func Compute(policy string, base, max time.Duration, attempts int, rng *rand.Rand) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if base <= 0 {
		base = time.Second
	}
	if max <= 0 {
		max = base
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	switch policy {
	case PolicyFixed:
		return minDur(base, max)
	case PolicyLinear:
		n := attempts
		if n < 1 {
			n = 1
		}
		return minDur(base*time.Duration(n), max)
	case PolicyExponential:
		return minDur(expDelay(base, attempts), max)
	case PolicyExpEqualJitter:
		d := minDur(expDelay(base, attempts), max)
		half := d / 2
		return half + time.Duration(rng.Int63n(int64(half)+1))
	default: // exp_full_jitter
		d := minDur(expDelay(base, attempts), max)
		if d <= 0 {
			return 0
		}
		return time.Duration(rng.Int63n(int64(d) + 1))
	}
}

// lockedSource serializes draws from an underlying source. Services hand one
// jitter source to every worker goroutine, and rand.Rand on its own is not
// safe for concurrent use.
type lockedSource struct {
	mu  sync.Mutex
	src rand.Source
}

func (s *lockedSource) Int63() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Int63()
}

func (s *lockedSource) Seed(seed int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.src.Seed(seed)
}

// NewLockedRand returns a rand.Rand that may be shared across goroutines.
func NewLockedRand(seed int64) *rand.Rand {
	return rand.New(&lockedSource{src: rand.NewSource(seed)})
}

// expDelay is base doubled attempts times, saturating instead of
// overflowing for large attempt counts.
func expDelay(base time.Duration, attempts int) time.Duration {
	f := float64(base) * math.Pow(2, float64(attempts))
	if f >= float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(f)
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
