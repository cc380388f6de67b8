package retry

import (
	"math"
	"math/rand/v2"
	"time"
)

// Delay returns the wait before retry n (1-based). With Multiplier at most 1
// and no Jitter every retry waits Backoff.
func (p Policy) Delay(n int) time.Duration {
	if p.Backoff <= 0 {
		return 0
	}

	delay := float64(p.Backoff)
	if p.Multiplier > 1 && n > 1 {
		delay *= math.Pow(p.Multiplier, float64(n-1))
	}
	if p.MaxBackoff > 0 && delay > float64(p.MaxBackoff) {
		delay = float64(p.MaxBackoff)
	}

	// Jitter spreads the delay evenly over ±Jitter/2 of itself.
	if p.Jitter > 0 {
		spread := delay * p.Jitter
		delay += spread*rand.Float64() - spread/2
	}

	return time.Duration(max(delay, 0))
}
