package lightclient

import (
	"math"
	"time"
)

// Backoff returns the delay before retry number attempt (0-based):
// base * multiplier^attempt capped at ceiling, plus jitter(jitterBound).
func Backoff(base time.Duration, attempt int, multiplier float64, ceiling time.Duration, jitterBound time.Duration, jitter func(time.Duration) time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if multiplier < 1 {
		multiplier = 1
	}
	d := float64(base) * math.Pow(multiplier, float64(attempt))
	if d > float64(ceiling) || math.IsInf(d, 0) {
		d = float64(ceiling)
	}
	delay := time.Duration(d)
	if jitter != nil && jitterBound > 0 {
		delay += jitter(jitterBound)
	}
	return delay
}
