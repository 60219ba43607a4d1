package stage

import "time"

const (
	backoffBase = 25 * time.Millisecond
	backoffCap  = 250 * time.Millisecond
)

// backoffDelay is the pause before fallback attempt number attempt
// (1-based; the primary attempt never waits). It is a pure function of
// the attempt number and the remaining budget: exponential growth,
// capped, and never more than a quarter of the time still available.
func backoffDelay(attempt int, remaining time.Duration) time.Duration {
	if attempt <= 0 || remaining <= 0 {
		return 0
	}
	d := backoffBase << uint(attempt-1)
	if d > backoffCap {
		d = backoffCap
	}
	if quarter := remaining / 4; d > quarter {
		d = quarter
	}
	return d
}
