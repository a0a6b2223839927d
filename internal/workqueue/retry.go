package workqueue

import (
	"math"
	"time"
)

// nextRetryDelay implements spec.md §4.4, §9's retry backoff property:
// base * 2^(failedAttempt-1), clamped to maxBackoff. Ported from the
// teacher's jobs.resolvedRetryPolicy.nextRetryDelay, with the policy
// resolution step dropped since Brokkr's backoff base is per-work-order
// (backoff_seconds) rather than per-job-definition.
func nextRetryDelay(base time.Duration, failedAttempt int, maxBackoff time.Duration) time.Duration {
	if failedAttempt < 1 {
		failedAttempt = 1
	}
	delay := time.Duration(float64(base) * math.Pow(2, float64(failedAttempt-1)))
	if delay <= 0 {
		delay = base
	}
	if maxBackoff > 0 && delay > maxBackoff {
		return maxBackoff
	}
	return delay
}
