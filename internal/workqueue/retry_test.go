package workqueue

import (
	"testing"
	"time"
)

func TestNextRetryDelayMatchesExponentialFormula(t *testing.T) {
	base := 5 * time.Second
	cases := []struct {
		failedAttempt int
		want          time.Duration
	}{
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{4, 40 * time.Second},
	}
	for _, tc := range cases {
		got := nextRetryDelay(base, tc.failedAttempt, 0)
		if got != tc.want {
			t.Errorf("nextRetryDelay(%s, %d) = %s, want %s", base, tc.failedAttempt, got, tc.want)
		}
	}
}

func TestNextRetryDelayClampsToMax(t *testing.T) {
	got := nextRetryDelay(5*time.Second, 10, 30*time.Second)
	if got != 30*time.Second {
		t.Errorf("expected clamp to 30s, got %s", got)
	}
}
