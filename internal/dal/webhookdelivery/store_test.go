package webhookdelivery

import (
	"testing"
	"time"
)

func TestBackoffClampsToMax(t *testing.T) {
	cases := []struct {
		attempt int
		max     time.Duration
		want    time.Duration
	}{
		{1, time.Minute, time.Second},
		{2, time.Minute, 2 * time.Second},
		{3, time.Minute, 4 * time.Second},
		{10, 30 * time.Second, 30 * time.Second},
		{0, time.Minute, time.Second},
	}
	for _, tc := range cases {
		got := backoff(tc.attempt, tc.max)
		if got != tc.want {
			t.Errorf("backoff(%d, %s) = %s, want %s", tc.attempt, tc.max, got, tc.want)
		}
	}
}

func TestDeliveryIsBrokerDelivered(t *testing.T) {
	broker := &Delivery{TargetLabels: nil}
	if !broker.IsBrokerDelivered() {
		t.Error("nil target labels should be broker-delivered")
	}
	agent := &Delivery{TargetLabels: []string{"env=prod"}}
	if agent.IsBrokerDelivered() {
		t.Error("non-empty target labels should not be broker-delivered")
	}
}
