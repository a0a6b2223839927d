package reaper

import (
	"context"
	"testing"
	"time"
)

func TestStartStopWithNoTasksConfiguredReturnsImmediately(t *testing.T) {
	r := New(nil, nil, nil, Config{}, nil)

	done := make(chan struct{})
	go func() {
		r.Start(context.Background())
		r.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Start/Stop with an empty config should not block")
	}
}

func TestInvalidCronExpressionIsSkippedNotFatal(t *testing.T) {
	r := New(nil, nil, nil, Config{RetentionPurgeCronExpr: "not a cron expression"}, nil)

	done := make(chan struct{})
	go func() {
		r.Start(context.Background())
		r.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("invalid cron expression should log and skip, not block Start/Stop")
	}
}
