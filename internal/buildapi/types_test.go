package buildapi

import (
	"testing"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func TestBuildRunStatusSucceeded(t *testing.T) {
	s := BuildRunStatus{Conditions: []metav1.Condition{
		{Type: ConditionSucceeded, Status: metav1.ConditionTrue},
	}}
	if !s.Succeeded() {
		t.Fatal("expected Succeeded() to be true")
	}
	if s.Failed() {
		t.Fatal("expected Failed() to be false")
	}
	if !s.Terminal() {
		t.Fatal("expected Terminal() to be true")
	}
}

func TestBuildRunStatusFailed(t *testing.T) {
	s := BuildRunStatus{Conditions: []metav1.Condition{
		{Type: ConditionSucceeded, Status: metav1.ConditionFalse, Message: "strategy not found"},
	}}
	if s.Succeeded() {
		t.Fatal("expected Succeeded() to be false")
	}
	if !s.Failed() {
		t.Fatal("expected Failed() to be true")
	}
	if s.FailureMessage() != "strategy not found" {
		t.Fatalf("unexpected failure message: %q", s.FailureMessage())
	}
}

func TestBuildRunStatusInProgressIsNotTerminal(t *testing.T) {
	s := BuildRunStatus{Conditions: []metav1.Condition{
		{Type: ConditionSucceeded, Status: metav1.ConditionUnknown},
	}}
	if s.Terminal() {
		t.Fatal("expected Terminal() to be false while condition status is Unknown")
	}
}

func TestBuildRunStatusNoConditionsIsNotTerminal(t *testing.T) {
	s := BuildRunStatus{}
	if s.Terminal() {
		t.Fatal("expected Terminal() to be false with no conditions at all")
	}
}
