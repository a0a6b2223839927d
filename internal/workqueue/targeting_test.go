package workqueue

import (
	"context"
	"sort"
	"testing"
)

func TestResolveAgentTargetsDedupesExplicitIDs(t *testing.T) {
	spec := TargetSpec{ExplicitAgentIDs: []string{"a", "b", "a"}}
	ids, err := ResolveAgentTargets(context.Background(), nil, nil, spec)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sort.Strings(ids)
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("expected deduped [a b], got %v", ids)
	}
}

func TestResolveAgentTargetsEmptySpec(t *testing.T) {
	ids, err := ResolveAgentTargets(context.Background(), nil, nil, TargetSpec{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty result, got %v", ids)
	}
}
