// Package workqueue orchestrates the transient work-order lifecycle on top
// of the internal/dal/workorder and internal/dal/workorderlog stores:
// targeting resolution at creation, claim, completion/failure with
// exponential backoff (the background reaper ticks live in
// internal/reaper). Grounded on the
// teacher's internal/controlplane/jobs package (scheduler.go's ticker
// shape, retry.go's backoff formula, store.go's claim-then-move-to-history
// pattern), generalized from a single-process SQLite runner to a
// multi-agent Postgres work queue.
package workqueue

import (
	"context"

	"github.com/colliery-io/brokkr/internal/dal/annotation"
	"github.com/colliery-io/brokkr/internal/dal/label"
)

// TargetSpec is the targeting criteria accepted at work order creation
// time: explicit agent ids, OR'd with agents matching any
// of Labels, OR'd with agents matching all of Annotations. Resolved once
// and materialized; immutable thereafter (spec.md §3 Work Order Targets).
type TargetSpec struct {
	ExplicitAgentIDs []string
	Labels           []string
	Annotations      []annotation.Annotation
}

// ResolveAgentTargets computes the OR-across-methods union described in
// spec.md §4.4's targeting rule.
func ResolveAgentTargets(ctx context.Context, labels *label.Store, annotations *annotation.Store, spec TargetSpec) ([]string, error) {
	seen := make(map[string]struct{})
	add := func(ids []string) {
		for _, id := range ids {
			seen[id] = struct{}{}
		}
	}

	add(spec.ExplicitAgentIDs)

	if len(spec.Labels) > 0 {
		ids, err := labels.MatchingAny(ctx, label.EntityAgent, spec.Labels)
		if err != nil {
			return nil, err
		}
		add(ids)
	}

	if len(spec.Annotations) > 0 {
		ids, err := annotations.MatchingAll(ctx, annotation.EntityAgent, spec.Annotations)
		if err != nil {
			return nil, err
		}
		add(ids)
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	return out, nil
}
