// Package workorderlog is the append-only completion history for the work
// queue (spec.md §3, §4.4): a row written exactly once, when a work order
// leaves the active work_orders table for good (success or permanent
// failure). Never soft-deleted; aged out by a retention purge. Grounded on
// the teacher's internal/controlplane/jobs/store.go run-history table.
package workorderlog

import "time"

type Entry struct {
	ID               string
	WorkType         string
	YAMLContent      []byte
	CreatedAt        time.Time
	ClaimedAt        *time.Time
	CompletedAt      time.Time
	ClaimedBy        *string
	Success          bool
	RetriesAttempted int
	ResultMessage    string
}
