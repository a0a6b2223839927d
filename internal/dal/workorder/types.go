// Package workorder is the data-access layer for the active half of the
// two-table work queue (spec.md §3, §4.4): `work_orders` holds the small,
// frequently-contended working set, while completed/dead rows move to
// internal/dal/workorderlog's append-only history so audit queries never
// contend with claim traffic. Grounded on the teacher's
// internal/controlplane/jobs/store.go (claim-by-conditional-UPDATE,
// move-to-history-on-terminal-state) generalized from a single-node SQLite
// job runner to a multi-agent Postgres work queue.
package workorder

import "time"

type Status string

const (
	StatusPending      Status = "pending"
	StatusClaimed      Status = "claimed"
	StatusRetryPending Status = "retry_pending"
)

type WorkOrder struct {
	ID                 string
	WorkType           string
	YAMLContent        []byte
	Status             Status
	ClaimedBy          *string
	ClaimedAt          *time.Time
	ClaimTimeoutSeconds int
	RetryCount         int
	MaxRetries         int
	BackoffSeconds     int
	NextRetryAfter     *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type CreateParams struct {
	WorkType            string
	YAMLContent         []byte
	ClaimTimeoutSeconds int
	MaxRetries          int
	BackoffSeconds      int
	TargetAgentIDs      []string // resolved targeting set, materialized at creation and immutable thereafter
}
