// Package deploymentobject is the data-access layer for the Deployment
// Object entity (spec.md §3, §4.2): an immutable, append-only snapshot of
// desired state for one stack, identified by a strictly increasing,
// gap-free per-stack sequence id. Grounded on the teacher's
// internal/controlplane/jobs sequence-allocation-under-lock pattern
// (claim-by-conditional-UPDATE generalized here to a row-lock + max+1
// allocation inside one transaction) and on fleet.Store's split between
// typed entity and Postgres-backed persistence.
package deploymentobject

import "time"

type ApplicationStatus string

const (
	ApplicationPending ApplicationStatus = "pending"
	ApplicationApplied ApplicationStatus = "applied"
	ApplicationFailed  ApplicationStatus = "failed"
)

// DeploymentObject is an immutable snapshot of desired state for one stack.
type DeploymentObject struct {
	ID              string
	StackID         string
	SequenceID      int64
	YAMLContent     []byte
	YAMLChecksum    string // hex SHA-256 of YAMLContent
	IsDeletionMarker bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// Application is one agent's outcome record for a deployment object.
type Application struct {
	DeploymentObjectID string
	AgentID            string
	Status             ApplicationStatus
	AppliedAt          *time.Time
	ErrorDetail        string
}
