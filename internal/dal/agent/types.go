// Package agent is the data-access layer for the Agent entity (spec.md
// §3). Modeled on the teacher's internal/controlplane/fleet package split
// (types + store), generalized from an in-memory/SQLite fleet registry to a
// Postgres-backed one.
package agent

import "time"

type Status string

const (
	StatusRegistered Status = "registered"
	StatusActive     Status = "active"
	StatusInactive   Status = "inactive"
)

// Agent is a process reconciling one Kubernetes cluster.
type Agent struct {
	ID              string
	Name            string
	ClusterName     string
	Status          Status
	LastHeartbeatAt *time.Time
	PAKHash         string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// CreateParams are the fields a caller supplies; ID/timestamps are
// generated by the store.
type CreateParams struct {
	Name        string
	ClusterName string
	PAKHash     string
}
