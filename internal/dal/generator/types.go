// Package generator is the data-access layer for the Generator entity
// (spec.md §3): a non-admin principal permitted to create stacks and
// deployment objects. Same shape as internal/dal/agent, without heartbeat.
package generator

import "time"

type Generator struct {
	ID          string
	Name        string
	Description string
	PAKHash     string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeletedAt   *time.Time
}

type CreateParams struct {
	Name        string
	Description string
	PAKHash     string
}
