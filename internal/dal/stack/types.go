// Package stack is the data-access layer for the Stack entity (spec.md
// §3): a logical grouping of related Kubernetes resources, owned by an
// admin (nil owner) or a generator.
package stack

import "time"

type Stack struct {
	ID                string
	Name              string
	Description       string
	OwningGeneratorID *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	DeletedAt         *time.Time
}

type CreateParams struct {
	Name              string
	Description       string
	OwningGeneratorID *string
}
