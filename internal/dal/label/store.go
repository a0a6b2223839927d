// Package label implements the many-to-one label attachment used by
// agents, stacks, and templates (spec.md §3). Labels are string tokens with
// no whitespace, attached via a single polymorphic join table
// (entity_labels) keyed by (entity_type, entity_id, label) — grounded on
// the teacher's fleet.Store tag handling (ListByTag, TagCounts) generalized
// from a single fixed entity type (probes) to any of Brokkr's taggable
// entities.
package label

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/colliery-io/brokkr/internal/brokkrerrors"
)

type EntityType string

const (
	EntityAgent    EntityType = "agent"
	EntityStack    EntityType = "stack"
	EntityTemplate EntityType = "template"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

// Validate rejects labels containing whitespace, per spec.md §3.
func Validate(label string) error {
	if label == "" || strings.ContainsAny(label, " \t\n\r") {
		return brokkrerrors.New(brokkrerrors.Validation, "label must be non-empty and contain no whitespace")
	}
	return nil
}

// Add is idempotent: re-adding the same (entity, label) pair returns
// success without change, per spec.md §4.2 / §8 "Idempotent label add".
func (s *Store) Add(ctx context.Context, entityType EntityType, entityID, label string) error {
	if err := Validate(label); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entity_labels (id, entity_type, entity_id, label, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entity_type, entity_id, label) DO NOTHING`,
		uuid.NewString(), entityType, entityID, label, time.Now().UTC())
	if err != nil {
		return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "add label failed", err)
	}
	return nil
}

// Remove deletes a label if present; removing an absent label is a no-op.
func (s *Store) Remove(ctx context.Context, entityType EntityType, entityID, label string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM entity_labels WHERE entity_type = $1 AND entity_id = $2 AND label = $3`,
		entityType, entityID, label)
	if err != nil {
		return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "remove label failed", err)
	}
	return nil
}

// List returns all labels for entityID.
func (s *Store) List(ctx context.Context, entityType EntityType, entityID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT label FROM entity_labels WHERE entity_type = $1 AND entity_id = $2 ORDER BY label`,
		entityType, entityID)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "list labels failed", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "scan label failed", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// MatchingAny returns the distinct entity ids of entityType that carry at
// least one of labels — the OR-across-listed-labels rule this
// implementation picked for targeting (spec.md §9 Open Question,
// DESIGN.md).
func (s *Store) MatchingAny(ctx context.Context, entityType EntityType, labels []string) ([]string, error) {
	if len(labels) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT entity_id FROM entity_labels WHERE entity_type = $1 AND label = ANY($2)`,
		entityType, labels)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "match labels failed", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "scan match failed", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// HasAll reports whether entityID carries every label in required.
func (s *Store) HasAll(ctx context.Context, entityType EntityType, entityID string, required []string) (bool, error) {
	if len(required) == 0 {
		return true, nil
	}
	var count int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM entity_labels WHERE entity_type = $1 AND entity_id = $2 AND label = ANY($3)`,
		entityType, entityID, required).Scan(&count)
	if err != nil {
		return false, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "check labels failed", err)
	}
	return count == len(required), nil
}
