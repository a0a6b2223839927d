// Package annotation implements the many-to-one (key, value) annotation
// attachment used by agents, stacks, and templates (spec.md §3). Same
// polymorphic join-table shape as internal/dal/label, keyed by
// (entity_type, entity_id, key).
package annotation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/colliery-io/brokkr/internal/brokkrerrors"
	"github.com/colliery-io/brokkr/internal/dal/label"
)

type EntityType = label.EntityType

const (
	EntityAgent    = label.EntityAgent
	EntityStack    = label.EntityStack
	EntityTemplate = label.EntityTemplate
)

type Annotation struct {
	Key   string
	Value string
}

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

// Validate rejects keys containing whitespace, per spec.md §3.
func Validate(key string) error {
	if key == "" || strings.ContainsAny(key, " \t\n\r") {
		return brokkrerrors.New(brokkrerrors.Validation, "annotation key must be non-empty and contain no whitespace")
	}
	return nil
}

// Set is idempotent on (entity, key): a repeated Set with the same value
// returns success without change; a different value updates in place.
func (s *Store) Set(ctx context.Context, entityType EntityType, entityID, key, value string) error {
	if err := Validate(key); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO entity_annotations (id, entity_type, entity_id, key, value, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (entity_type, entity_id, key) DO UPDATE SET value = EXCLUDED.value`,
		uuid.NewString(), entityType, entityID, key, value, time.Now().UTC())
	if err != nil {
		return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "set annotation failed", err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, entityType EntityType, entityID, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM entity_annotations WHERE entity_type = $1 AND entity_id = $2 AND key = $3`,
		entityType, entityID, key)
	if err != nil {
		return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "remove annotation failed", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, entityType EntityType, entityID string) ([]Annotation, error) {
	rows, err := s.pool.Query(ctx, `SELECT key, value FROM entity_annotations WHERE entity_type = $1 AND entity_id = $2 ORDER BY key`,
		entityType, entityID)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "list annotations failed", err)
	}
	defer rows.Close()

	var out []Annotation
	for rows.Next() {
		var a Annotation
		if err := rows.Scan(&a.Key, &a.Value); err != nil {
			return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "scan annotation failed", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// MatchingAll returns the distinct entity ids of entityType that carry
// every (key, value) pair in required — the AND-across-listed-annotations
// rule this implementation picked for targeting (spec.md §9 Open
// Question, DESIGN.md).
func (s *Store) MatchingAll(ctx context.Context, entityType EntityType, required []Annotation) ([]string, error) {
	if len(required) == 0 {
		return nil, nil
	}

	keys := make([]string, len(required))
	values := make([]string, len(required))
	for i, a := range required {
		keys[i] = a.Key
		values[i] = a.Value
	}

	rows, err := s.pool.Query(ctx, `
		SELECT entity_id
		FROM entity_annotations
		WHERE entity_type = $1 AND (key, value) IN (SELECT unnest($2::text[]), unnest($3::text[]))
		GROUP BY entity_id
		HAVING count(*) = $4`,
		entityType, keys, values, len(required))
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "match annotations failed", err)
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
