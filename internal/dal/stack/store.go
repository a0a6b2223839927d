package stack

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/colliery-io/brokkr/internal/brokkrerrors"
)

const uniqueViolation = "23505"

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

func (s *Store) Create(ctx context.Context, p CreateParams) (*Stack, error) {
	now := time.Now().UTC()
	st := &Stack{
		ID:                uuid.NewString(),
		Name:              p.Name,
		Description:       p.Description,
		OwningGeneratorID: p.OwningGeneratorID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO stacks (id, name, description, owning_generator_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		st.ID, st.Name, st.Description, st.OwningGeneratorID, st.CreatedAt, st.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrAlreadyExists
		}
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "create stack failed", err)
	}
	return st, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Stack, error) {
	return scanOne(s.pool.QueryRow(ctx, `
		SELECT id, name, description, owning_generator_id, created_at, updated_at, deleted_at
		FROM stacks WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (s *Store) List(ctx context.Context) ([]*Stack, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, owning_generator_id, created_at, updated_at, deleted_at
		FROM stacks WHERE deleted_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "list stacks failed", err)
	}
	defer rows.Close()

	var out []*Stack
	for rows.Next() {
		st, err := scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) Update(ctx context.Context, id, description string) (*Stack, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE stacks SET description = $1, updated_at = now() WHERE id = $2 AND deleted_at IS NULL`,
		description, id)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "update stack failed", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

func (s *Store) SoftDelete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE stacks SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "delete stack failed", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AddTarget creates an (agent, stack) target row, idempotently.
func (s *Store) AddTarget(ctx context.Context, agentID, stackID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_targets (agent_id, stack_id, created_at) VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING`, agentID, stackID, time.Now().UTC())
	if err != nil {
		return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "add target failed", err)
	}
	return nil
}

// RemoveTarget deletes an (agent, stack) target row.
func (s *Store) RemoveTarget(ctx context.Context, agentID, stackID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM agent_targets WHERE agent_id = $1 AND stack_id = $2`, agentID, stackID)
	if err != nil {
		return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "remove target failed", err)
	}
	return nil
}

// ListTargetAgents returns the ids of agents targeted at stackID.
func (s *Store) ListTargetAgents(ctx context.Context, stackID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT agent_id FROM agent_targets WHERE stack_id = $1`, stackID)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "list target agents failed", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "scan target failed", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListTargetStacks returns the ids of stacks agentID is targeted at — used
// by the GET /agents/{id}/targets handler.
func (s *Store) ListTargetStacks(ctx context.Context, agentID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT stack_id FROM agent_targets WHERE agent_id = $1`, agentID)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "list target stacks failed", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "scan target failed", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row scanner) (*Stack, error) {
	var st Stack
	err := row.Scan(&st.ID, &st.Name, &st.Description, &st.OwningGeneratorID, &st.CreatedAt, &st.UpdatedAt, &st.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "scan stack failed", err)
	}
	return &st, nil
}
