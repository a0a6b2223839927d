package generator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/colliery-io/brokkr/internal/brokkrerrors"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

func (s *Store) Create(ctx context.Context, p CreateParams) (*Generator, error) {
	now := time.Now().UTC()
	g := &Generator{
		ID:          uuid.NewString(),
		Name:        p.Name,
		Description: p.Description,
		PAKHash:     p.PAKHash,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO generators (id, name, description, pak_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		g.ID, g.Name, g.Description, g.PAKHash, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "create generator failed", err)
	}
	return g, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Generator, error) {
	var g Generator
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, description, pak_hash, created_at, updated_at, deleted_at
		FROM generators WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&g.ID, &g.Name, &g.Description, &g.PAKHash, &g.CreatedAt, &g.UpdatedAt, &g.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "get generator failed", err)
	}
	return &g, nil
}

func (s *Store) List(ctx context.Context) ([]*Generator, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, description, pak_hash, created_at, updated_at, deleted_at
		FROM generators WHERE deleted_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "list generators failed", err)
	}
	defer rows.Close()

	var out []*Generator
	for rows.Next() {
		var g Generator
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.PAKHash, &g.CreatedAt, &g.UpdatedAt, &g.DeletedAt); err != nil {
			return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "scan generator failed", err)
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}

func (s *Store) SoftDelete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE generators SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "delete generator failed", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LookupByPAKHash satisfies internal/auth.HashLookup.
func (s *Store) LookupByPAKHash(ctx context.Context, hash string) (string, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx, `SELECT id FROM generators WHERE pak_hash = $1 AND deleted_at IS NULL`, hash).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup generator by pak hash: %w", err)
	}
	return id, true, nil
}
