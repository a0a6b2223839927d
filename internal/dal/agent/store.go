package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/colliery-io/brokkr/internal/brokkrerrors"
)

const uniqueViolation = "23505"

// Store persists agents in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

// Create inserts a new agent in status "registered".
func (s *Store) Create(ctx context.Context, p CreateParams) (*Agent, error) {
	now := time.Now().UTC()
	a := &Agent{
		ID:          uuid.NewString(),
		Name:        p.Name,
		ClusterName: p.ClusterName,
		Status:      StatusRegistered,
		PAKHash:     p.PAKHash,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO agents (id, name, cluster_name, status, pak_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.Name, a.ClusterName, a.Status, a.PAKHash, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrAlreadyExists
		}
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "create agent failed", err)
	}
	return a, nil
}

// Get returns a non-deleted agent by id.
func (s *Store) Get(ctx context.Context, id string) (*Agent, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, cluster_name, status, last_heartbeat_at, pak_hash, created_at, updated_at, deleted_at
		FROM agents WHERE id = $1 AND deleted_at IS NULL`, id)
	return scanAgent(row)
}

// List returns all non-deleted agents.
func (s *Store) List(ctx context.Context) ([]*Agent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, cluster_name, status, last_heartbeat_at, pak_hash, created_at, updated_at, deleted_at
		FROM agents WHERE deleted_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "list agents failed", err)
	}
	defer rows.Close()

	var out []*Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Update changes an agent's name and cluster_name.
func (s *Store) Update(ctx context.Context, id, name, clusterName string) (*Agent, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE agents SET name = $1, cluster_name = $2, updated_at = now()
		WHERE id = $3 AND deleted_at IS NULL
		RETURNING id, name, cluster_name, status, last_heartbeat_at, pak_hash, created_at, updated_at, deleted_at`,
		name, clusterName, id)
	return scanAgent(row)
}

// Heartbeat updates last_heartbeat_at and flips status to active. Per
// spec.md §4.2: "a single UPDATE with WHERE id = ?; missed heartbeats are
// not retried — the next heartbeat wins" — no optimistic lock, no retry
// loop.
func (s *Store) Heartbeat(ctx context.Context, id string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents SET last_heartbeat_at = $1, status = $2, updated_at = $1
		WHERE id = $3 AND deleted_at IS NULL`, now, StatusActive, id)
	if err != nil {
		return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "heartbeat failed", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkInactive flips any agent whose last heartbeat is older than
// threshold to "inactive". Intended to be called from a background task,
// not per-request.
func (s *Store) MarkInactive(ctx context.Context, threshold time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-threshold)
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents SET status = $1, updated_at = now()
		WHERE deleted_at IS NULL AND status = $2 AND (last_heartbeat_at IS NULL OR last_heartbeat_at < $3)`,
		StatusInactive, StatusActive, cutoff)
	if err != nil {
		return 0, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "mark inactive failed", err)
	}
	return tag.RowsAffected(), nil
}

// SoftDelete marks an agent deleted; it remains readable by id for audit
// joins but disappears from List/Get and loses its name/pak_hash uniqueness
// claim.
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE agents SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "delete agent failed", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// LookupByPAKHash satisfies internal/auth.HashLookup.
func (s *Store) LookupByPAKHash(ctx context.Context, hash string) (string, bool, error) {
	var id string
	err := s.pool.QueryRow(ctx, `SELECT id FROM agents WHERE pak_hash = $1 AND deleted_at IS NULL`, hash).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup agent by pak hash: %w", err)
	}
	return id, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAgent(row scanner) (*Agent, error) {
	var a Agent
	err := row.Scan(&a.ID, &a.Name, &a.ClusterName, &a.Status, &a.LastHeartbeatAt, &a.PAKHash, &a.CreatedAt, &a.UpdatedAt, &a.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "scan agent failed", err)
	}
	return &a, nil
}
