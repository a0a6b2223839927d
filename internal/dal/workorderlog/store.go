package workorderlog

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/colliery-io/brokkr/internal/brokkrerrors"
)

var ErrNotFound = brokkrerrors.New(brokkrerrors.NotFound, "work order log entry not found")

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

// Append writes the terminal record for a work order — called by the
// workqueue orchestrator inside the same transaction that deletes the row
// from work_orders, so the move is atomic.
func (s *Store) Append(ctx context.Context, tx pgx.Tx, e *Entry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO work_order_log
			(id, work_type, yaml_content, created_at, claimed_at, completed_at, claimed_by, success, retries_attempted, result_message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.ID, e.WorkType, e.YAMLContent, e.CreatedAt, e.ClaimedAt, e.CompletedAt, e.ClaimedBy, e.Success, e.RetriesAttempted, e.ResultMessage)
	if err != nil {
		return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "append work order log entry failed", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.pool.QueryRow(ctx, selectCols+` FROM work_order_log WHERE id = $1`, id)
	return scan(row)
}

func (s *Store) List(ctx context.Context, limit int) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx, selectCols+` FROM work_order_log ORDER BY completed_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "list work order log failed", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Purge deletes log entries completed before the retention cutoff.
func (s *Store) Purge(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	tag, err := s.pool.Exec(ctx, `DELETE FROM work_order_log WHERE completed_at < $1`, cutoff)
	if err != nil {
		return 0, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "purge work order log failed", err)
	}
	return tag.RowsAffected(), nil
}

const selectCols = `SELECT id, work_type, yaml_content, created_at, claimed_at, completed_at, claimed_by, success, retries_attempted, result_message`

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*Entry, error) {
	var e Entry
	err := row.Scan(&e.ID, &e.WorkType, &e.YAMLContent, &e.CreatedAt, &e.ClaimedAt, &e.CompletedAt, &e.ClaimedBy, &e.Success, &e.RetriesAttempted, &e.ResultMessage)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "scan work order log entry failed", err)
	}
	return &e, nil
}
