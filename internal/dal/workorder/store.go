package workorder

import (
	"context"
	"errors"
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

// Create inserts the work order row and materializes its resolved target
// set into work_order_targets — immutable after this call, per spec.md
// §4.4's targeting rule.
func (s *Store) Create(ctx context.Context, p CreateParams) (*WorkOrder, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "begin create work order tx failed", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	wo := &WorkOrder{
		ID:                  uuid.NewString(),
		WorkType:            p.WorkType,
		YAMLContent:         p.YAMLContent,
		Status:              StatusPending,
		ClaimTimeoutSeconds: p.ClaimTimeoutSeconds,
		MaxRetries:          p.MaxRetries,
		BackoffSeconds:      p.BackoffSeconds,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO work_orders (id, work_type, yaml_content, status, claim_timeout_seconds, retry_count, max_retries, backoff_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $8)`,
		wo.ID, wo.WorkType, wo.YAMLContent, wo.Status, wo.ClaimTimeoutSeconds, wo.MaxRetries, wo.BackoffSeconds, now)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "insert work order failed", err)
	}

	for _, agentID := range p.TargetAgentIDs {
		if _, err := tx.Exec(ctx, `INSERT INTO work_order_targets (work_order_id, agent_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, wo.ID, agentID); err != nil {
			return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "insert work order target failed", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "commit create work order tx failed", err)
	}
	return wo, nil
}

func (s *Store) Get(ctx context.Context, id string) (*WorkOrder, error) {
	return scanOne(s.pool.QueryRow(ctx, selectCols+` FROM work_orders WHERE id = $1`, id))
}

func (s *Store) List(ctx context.Context) ([]*WorkOrder, error) {
	rows, err := s.pool.Query(ctx, selectCols+` FROM work_orders ORDER BY created_at`)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "list work orders failed", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// ListPendingForAgent returns pending work orders of workType targeting
// agentID, in creation order.
func (s *Store) ListPendingForAgent(ctx context.Context, agentID, workType string) ([]*WorkOrder, error) {
	rows, err := s.pool.Query(ctx, selectColsAliased()+`
		FROM work_orders wo
		JOIN work_order_targets t ON t.work_order_id = wo.id
		WHERE t.agent_id = $1 AND wo.work_type = $2 AND wo.status = $3
		ORDER BY wo.created_at`, agentID, workType, StatusPending)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "list pending work orders failed", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// Claim executes the conditional UPDATE from spec.md §4.4: at most one
// claimant can ever win the race on a given row, since the predicate
// requires status='pending' and the agent to be in the row's target set.
func (s *Store) Claim(ctx context.Context, id, agentID string) (*WorkOrder, error) {
	now := time.Now().UTC()
	row := s.pool.QueryRow(ctx, `
		UPDATE work_orders SET status = $1, claimed_by = $2, claimed_at = $3, updated_at = $3
		WHERE id = $4 AND status = $5
		AND $2 IN (SELECT agent_id FROM work_order_targets WHERE work_order_id = $4)
		RETURNING `+returningClause(), StatusClaimed, agentID, now, id, StatusPending)

	wo, err := scanOne(row)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrClaimLost
	}
	return wo, err
}

// Retry transitions a claimed work order to retry_pending with the next
// backoff deadline, or returns (nil, true) to signal the caller should
// move the row to the log as a permanent failure instead.
func (s *Store) Retry(ctx context.Context, id, agentID string, delay time.Duration) (*WorkOrder, permanentFailure bool, err error) {
	wo, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if wo.ClaimedBy == nil || *wo.ClaimedBy != agentID {
		return nil, false, ErrNotClaimed
	}

	nextCount := wo.RetryCount + 1
	if nextCount >= wo.MaxRetries {
		return nil, true, nil
	}

	now := time.Now().UTC()
	nextRetry := now.Add(delay)
	row := s.pool.QueryRow(ctx, `
		UPDATE work_orders SET status = $1, retry_count = $2, next_retry_after = $3, claimed_by = NULL, claimed_at = NULL, updated_at = $4
		WHERE id = $5
		RETURNING `+returningClause(), StatusRetryPending, nextCount, nextRetry, now, id)
	updated, err := scanOne(row)
	return updated, false, err
}

// Delete removes the row from work_orders — called by the orchestration
// layer once the outcome has been durably written to work_order_log.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM work_orders WHERE id = $1`, id)
	if err != nil {
		return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "delete work order failed", err)
	}
	return nil
}

// DeleteTx is Delete run inside a caller-supplied transaction, so the
// workqueue orchestrator can move a row to work_order_log atomically.
func (s *Store) DeleteTx(ctx context.Context, tx pgx.Tx, id string) error {
	_, err := tx.Exec(ctx, `DELETE FROM work_orders WHERE id = $1`, id)
	if err != nil {
		return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "delete work order failed", err)
	}
	return nil
}

// Pool exposes the underlying pool so the workqueue orchestrator can open
// the shared transaction that spans Store and workorderlog.Store calls.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// PromoteRetryPending transitions retry_pending rows whose backoff has
// elapsed back to pending — the "retry promoter" background task.
func (s *Store) PromoteRetryPending(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE work_orders SET status = $1, updated_at = now()
		WHERE status = $2 AND next_retry_after <= now()`, StatusPending, StatusRetryPending)
	if err != nil {
		return 0, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "promote retry pending work orders failed", err)
	}
	return tag.RowsAffected(), nil
}

// ReapStaleClaims resets claims that outlived their claim_timeout_seconds —
// idempotent, safe for multiple reapers to run concurrently (spec.md §4.4).
func (s *Store) ReapStaleClaims(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE work_orders SET status = $1, claimed_by = NULL, claimed_at = NULL, updated_at = now()
		WHERE status = $2 AND claimed_at + (claim_timeout_seconds || ' seconds')::interval < now()`,
		StatusPending, StatusClaimed)
	if err != nil {
		return 0, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "reap stale work order claims failed", err)
	}
	return tag.RowsAffected(), nil
}

const selectCols = `SELECT id, work_type, yaml_content, status, claimed_by, claimed_at, claim_timeout_seconds,
	retry_count, max_retries, backoff_seconds, next_retry_after, created_at, updated_at`

func selectColsAliased() string {
	return `SELECT wo.id, wo.work_type, wo.yaml_content, wo.status, wo.claimed_by, wo.claimed_at, wo.claim_timeout_seconds,
	wo.retry_count, wo.max_retries, wo.backoff_seconds, wo.next_retry_after, wo.created_at, wo.updated_at`
}

func returningClause() string {
	return `id, work_type, yaml_content, status, claimed_by, claimed_at, claim_timeout_seconds,
	retry_count, max_retries, backoff_seconds, next_retry_after, created_at, updated_at`
}

type scanner interface {
	Scan(dest ...any) error
}

type rowsScanner interface {
	scanner
	Next() bool
	Err() error
}

func scanOne(row scanner) (*WorkOrder, error) {
	var wo WorkOrder
	err := row.Scan(&wo.ID, &wo.WorkType, &wo.YAMLContent, &wo.Status, &wo.ClaimedBy, &wo.ClaimedAt, &wo.ClaimTimeoutSeconds,
		&wo.RetryCount, &wo.MaxRetries, &wo.BackoffSeconds, &wo.NextRetryAfter, &wo.CreatedAt, &wo.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "scan work order failed", err)
	}
	return &wo, nil
}

func scanAll(rows rowsScanner) ([]*WorkOrder, error) {
	var out []*WorkOrder
	for rows.Next() {
		wo, err := scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wo)
	}
	return out, rows.Err()
}
