package deploymentobject

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/colliery-io/brokkr/internal/brokkrerrors"
	"github.com/colliery-io/brokkr/internal/dal/webhookdelivery"
	"github.com/colliery-io/brokkr/internal/dal/webhooksubscription"
)

const uniqueViolation = "23505"

type Store struct {
	pool       *pgxpool.Pool
	subs       *webhooksubscription.Store
	deliveries *webhookdelivery.Store
}

func New(pool *pgxpool.Pool, subs *webhooksubscription.Store, deliveries *webhookdelivery.Store) *Store {
	return &Store{pool: pool, subs: subs, deliveries: deliveries}
}

// Checksum returns the hex SHA-256 of yamlContent — the canonical form
// every persisted row must match, per spec.md §3's checksum invariant.
func Checksum(yamlContent []byte) string {
	sum := sha256.Sum256(yamlContent)
	return hex.EncodeToString(sum[:])
}

// Create allocates the next sequence id for stackID and inserts the new
// deployment object, all inside one transaction that row-locks the stack
// first — serializing concurrent creates for the same stack so sequence
// ids stay strictly increasing and gap-free (spec.md §4.2, §9 Sequence
// monotonicity property) — then enqueues deployment.created webhook
// deliveries for every matching subscription inside that same transaction,
// satisfying the at-least-once publication guarantee.
func (s *Store) Create(ctx context.Context, stackID string, yamlContent []byte, providedChecksum string, isDeletionMarker bool) (*DeploymentObject, error) {
	checksum := Checksum(yamlContent)
	if providedChecksum != "" && providedChecksum != checksum {
		return nil, ErrChecksumMismatch
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "begin create deployment object tx failed", err)
	}
	defer tx.Rollback(ctx)

	var stackExists bool
	err = tx.QueryRow(ctx, `SELECT true FROM stacks WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`, stackID).Scan(&stackExists)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, brokkrerrors.New(brokkrerrors.NotFound, "stack not found")
	}
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "lock stack for sequence allocation failed", err)
	}

	var nextSeq int64
	err = tx.QueryRow(ctx, `
		SELECT coalesce(max(sequence_id), 0) + 1 FROM deployment_objects
		WHERE stack_id = $1 AND deleted_at IS NULL`, stackID).Scan(&nextSeq)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "allocate sequence id failed", err)
	}

	now := time.Now().UTC()
	obj := &DeploymentObject{
		ID:               uuid.NewString(),
		StackID:          stackID,
		SequenceID:       nextSeq,
		YAMLContent:      yamlContent,
		YAMLChecksum:     checksum,
		IsDeletionMarker: isDeletionMarker,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO deployment_objects (id, stack_id, sequence_id, yaml_content, yaml_checksum, is_deletion_marker, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
		obj.ID, obj.StackID, obj.SequenceID, obj.YAMLContent, obj.YAMLChecksum, obj.IsDeletionMarker, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, brokkrerrors.New(brokkrerrors.Conflict, "sequence allocation collided, retry")
		}
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "insert deployment object failed", err)
	}

	if err := s.publish(ctx, tx, "deployment.created", "", stackID, obj); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "commit create deployment object tx failed", err)
	}
	return obj, nil
}

func (s *Store) Get(ctx context.Context, id string) (*DeploymentObject, error) {
	return scanOne(s.pool.QueryRow(ctx, selectCols+` FROM deployment_objects WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (s *Store) ListForStack(ctx context.Context, stackID string) ([]*DeploymentObject, error) {
	rows, err := s.pool.Query(ctx, selectCols+` FROM deployment_objects WHERE stack_id = $1 AND deleted_at IS NULL ORDER BY sequence_id`, stackID)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "list deployment objects failed", err)
	}
	defer rows.Close()

	var out []*DeploymentObject
	for rows.Next() {
		obj, err := scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, rows.Err()
}

// ListPendingForAgent returns, for every stack agentID is targeted at, the
// lowest-sequence deployment object that agent has not yet successfully
// applied — one candidate per stack, preserving the strictly-increasing
// per-stack apply order from spec.md §4.3.
func (s *Store) ListPendingForAgent(ctx context.Context, agentID string) ([]*DeploymentObject, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (do.stack_id) `+selectColsAliased()+`
		FROM deployment_objects do
		JOIN agent_targets t ON t.stack_id = do.stack_id AND t.agent_id = $1
		LEFT JOIN deployment_object_applications doa
			ON doa.deployment_object_id = do.id AND doa.agent_id = $1 AND doa.status = $2
		WHERE do.deleted_at IS NULL AND doa.deployment_object_id IS NULL
		ORDER BY do.stack_id, do.sequence_id ASC`, agentID, ApplicationApplied)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "list pending deployment objects failed", err)
	}
	defer rows.Close()

	var out []*DeploymentObject
	for rows.Next() {
		obj, err := scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, rows.Err()
}

// RecordApplication upserts the agent's outcome for a deployment object and
// enqueues the corresponding deployment.applied/deployment.failed webhook
// deliveries, inside one transaction (spec.md §4.3, §4.2).
func (s *Store) RecordApplication(ctx context.Context, objID, agentID string, status ApplicationStatus, errDetail string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "begin record application tx failed", err)
	}
	defer tx.Rollback(ctx)

	var stackID string
	if err := tx.QueryRow(ctx, `SELECT stack_id FROM deployment_objects WHERE id = $1 AND deleted_at IS NULL`, objID).Scan(&stackID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "lookup deployment object failed", err)
	}

	now := time.Now().UTC()
	_, err = tx.Exec(ctx, `
		INSERT INTO deployment_object_applications (deployment_object_id, agent_id, status, applied_at, error_detail)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (deployment_object_id, agent_id) DO UPDATE SET
			status = EXCLUDED.status, applied_at = EXCLUDED.applied_at, error_detail = EXCLUDED.error_detail`,
		objID, agentID, status, now, errDetail)
	if err != nil {
		return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "record application failed", err)
	}

	eventType := "deployment.applied"
	if status == ApplicationFailed {
		eventType = "deployment.failed"
	}

	obj, err := scanOne(tx.QueryRow(ctx, selectCols+` FROM deployment_objects WHERE id = $1`, objID))
	if err != nil {
		return err
	}
	if err := s.publish(ctx, tx, eventType, agentID, stackID, obj); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "commit record application tx failed", err)
	}
	return nil
}

func (s *Store) publish(ctx context.Context, tx pgx.Tx, eventType, agentID, stackID string, obj *DeploymentObject) error {
	matches, err := s.subs.MatchingEvent(ctx, tx, eventType, agentID, stackID)
	if err != nil {
		return err
	}
	payload := map[string]any{
		"deployment_object_id": obj.ID,
		"stack_id":             obj.StackID,
		"sequence_id":          obj.SequenceID,
		"is_deletion_marker":   obj.IsDeletionMarker,
	}
	for _, sub := range matches {
		if _, err := s.deliveries.Enqueue(ctx, tx, sub, eventType, payload); err != nil {
			return err
		}
	}
	return nil
}

const selectCols = `SELECT id, stack_id, sequence_id, yaml_content, yaml_checksum, is_deletion_marker, created_at, updated_at, deleted_at`

func selectColsAliased() string {
	return `do.id, do.stack_id, do.sequence_id, do.yaml_content, do.yaml_checksum, do.is_deletion_marker, do.created_at, do.updated_at, do.deleted_at`
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row scanner) (*DeploymentObject, error) {
	var obj DeploymentObject
	err := row.Scan(&obj.ID, &obj.StackID, &obj.SequenceID, &obj.YAMLContent, &obj.YAMLChecksum, &obj.IsDeletionMarker, &obj.CreatedAt, &obj.UpdatedAt, &obj.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "scan deployment object failed", err)
	}
	return &obj, nil
}
