package webhookdelivery

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/colliery-io/brokkr/internal/brokkrerrors"
	"github.com/colliery-io/brokkr/internal/dal/webhooksubscription"
)

var ErrClaimLost = errors.New("webhookdelivery: claim lost the race")

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store { return &Store{pool: pool} }

// Enqueue inserts one pending delivery row for sub, inside tx — always
// called from within the transaction that mutates the source entity, per
// spec.md §4.2's at-least-once publication guarantee. eventID is the
// idempotency key receivers may dedupe on.
func (s *Store) Enqueue(ctx context.Context, tx pgx.Tx, sub *webhooksubscription.Subscription, eventType string, data any) (*Delivery, error) {
	payload := map[string]any{
		"id":        uuid.NewString(),
		"type":      eventType,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"data":      data,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.Validation, "encode webhook payload failed", err)
	}

	d := &Delivery{
		ID:             uuid.NewString(),
		SubscriptionID: sub.ID,
		EventType:      eventType,
		EventID:        payload["id"].(string),
		Payload:        payloadJSON,
		TargetLabels:   sub.TargetLabels,
		Status:         StatusPending,
		CreatedAt:      time.Now().UTC(),
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO webhook_deliveries (id, subscription_id, event_type, event_id, payload, target_labels, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (subscription_id, event_id) DO NOTHING`,
		d.ID, d.SubscriptionID, d.EventType, d.EventID, d.Payload, nullStrings(d.TargetLabels), d.Status, d.CreatedAt)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "enqueue webhook delivery failed", err)
	}
	return d, nil
}

// Get returns a delivery by id, used by the HTTP boundary to resolve a
// delivery's owning subscription before recording a failure outcome.
func (s *Store) Get(ctx context.Context, id string) (*Delivery, error) {
	return scan(s.pool.QueryRow(ctx, selectCols+` FROM webhook_deliveries WHERE id = $1`, id))
}

// ClaimBrokerBatch claims up to batchSize pending, broker-delivered rows
// (target_labels IS NULL) whose retry time has passed, using `FOR UPDATE
// SKIP LOCKED` so concurrent dispatcher instances never block on or
// double-claim the same row — the Postgres-idiomatic strengthening of the
// teacher's single conditional-UPDATE claim for batch claiming without
// contention.
func (s *Store) ClaimBrokerBatch(ctx context.Context, claimantID string, leaseDuration time.Duration, batchSize int) ([]*Delivery, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "begin claim tx failed", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id FROM webhook_deliveries
		WHERE status = $1 AND target_labels IS NULL AND (next_retry_at IS NULL OR next_retry_at <= now())
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`, StatusPending, batchSize)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "select claimable deliveries failed", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "scan claimable delivery failed", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "iterate claimable deliveries failed", err)
	}
	if len(ids) == 0 {
		return nil, tx.Commit(ctx)
	}

	until := time.Now().UTC().Add(leaseDuration)
	updated, err := tx.Query(ctx, `
		UPDATE webhook_deliveries SET status = $1, acquired_by = $2, acquired_until = $3
		WHERE id = ANY($4)
		RETURNING `+returningClause(), StatusAcquired, claimantID, until, ids)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "claim deliveries failed", err)
	}
	defer updated.Close()

	var out []*Delivery
	for updated.Next() {
		d, err := scan(updated)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := updated.Err(); err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "iterate claimed deliveries failed", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "commit claim tx failed", err)
	}
	return out, nil
}

// ClaimForAgent claims one pending delivery for id whose target_labels (if
// set) is a subset of the agent's current label set — "first to claim
// wins", enforced by the WHERE status='pending' predicate on the
// conditional UPDATE (spec.md §4.6). Returns ErrClaimLost if another
// claimant won the race or the agent's labels no longer qualify.
func (s *Store) ClaimForAgent(ctx context.Context, id, agentID string, leaseDuration time.Duration) (*Delivery, error) {
	until := time.Now().UTC().Add(leaseDuration)
	row := s.pool.QueryRow(ctx, `
		UPDATE webhook_deliveries SET status = $1, acquired_by = $2, acquired_until = $3
		WHERE id = $4 AND status = $5
		AND (target_labels IS NULL OR target_labels <@ (
			SELECT coalesce(array_agg(label), '{}') FROM entity_labels WHERE entity_type = 'agent' AND entity_id = $2
		))
		RETURNING `+returningClause(), StatusAcquired, agentID, until, id, StatusPending)

	d, err := scan(row)
	if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, ErrNotFound) {
		return nil, ErrClaimLost
	}
	return d, err
}

// ListClaimableForAgent returns pending agent-delivered rows whose
// target_labels the agent currently qualifies for — used by the agent poll
// handler to discover candidates before calling ClaimForAgent.
func (s *Store) ListClaimableForAgent(ctx context.Context, agentID string, limit int) ([]*Delivery, error) {
	rows, err := s.pool.Query(ctx, selectCols+` FROM webhook_deliveries
		WHERE status = $1 AND target_labels IS NOT NULL
		AND target_labels <@ (
			SELECT coalesce(array_agg(label), '{}') FROM entity_labels WHERE entity_type = 'agent' AND entity_id = $2
		)
		ORDER BY created_at LIMIT $3`, StatusPending, agentID, limit)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "list claimable deliveries failed", err)
	}
	defer rows.Close()

	var out []*Delivery
	for rows.Next() {
		d, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Succeed transitions a delivery to success.
func (s *Store) Succeed(ctx context.Context, id string) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		UPDATE webhook_deliveries SET status = $1, completed_at = $2, last_attempt_at = $2, attempts = attempts + 1,
			acquired_by = NULL, acquired_until = NULL
		WHERE id = $3`, StatusSuccess, now, id)
	if err != nil {
		return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "mark delivery success failed", err)
	}
	return nil
}

// Fail records a failed attempt: retries with exponential backoff
// (1,2,4,8,16,... seconds, clamped to maxBackoff) while attempts <
// maxRetries, or dead-letters once exhausted.
func (s *Store) Fail(ctx context.Context, id string, maxRetries int, maxBackoff time.Duration, errMsg string) error {
	now := time.Now().UTC()

	var attempts int
	if err := s.pool.QueryRow(ctx, `SELECT attempts FROM webhook_deliveries WHERE id = $1`, id).Scan(&attempts); err != nil {
		return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "read delivery attempts failed", err)
	}
	attempts++

	if attempts >= maxRetries {
		_, err := s.pool.Exec(ctx, `
			UPDATE webhook_deliveries SET status = $1, attempts = $2, last_attempt_at = $3, last_error = $4,
				completed_at = $3, acquired_by = NULL, acquired_until = NULL
			WHERE id = $5`, StatusDead, attempts, now, errMsg, id)
		if err != nil {
			return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "dead-letter delivery failed", err)
		}
		return nil
	}

	delay := backoff(attempts, maxBackoff)
	nextRetry := now.Add(delay)
	_, err := s.pool.Exec(ctx, `
		UPDATE webhook_deliveries SET status = $1, attempts = $2, last_attempt_at = $3, next_retry_at = $4,
			last_error = $5, acquired_by = NULL, acquired_until = NULL
		WHERE id = $6`, StatusPending, attempts, now, nextRetry, errMsg, id)
	if err != nil {
		return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "schedule delivery retry failed", err)
	}
	return nil
}

// MarkDead force-dead-letters a delivery without incrementing attempts —
// used when a subscription's secret cannot be decrypted at all (spec.md
// §4.6 Fatal Integrity), which this implementation extends to every
// pending/acquired delivery of the affected subscription (see DESIGN.md's
// Open Question resolution).
func (s *Store) MarkDead(ctx context.Context, id, reason string) error {
	now := time.Now().UTC()
	_, err := s.pool.Exec(ctx, `
		UPDATE webhook_deliveries SET status = $1, last_error = $2, completed_at = $3, acquired_by = NULL, acquired_until = NULL
		WHERE id = $4`, StatusDead, reason, now, id)
	if err != nil {
		return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "mark delivery dead failed", err)
	}
	return nil
}

// MarkAllDeadForSubscription dead-letters every pending/acquired delivery
// belonging to subscriptionID — called when the subscription's own
// ciphertext cannot be decrypted, since no individual delivery attempt can
// succeed until the secret is replaced.
func (s *Store) MarkAllDeadForSubscription(ctx context.Context, subscriptionID, reason string) (int64, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_deliveries SET status = $1, last_error = $2, completed_at = $3, acquired_by = NULL, acquired_until = NULL
		WHERE subscription_id = $4 AND status IN ($5, $6)`,
		StatusDead, reason, now, subscriptionID, StatusPending, StatusAcquired)
	if err != nil {
		return 0, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "mark subscription deliveries dead failed", err)
	}
	return tag.RowsAffected(), nil
}

// SweepExpiredLeases resets rows whose lease has expired back to pending —
// the background sweeper described in spec.md §4.6.
func (s *Store) SweepExpiredLeases(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_deliveries SET status = $1, acquired_by = NULL, acquired_until = NULL
		WHERE status = $2 AND acquired_until < now()`, StatusPending, StatusAcquired)
	if err != nil {
		return 0, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "sweep expired leases failed", err)
	}
	return tag.RowsAffected(), nil
}

// PurgeOld deletes success/dead deliveries older than retention.
func (s *Store) PurgeOld(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-retention)
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM webhook_deliveries WHERE status IN ($1, $2) AND completed_at < $3`,
		StatusSuccess, StatusDead, cutoff)
	if err != nil {
		return 0, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "purge webhook deliveries failed", err)
	}
	return tag.RowsAffected(), nil
}

// ListForSubscription returns deliveries for a subscription, newest first.
func (s *Store) ListForSubscription(ctx context.Context, subscriptionID string, limit int) ([]*Delivery, error) {
	rows, err := s.pool.Query(ctx, selectCols+` FROM webhook_deliveries WHERE subscription_id = $1 ORDER BY created_at DESC LIMIT $2`,
		subscriptionID, limit)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "list deliveries failed", err)
	}
	defer rows.Close()

	var out []*Delivery
	for rows.Next() {
		d, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Retry manually resets a failed/dead delivery back to pending — the
// "webhook deliveries: list per subscription; manual retry" operation from
// spec.md §6.
func (s *Store) Retry(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE webhook_deliveries SET status = $1, next_retry_at = NULL, last_error = ''
		WHERE id = $2 AND status IN ($3, $4)`, StatusPending, id, StatusFailed, StatusDead)
	if err != nil {
		return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "retry delivery failed", err)
	}
	if tag.RowsAffected() == 0 {
		return brokkrerrors.New(brokkrerrors.NotFound, "delivery not found or not retryable")
	}
	return nil
}

// backoff implements the exponential sequence from spec.md §4.6:
// 1,2,4,8,16,... seconds, clamped to maxBackoff.
func backoff(attempt int, maxBackoff time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(math.Pow(2, float64(attempt-1))) * time.Second
	if maxBackoff > 0 && delay > maxBackoff {
		return maxBackoff
	}
	return delay
}

const selectCols = `SELECT id, subscription_id, event_type, event_id, payload, target_labels, status, acquired_by,
	acquired_until, attempts, last_attempt_at, next_retry_at, last_error, completed_at, created_at`

func returningClause() string {
	return `id, subscription_id, event_type, event_id, payload, target_labels, status, acquired_by,
	acquired_until, attempts, last_attempt_at, next_retry_at, last_error, completed_at, created_at`
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(row scanner) (*Delivery, error) {
	var d Delivery
	err := row.Scan(&d.ID, &d.SubscriptionID, &d.EventType, &d.EventID, &d.Payload, &d.TargetLabels, &d.Status,
		&d.AcquiredBy, &d.AcquiredUntil, &d.Attempts, &d.LastAttemptAt, &d.NextRetryAt, &d.LastError, &d.CompletedAt, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "scan webhook delivery failed", err)
	}
	return &d, nil
}

func nullStrings(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
