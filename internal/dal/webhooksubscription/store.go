package webhooksubscription

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/colliery-io/brokkr/internal/brokkrerrors"
	brokkrcrypto "github.com/colliery-io/brokkr/internal/crypto"
)

var ErrNotFound = brokkrerrors.New(brokkrerrors.NotFound, "webhook subscription not found")

type Store struct {
	pool *pgxpool.Pool
	box  *brokkrcrypto.Box
}

func New(pool *pgxpool.Pool, box *brokkrcrypto.Box) *Store {
	return &Store{pool: pool, box: box}
}

func (s *Store) Create(ctx context.Context, p CreateParams) (*Subscription, error) {
	urlCipher, err := s.box.Seal([]byte(p.URL))
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.FatalIntegrity, "encrypt webhook url failed", err)
	}
	var authCipher []byte
	if p.AuthHeader != "" {
		authCipher, err = s.box.Seal([]byte(p.AuthHeader))
		if err != nil {
			return nil, brokkrerrors.Wrap(brokkrerrors.FatalIntegrity, "encrypt auth header failed", err)
		}
	}

	labelsJSON, err := json.Marshal(p.Filter.Labels)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.Validation, "encode filter labels failed", err)
	}

	now := time.Now().UTC()
	sub := &Subscription{
		ID:             uuid.NewString(),
		Name:           p.Name,
		URL:            p.URL,
		AuthHeader:     p.AuthHeader,
		EventPatterns:  p.EventPatterns,
		FilterLabels:   p.Filter.Labels,
		TargetLabels:   p.TargetLabels,
		Enabled:        true,
		MaxRetries:     p.MaxRetries,
		TimeoutSeconds: p.TimeoutSeconds,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if p.Filter.AgentID != "" {
		sub.FilterAgentID = &p.Filter.AgentID
	}
	if p.Filter.StackID != "" {
		sub.FilterStackID = &p.Filter.StackID
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO webhook_subscriptions
			(id, name, url_ciphertext, auth_header_ciphertext, event_patterns, filter_agent_id, filter_stack_id,
			 filter_labels, target_labels, enabled, max_retries, timeout_seconds, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, true, $10, $11, $12, $12)`,
		sub.ID, sub.Name, urlCipher, nullBytes(authCipher), sub.EventPatterns, sub.FilterAgentID, sub.FilterStackID,
		labelsJSON, nullStrings(sub.TargetLabels), sub.MaxRetries, sub.TimeoutSeconds, now)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "create webhook subscription failed", err)
	}
	return sub, nil
}

func (s *Store) Get(ctx context.Context, id string) (*Subscription, error) {
	return s.scan(ctx, s.pool.QueryRow(ctx, selectCols+` FROM webhook_subscriptions WHERE id = $1 AND deleted_at IS NULL`, id))
}

func (s *Store) List(ctx context.Context) ([]*Subscription, error) {
	rows, err := s.pool.Query(ctx, selectCols+` FROM webhook_subscriptions WHERE deleted_at IS NULL ORDER BY created_at`)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "list webhook subscriptions failed", err)
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		sub, err := s.scan(ctx, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *Store) SetEnabled(ctx context.Context, id string, enabled bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE webhook_subscriptions SET enabled = $1, updated_at = now() WHERE id = $2 AND deleted_at IS NULL`, enabled, id)
	if err != nil {
		return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "patch webhook subscription failed", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE webhook_subscriptions SET deleted_at = now(), updated_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "delete webhook subscription failed", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MatchingEvent returns every enabled, non-deleted subscription whose event
// patterns match eventType and whose optional agent id and stack id
// filters are satisfied. FilterLabels is not evaluated here: a
// subscription's label filter does not narrow the events it receives.
// Called from inside the same transaction
// that mutates the source entity, per spec.md §4.2's at-least-once
// publication guarantee.
func (s *Store) MatchingEvent(ctx context.Context, tx pgx.Tx, eventType, agentID, stackID string) ([]*Subscription, error) {
	rows, err := tx.Query(ctx, selectCols+` FROM webhook_subscriptions
		WHERE deleted_at IS NULL AND enabled = true
		AND (filter_agent_id IS NULL OR filter_agent_id = $1)
		AND (filter_stack_id IS NULL OR filter_stack_id = $2)`,
		nullString(agentID), nullString(stackID))
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "match webhook subscriptions failed", err)
	}
	defer rows.Close()

	var out []*Subscription
	for rows.Next() {
		sub, err := s.scan(ctx, rows)
		if err != nil {
			return nil, err
		}
		if sub.MatchesEvent(eventType) {
			out = append(out, sub)
		}
	}
	return out, rows.Err()
}

const selectCols = `SELECT id, name, url_ciphertext, auth_header_ciphertext, event_patterns, filter_agent_id,
	filter_stack_id, filter_labels, target_labels, enabled, max_retries, timeout_seconds, created_at, updated_at, deleted_at`

type scanner interface {
	Scan(dest ...any) error
}

func (s *Store) scan(ctx context.Context, row scanner) (*Subscription, error) {
	var (
		sub                       Subscription
		urlCipher, authCipher     []byte
		labelsJSON                []byte
	)
	err := row.Scan(&sub.ID, &sub.Name, &urlCipher, &authCipher, &sub.EventPatterns, &sub.FilterAgentID,
		&sub.FilterStackID, &labelsJSON, &sub.TargetLabels, &sub.Enabled, &sub.MaxRetries, &sub.TimeoutSeconds,
		&sub.CreatedAt, &sub.UpdatedAt, &sub.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "scan webhook subscription failed", err)
	}

	if len(labelsJSON) > 0 {
		_ = json.Unmarshal(labelsJSON, &sub.FilterLabels)
	}

	plainURL, err := s.box.Open(urlCipher)
	if err != nil {
		// Per spec.md §4.6, a decryption failure is Fatal Integrity, not a
		// transient retry — the caller (webhook dispatcher) is responsible
		// for marking affected deliveries dead; the DAL just propagates it.
		return nil, err
	}
	sub.URL = string(plainURL)

	if len(authCipher) > 0 {
		plainAuth, err := s.box.Open(authCipher)
		if err != nil {
			return nil, err
		}
		sub.AuthHeader = string(plainAuth)
	}

	return &sub, nil
}

func nullBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullStrings(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
