package template

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

func (s *Store) Create(ctx context.Context, p CreateParams) (*Template, error) {
	tpl := &Template{
		ID:             uuid.NewString(),
		Name:           p.Name,
		Version:        p.Version,
		TextContent:    p.TextContent,
		ParamSchema:    p.ParamSchema,
		RequiredLabels: p.RequiredLabels,
		CreatedAt:      time.Now().UTC(),
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO templates (id, name, version, text_content, param_schema, required_labels, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		tpl.ID, tpl.Name, tpl.Version, tpl.TextContent, tpl.ParamSchema, nullStrings(tpl.RequiredLabels), tpl.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, ErrAlreadyExists
		}
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "create template failed", err)
	}
	return tpl, nil
}

const selectCols = `id, name, version, text_content, param_schema, required_labels, created_at, deleted_at`

func (s *Store) Get(ctx context.Context, id string) (*Template, error) {
	return scanOne(s.pool.QueryRow(ctx, `SELECT `+selectCols+` FROM templates WHERE id = $1 AND deleted_at IS NULL`, id))
}

// GetLatestVersion returns the highest-numbered non-deleted version of the
// named template.
func (s *Store) GetLatestVersion(ctx context.Context, name string) (*Template, error) {
	return scanOne(s.pool.QueryRow(ctx, `
		SELECT `+selectCols+` FROM templates
		WHERE name = $1 AND deleted_at IS NULL
		ORDER BY version DESC LIMIT 1`, name))
}

func (s *Store) List(ctx context.Context) ([]*Template, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+selectCols+` FROM templates WHERE deleted_at IS NULL ORDER BY name, version`)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "list templates failed", err)
	}
	defer rows.Close()

	var out []*Template
	for rows.Next() {
		tpl, err := scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

// ListVersions returns every non-deleted version of the named template,
// newest first.
func (s *Store) ListVersions(ctx context.Context, name string) ([]*Template, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+selectCols+` FROM templates
		WHERE name = $1 AND deleted_at IS NULL ORDER BY version DESC`, name)
	if err != nil {
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "list template versions failed", err)
	}
	defer rows.Close()

	var out []*Template
	for rows.Next() {
		tpl, err := scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

func (s *Store) SoftDelete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE templates SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return brokkrerrors.Wrap(brokkrerrors.TransientExternal, "delete template failed", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOne(row scanner) (*Template, error) {
	var tpl Template
	err := row.Scan(&tpl.ID, &tpl.Name, &tpl.Version, &tpl.TextContent, &tpl.ParamSchema,
		&tpl.RequiredLabels, &tpl.CreatedAt, &tpl.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, brokkrerrors.Wrap(brokkrerrors.TransientExternal, "scan template failed", err)
	}
	return &tpl, nil
}

func nullStrings(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
