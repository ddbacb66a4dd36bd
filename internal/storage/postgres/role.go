package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/example/approvalflow/internal/domain"
)

type roleRepo struct {
	tx *sqlx.Tx
}

func (r *roleRepo) Create(ctx context.Context, role *domain.Role) error {
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO roles (id, name, description, created_at, created_by, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, role.ID, role.Name, role.Description,
		role.CreatedAt, role.CreatedBy, role.UpdatedAt, role.UpdatedBy)
	return err
}

func (r *roleRepo) GetByName(ctx context.Context, name string) (*domain.Role, error) {
	var row roleRow
	err := r.tx.GetContext(ctx, &row, `
		SELECT id, name, description, created_at, created_by, updated_at, updated_by
		FROM roles WHERE name = $1
	`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	role := row.toDomain()
	return &role, nil
}

func (r *roleRepo) List(ctx context.Context) ([]*domain.Role, error) {
	var rows []roleRow
	if err := r.tx.SelectContext(ctx, &rows, `
		SELECT id, name, description, created_at, created_by, updated_at, updated_by
		FROM roles ORDER BY name
	`); err != nil {
		return nil, err
	}

	roles := make([]*domain.Role, 0, len(rows))
	for _, row := range rows {
		role := row.toDomain()
		roles = append(roles, &role)
	}
	return roles, nil
}
