package sqlite

import (
	"context"
	"database/sql"

	"github.com/example/approvalflow/internal/domain"
)

type roleRepo struct {
	tx *sql.Tx
}

func (r *roleRepo) Create(ctx context.Context, role *domain.Role) error {
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO roles (id, name, description, created_at, created_by, updated_at, updated_by)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, role.ID, role.Name, role.Description,
		role.CreatedAt, role.CreatedBy, role.UpdatedAt, role.UpdatedBy)
	return err
}

func (r *roleRepo) GetByName(ctx context.Context, name string) (*domain.Role, error) {
	row := r.tx.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, created_by, updated_at, updated_by
		FROM roles WHERE name = ?
	`, name)

	role := &domain.Role{}
	err := row.Scan(&role.ID, &role.Name, &role.Description,
		&role.CreatedAt, &role.CreatedBy, &role.UpdatedAt, &role.UpdatedBy)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return role, nil
}

func (r *roleRepo) List(ctx context.Context) ([]*domain.Role, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT id, name, description, created_at, created_by, updated_at, updated_by
		FROM roles ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*domain.Role
	for rows.Next() {
		role := &domain.Role{}
		if err := rows.Scan(&role.ID, &role.Name, &role.Description,
			&role.CreatedAt, &role.CreatedBy, &role.UpdatedAt, &role.UpdatedBy); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}
