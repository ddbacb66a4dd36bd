package sqlite

import (
	"context"
	"database/sql"

	"github.com/example/approvalflow/internal/domain"
)

type definitionRepo struct {
	tx *sql.Tx
}

func (r *definitionRepo) Create(ctx context.Context, def *domain.WorkflowDefinition) error {
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO workflow_definitions (id, name, description, created_at, created_by, updated_at, updated_by)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, def.ID, def.Name, def.Description,
		def.CreatedAt, def.CreatedBy, def.UpdatedAt, def.UpdatedBy)
	if err != nil {
		return err
	}

	for pos, step := range def.Steps {
		var maxMinutes sql.NullInt64
		var autoApprove bool
		if step.TimeLimit != nil {
			maxMinutes = sql.NullInt64{Int64: int64(step.TimeLimit.MaxMinutes), Valid: true}
			autoApprove = step.TimeLimit.AutoApproveOnThreshold
		}
		var order sql.NullInt64
		if step.Order != nil {
			order = sql.NullInt64{Int64: int64(*step.Order), Valid: true}
		}

		_, err := r.tx.ExecContext(ctx, `
			INSERT INTO step_definitions (id, definition_id, position, name, description, step_order,
				max_minutes, auto_approve, approved_next_step_id, rejected_next_step_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, step.ID, def.ID, pos, step.Name, step.Description, order,
			maxMinutes, autoApprove, nullString(step.ApprovedNextStepID), nullString(step.RejectedNextStepID))
		if err != nil {
			return err
		}

		for _, role := range step.RequiredRoles {
			if _, err := r.tx.ExecContext(ctx, `
				INSERT INTO step_required_roles (definition_id, step_id, role_id) VALUES (?, ?, ?)
			`, def.ID, step.ID, role.ID); err != nil {
				return err
			}
		}
	}

	return nil
}

func (r *definitionRepo) Get(ctx context.Context, id string) (*domain.WorkflowDefinition, error) {
	return r.getWhere(ctx, "id = ?", id)
}

func (r *definitionRepo) GetByName(ctx context.Context, name string) (*domain.WorkflowDefinition, error) {
	return r.getWhere(ctx, "name = ?", name)
}

func (r *definitionRepo) getWhere(ctx context.Context, where string, arg any) (*domain.WorkflowDefinition, error) {
	row := r.tx.QueryRowContext(ctx, `
		SELECT id, name, description, created_at, created_by, updated_at, updated_by
		FROM workflow_definitions WHERE `+where, arg)

	def := &domain.WorkflowDefinition{}
	err := row.Scan(&def.ID, &def.Name, &def.Description,
		&def.CreatedAt, &def.CreatedBy, &def.UpdatedAt, &def.UpdatedBy)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := r.loadSteps(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

func (r *definitionRepo) List(ctx context.Context) ([]*domain.WorkflowDefinition, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT id, name, description, created_at, created_by, updated_at, updated_by
		FROM workflow_definitions ORDER BY name
	`)
	if err != nil {
		return nil, err
	}

	var defs []*domain.WorkflowDefinition
	for rows.Next() {
		def := &domain.WorkflowDefinition{}
		if err := rows.Scan(&def.ID, &def.Name, &def.Description,
			&def.CreatedAt, &def.CreatedBy, &def.UpdatedAt, &def.UpdatedBy); err != nil {
			rows.Close()
			return nil, err
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, def := range defs {
		if err := r.loadSteps(ctx, def); err != nil {
			return nil, err
		}
	}
	return defs, nil
}

func (r *definitionRepo) loadSteps(ctx context.Context, def *domain.WorkflowDefinition) error {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT id, name, description, step_order, max_minutes, auto_approve, approved_next_step_id, rejected_next_step_id
		FROM step_definitions WHERE definition_id = ?
		ORDER BY position
	`, def.ID)
	if err != nil {
		return err
	}

	var steps []domain.StepDefinition
	for rows.Next() {
		var step domain.StepDefinition
		var order, maxMinutes sql.NullInt64
		var autoApprove bool
		var approvedNext, rejectedNext sql.NullString

		if err := rows.Scan(&step.ID, &step.Name, &step.Description, &order, &maxMinutes, &autoApprove,
			&approvedNext, &rejectedNext); err != nil {
			rows.Close()
			return err
		}
		if order.Valid {
			o := int(order.Int64)
			step.Order = &o
		}
		if maxMinutes.Valid {
			step.TimeLimit = &domain.TimeLimitConfig{
				MaxMinutes:             int(maxMinutes.Int64),
				AutoApproveOnThreshold: autoApprove,
			}
		}
		step.ApprovedNextStepID = approvedNext.String
		step.RejectedNextStepID = rejectedNext.String
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()
	def.Steps = steps

	roleRows, err := r.tx.QueryContext(ctx, `
		SELECT srr.step_id, r.id, r.name, r.description, r.created_at, r.created_by, r.updated_at, r.updated_by
		FROM step_required_roles srr
		JOIN roles r ON r.id = srr.role_id
		WHERE srr.definition_id = ?
		ORDER BY r.name
	`, def.ID)
	if err != nil {
		return err
	}
	defer roleRows.Close()

	for roleRows.Next() {
		var stepID string
		var role domain.Role
		if err := roleRows.Scan(&stepID, &role.ID, &role.Name, &role.Description,
			&role.CreatedAt, &role.CreatedBy, &role.UpdatedAt, &role.UpdatedBy); err != nil {
			return err
		}
		if step := def.Step(stepID); step != nil {
			step.RequiredRoles = append(step.RequiredRoles, role)
		}
	}
	return roleRows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
