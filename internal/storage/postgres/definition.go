package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"github.com/example/approvalflow/internal/domain"
)

type definitionRepo struct {
	tx *sqlx.Tx
}

func (r *definitionRepo) Create(ctx context.Context, def *domain.WorkflowDefinition) error {
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO workflow_definitions (id, name, description, created_at, created_by, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, def.ID, def.Name, def.Description,
		def.CreatedAt, def.CreatedBy, def.UpdatedAt, def.UpdatedBy)
	if err != nil {
		return err
	}

	for pos, step := range def.Steps {
		var maxMinutes, order sql.NullInt64
		var autoApprove bool
		if step.TimeLimit != nil {
			maxMinutes = sql.NullInt64{Int64: int64(step.TimeLimit.MaxMinutes), Valid: true}
			autoApprove = step.TimeLimit.AutoApproveOnThreshold
		}
		if step.Order != nil {
			order = sql.NullInt64{Int64: int64(*step.Order), Valid: true}
		}

		if _, err := r.tx.ExecContext(ctx, `
			INSERT INTO step_definitions (id, definition_id, position, name, description, step_order,
				max_minutes, auto_approve, approved_next_step_id, rejected_next_step_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, step.ID, def.ID, pos, step.Name, step.Description, order,
			maxMinutes, autoApprove, nullString(step.ApprovedNextStepID), nullString(step.RejectedNextStepID)); err != nil {
			return err
		}

		for _, role := range step.RequiredRoles {
			if _, err := r.tx.ExecContext(ctx, `
				INSERT INTO step_required_roles (definition_id, step_id, role_id) VALUES ($1, $2, $3)
			`, def.ID, step.ID, role.ID); err != nil {
				return err
			}
		}
	}

	return nil
}

func (r *definitionRepo) Get(ctx context.Context, id string) (*domain.WorkflowDefinition, error) {
	return r.getWhere(ctx, "id = $1", id)
}

func (r *definitionRepo) GetByName(ctx context.Context, name string) (*domain.WorkflowDefinition, error) {
	return r.getWhere(ctx, "name = $1", name)
}

func (r *definitionRepo) getWhere(ctx context.Context, where string, arg any) (*domain.WorkflowDefinition, error) {
	var row definitionRow
	err := r.tx.GetContext(ctx, &row, `
		SELECT id, name, description, created_at, created_by, updated_at, updated_by
		FROM workflow_definitions WHERE `+where, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	def := &domain.WorkflowDefinition{
		ID:          row.ID,
		Name:        row.Name,
		Description: row.Description,
		Audit:       row.auditColumns.toDomain(),
	}
	if err := r.loadSteps(ctx, def); err != nil {
		return nil, err
	}
	return def, nil
}

func (r *definitionRepo) List(ctx context.Context) ([]*domain.WorkflowDefinition, error) {
	var rows []definitionRow
	if err := r.tx.SelectContext(ctx, &rows, `
		SELECT id, name, description, created_at, created_by, updated_at, updated_by
		FROM workflow_definitions ORDER BY name
	`); err != nil {
		return nil, err
	}

	defs := make([]*domain.WorkflowDefinition, 0, len(rows))
	for _, row := range rows {
		def := &domain.WorkflowDefinition{
			ID:          row.ID,
			Name:        row.Name,
			Description: row.Description,
			Audit:       row.auditColumns.toDomain(),
		}
		if err := r.loadSteps(ctx, def); err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (r *definitionRepo) loadSteps(ctx context.Context, def *domain.WorkflowDefinition) error {
	var stepRows []stepDefinitionRow
	if err := r.tx.SelectContext(ctx, &stepRows, `
		SELECT id, name, description, step_order, max_minutes, auto_approve, approved_next_step_id, rejected_next_step_id
		FROM step_definitions WHERE definition_id = $1
		ORDER BY position
	`, def.ID); err != nil {
		return err
	}

	def.Steps = make([]domain.StepDefinition, 0, len(stepRows))
	for _, row := range stepRows {
		def.Steps = append(def.Steps, row.toDomain())
	}

	var roleRows []stepRoleRow
	if err := r.tx.SelectContext(ctx, &roleRows, `
		SELECT srr.step_id, r.id, r.name, r.description, r.created_at, r.created_by, r.updated_at, r.updated_by
		FROM step_required_roles srr
		JOIN roles r ON r.id = srr.role_id
		WHERE srr.definition_id = $1
		ORDER BY r.name
	`, def.ID); err != nil {
		return err
	}

	for _, row := range roleRows {
		if step := def.Step(row.StepID); step != nil {
			step.RequiredRoles = append(step.RequiredRoles, row.roleRow.toDomain())
		}
	}
	return nil
}
