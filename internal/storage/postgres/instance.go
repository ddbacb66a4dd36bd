package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/approvalflow/internal/domain"
	"github.com/example/approvalflow/internal/storage"
)

type instanceRepo struct {
	tx *sqlx.Tx
}

func (r *instanceRepo) Create(ctx context.Context, inst *domain.WorkflowInstance) error {
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO workflow_instances (id, definition_id, current_step_id, is_completed, started_at, ended_at,
			created_at, created_by, updated_at, updated_by, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, inst.ID, inst.DefinitionID, nullString(inst.CurrentStepID), inst.IsCompleted, inst.StartedAt, nullTime(inst.EndedAt),
		inst.CreatedAt, inst.CreatedBy, inst.UpdatedAt, inst.UpdatedBy, inst.Version)
	if err != nil {
		return err
	}

	for i := range inst.Steps {
		step := &inst.Steps[i]
		expiresAt, autoApprove := timeLimitColumns(step.TimeLimit)
		if _, err := r.tx.ExecContext(ctx, `
			INSERT INTO step_instances (id, instance_id, step_definition_id, position, resolution, expires_at, auto_approve)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, step.ID, inst.ID, step.StepDefinitionID, step.Position, int(step.Resolution), expiresAt, autoApprove); err != nil {
			return err
		}
		if err := r.insertApprovals(ctx, step); err != nil {
			return err
		}
	}
	return nil
}

func (r *instanceRepo) Get(ctx context.Context, id string) (*domain.WorkflowInstance, error) {
	var row instanceRow
	err := r.tx.GetContext(ctx, &row, `
		SELECT id, definition_id, current_step_id, is_completed, started_at, ended_at,
			created_at, created_by, updated_at, updated_by, version
		FROM workflow_instances WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	inst := row.toDomain()

	var stepRows []stepInstanceRow
	if err := r.tx.SelectContext(ctx, &stepRows, `
		SELECT id, step_definition_id, position, resolution, expires_at, auto_approve
		FROM step_instances WHERE instance_id = $1
		ORDER BY position
	`, inst.ID); err != nil {
		return nil, err
	}
	inst.Steps = make([]domain.StepInstance, 0, len(stepRows))
	for _, sr := range stepRows {
		inst.Steps = append(inst.Steps, sr.toDomain())
	}

	var approvalRows []approvalRow
	if err := r.tx.SelectContext(ctx, &approvalRows, `
		SELECT a.id, a.step_instance_id, a.decision, a.actor, a.comments, a.decided_at
		FROM step_approvals a
		JOIN step_instances s ON s.id = a.step_instance_id
		WHERE s.instance_id = $1
		ORDER BY a.id
	`, inst.ID); err != nil {
		return nil, err
	}
	for _, ar := range approvalRows {
		if step := inst.Step(ar.StepInstanceID); step != nil {
			step.Approvals = append(step.Approvals, ar.toDomain())
		}
	}

	return inst, nil
}

func (r *instanceRepo) Update(ctx context.Context, inst *domain.WorkflowInstance) error {
	result, err := r.tx.ExecContext(ctx, `
		UPDATE workflow_instances
		SET current_step_id = $1, is_completed = $2, ended_at = $3, updated_at = $4, updated_by = $5, version = version + 1
		WHERE id = $6 AND version = $7
	`, nullString(inst.CurrentStepID), inst.IsCompleted, nullTime(inst.EndedAt), inst.UpdatedAt, inst.UpdatedBy,
		inst.ID, inst.Version)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrConcurrentModify
	}

	for i := range inst.Steps {
		step := &inst.Steps[i]
		expiresAt, autoApprove := timeLimitColumns(step.TimeLimit)
		if _, err := r.tx.ExecContext(ctx, `
			UPDATE step_instances SET resolution = $1, expires_at = $2, auto_approve = $3
			WHERE id = $4 AND instance_id = $5
		`, int(step.Resolution), expiresAt, autoApprove, step.ID, inst.ID); err != nil {
			return err
		}
		if err := r.insertApprovals(ctx, step); err != nil {
			return err
		}
	}

	inst.Version++
	return nil
}

func (r *instanceRepo) insertApprovals(ctx context.Context, step *domain.StepInstance) error {
	for i := range step.Approvals {
		a := &step.Approvals[i]
		if a.ID != 0 {
			continue
		}
		if err := r.tx.QueryRowxContext(ctx, `
			INSERT INTO step_approvals (step_instance_id, decision, actor, comments, decided_at)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, step.ID, int(a.Decision), a.Actor, a.Comments, a.DecidedAt).Scan(&a.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r *instanceRepo) List(ctx context.Context, opts storage.ListOptions) ([]*domain.WorkflowInstance, error) {
	var query strings.Builder
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	query.WriteString(`SELECT id FROM workflow_instances WHERE TRUE`)
	if opts.DefinitionID != "" {
		query.WriteString(` AND definition_id = ` + arg(opts.DefinitionID))
	}
	if opts.Completed != nil {
		query.WriteString(` AND is_completed = ` + arg(*opts.Completed))
	}
	query.WriteString(` ORDER BY started_at, id`)
	if opts.Limit > 0 {
		query.WriteString(` LIMIT ` + arg(opts.Limit) + ` OFFSET ` + arg(opts.Offset))
	}

	var ids []string
	if err := r.tx.SelectContext(ctx, &ids, query.String(), args...); err != nil {
		return nil, err
	}

	instances := make([]*domain.WorkflowInstance, 0, len(ids))
	for _, id := range ids {
		inst, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

func (r *instanceRepo) ListExpired(ctx context.Context, now time.Time) ([]string, error) {
	var ids []string
	err := r.tx.SelectContext(ctx, &ids, `
		SELECT wi.id
		FROM workflow_instances wi
		JOIN step_instances si ON si.id = wi.current_step_id
		WHERE NOT wi.is_completed
			AND si.resolution = $1
			AND si.expires_at IS NOT NULL
			AND si.expires_at <= $2
		ORDER BY si.expires_at, wi.id
	`, int(domain.ResolutionPending), now.UTC())
	return ids, err
}

func (r *instanceRepo) NextExpiration(ctx context.Context, now time.Time) (*time.Time, error) {
	var next sql.NullTime
	err := r.tx.GetContext(ctx, &next, `
		SELECT MIN(si.expires_at)
		FROM workflow_instances wi
		JOIN step_instances si ON si.id = wi.current_step_id
		WHERE NOT wi.is_completed
			AND si.resolution = $1
			AND si.expires_at > $2
	`, int(domain.ResolutionPending), now.UTC())
	if err != nil {
		return nil, err
	}
	if !next.Valid {
		return nil, nil
	}
	t := next.Time.UTC()
	return &t, nil
}
