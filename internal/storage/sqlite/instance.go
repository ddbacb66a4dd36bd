package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/example/approvalflow/internal/domain"
	"github.com/example/approvalflow/internal/storage"
)

type instanceRepo struct {
	tx *sql.Tx
}

func (r *instanceRepo) Create(ctx context.Context, inst *domain.WorkflowInstance) error {
	_, err := r.tx.ExecContext(ctx, `
		INSERT INTO workflow_instances (id, definition_id, current_step_id, is_completed, started_at, ended_at,
			created_at, created_by, updated_at, updated_by, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, inst.ID, inst.DefinitionID, nullString(inst.CurrentStepID), inst.IsCompleted, inst.StartedAt, nullTime(inst.EndedAt),
		inst.CreatedAt, inst.CreatedBy, inst.UpdatedAt, inst.UpdatedBy, inst.Version)
	if err != nil {
		return err
	}

	for i := range inst.Steps {
		step := &inst.Steps[i]
		expiresAt, autoApprove := timeLimitColumns(step.TimeLimit)
		_, err := r.tx.ExecContext(ctx, `
			INSERT INTO step_instances (id, instance_id, step_definition_id, position, resolution, expires_at, auto_approve)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, step.ID, inst.ID, step.StepDefinitionID, step.Position, step.Resolution, expiresAt, autoApprove)
		if err != nil {
			return err
		}
		if err := r.insertApprovals(ctx, step); err != nil {
			return err
		}
	}

	return nil
}

func (r *instanceRepo) Get(ctx context.Context, id string) (*domain.WorkflowInstance, error) {
	row := r.tx.QueryRowContext(ctx, `
		SELECT id, definition_id, current_step_id, is_completed, started_at, ended_at,
			created_at, created_by, updated_at, updated_by, version
		FROM workflow_instances WHERE id = ?
	`, id)

	inst := &domain.WorkflowInstance{}
	var currentStepID sql.NullString
	var endedAt sql.NullTime

	err := row.Scan(&inst.ID, &inst.DefinitionID, &currentStepID, &inst.IsCompleted, &inst.StartedAt, &endedAt,
		&inst.CreatedAt, &inst.CreatedBy, &inst.UpdatedAt, &inst.UpdatedBy, &inst.Version)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	inst.CurrentStepID = currentStepID.String
	if endedAt.Valid {
		t := endedAt.Time
		inst.EndedAt = &t
	}

	if err := r.loadSteps(ctx, inst); err != nil {
		return nil, err
	}
	return inst, nil
}

func (r *instanceRepo) loadSteps(ctx context.Context, inst *domain.WorkflowInstance) error {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT id, step_definition_id, position, resolution, expires_at, auto_approve
		FROM step_instances WHERE instance_id = ?
		ORDER BY position
	`, inst.ID)
	if err != nil {
		return err
	}

	var steps []domain.StepInstance
	for rows.Next() {
		var step domain.StepInstance
		var expiresAt sql.NullTime
		var autoApprove bool

		if err := rows.Scan(&step.ID, &step.StepDefinitionID, &step.Position, &step.Resolution,
			&expiresAt, &autoApprove); err != nil {
			rows.Close()
			return err
		}
		if expiresAt.Valid {
			step.TimeLimit = &domain.TimeLimit{
				ExpiresAt:              expiresAt.Time,
				AutoApproveOnThreshold: autoApprove,
			}
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()
	inst.Steps = steps

	approvalRows, err := r.tx.QueryContext(ctx, `
		SELECT a.id, a.step_instance_id, a.decision, a.actor, a.comments, a.decided_at
		FROM step_approvals a
		JOIN step_instances s ON s.id = a.step_instance_id
		WHERE s.instance_id = ?
		ORDER BY a.id
	`, inst.ID)
	if err != nil {
		return err
	}
	defer approvalRows.Close()

	for approvalRows.Next() {
		var stepID string
		var a domain.Approval
		if err := approvalRows.Scan(&a.ID, &stepID, &a.Decision, &a.Actor, &a.Comments, &a.DecidedAt); err != nil {
			return err
		}
		if step := inst.Step(stepID); step != nil {
			step.Approvals = append(step.Approvals, a)
		}
	}
	return approvalRows.Err()
}

func (r *instanceRepo) Update(ctx context.Context, inst *domain.WorkflowInstance) error {
	result, err := r.tx.ExecContext(ctx, `
		UPDATE workflow_instances
		SET current_step_id = ?, is_completed = ?, ended_at = ?, updated_at = ?, updated_by = ?, version = version + 1
		WHERE id = ? AND version = ?
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
			UPDATE step_instances SET resolution = ?, expires_at = ?, auto_approve = ?
			WHERE id = ? AND instance_id = ?
		`, step.Resolution, expiresAt, autoApprove, step.ID, inst.ID); err != nil {
			return err
		}
		if err := r.insertApprovals(ctx, step); err != nil {
			return err
		}
	}

	inst.Version++
	return nil
}

// insertApprovals persists approvals that have no ID yet.
func (r *instanceRepo) insertApprovals(ctx context.Context, step *domain.StepInstance) error {
	for i := range step.Approvals {
		a := &step.Approvals[i]
		if a.ID != 0 {
			continue
		}
		result, err := r.tx.ExecContext(ctx, `
			INSERT INTO step_approvals (step_instance_id, decision, actor, comments, decided_at)
			VALUES (?, ?, ?, ?, ?)
		`, step.ID, a.Decision, a.Actor, a.Comments, a.DecidedAt)
		if err != nil {
			return err
		}
		id, err := result.LastInsertId()
		if err != nil {
			return err
		}
		a.ID = id
	}
	return nil
}

func (r *instanceRepo) List(ctx context.Context, opts storage.ListOptions) ([]*domain.WorkflowInstance, error) {
	var query strings.Builder
	var args []any

	query.WriteString(`SELECT id FROM workflow_instances WHERE 1=1`)
	if opts.DefinitionID != "" {
		query.WriteString(` AND definition_id = ?`)
		args = append(args, opts.DefinitionID)
	}
	if opts.Completed != nil {
		query.WriteString(` AND is_completed = ?`)
		args = append(args, *opts.Completed)
	}
	query.WriteString(` ORDER BY started_at, id`)
	if opts.Limit > 0 {
		query.WriteString(` LIMIT ? OFFSET ?`)
		args = append(args, opts.Limit, opts.Offset)
	}

	ids, err := r.queryIDs(ctx, query.String(), args...)
	if err != nil {
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
	return r.queryIDs(ctx, `
		SELECT wi.id
		FROM workflow_instances wi
		JOIN step_instances si ON si.id = wi.current_step_id
		WHERE wi.is_completed = FALSE
			AND si.resolution = ?
			AND si.expires_at IS NOT NULL
			AND si.expires_at <= ?
		ORDER BY si.expires_at, wi.id
	`, domain.ResolutionPending, now.UTC())
}

func (r *instanceRepo) NextExpiration(ctx context.Context, now time.Time) (*time.Time, error) {
	row := r.tx.QueryRowContext(ctx, `
		SELECT si.expires_at
		FROM workflow_instances wi
		JOIN step_instances si ON si.id = wi.current_step_id
		WHERE wi.is_completed = FALSE
			AND si.resolution = ?
			AND si.expires_at IS NOT NULL
			AND si.expires_at > ?
		ORDER BY si.expires_at
		LIMIT 1
	`, domain.ResolutionPending, now.UTC())

	var next time.Time
	err := row.Scan(&next)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &next, nil
}

func (r *instanceRepo) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func timeLimitColumns(tl *domain.TimeLimit) (sql.NullTime, bool) {
	if tl == nil {
		return sql.NullTime{}, false
	}
	return sql.NullTime{Time: tl.ExpiresAt.UTC(), Valid: true}, tl.AutoApproveOnThreshold
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
