package postgres

import (
	"database/sql"
	"time"

	"github.com/example/approvalflow/internal/domain"
)

type auditColumns struct {
	CreatedAt time.Time `db:"created_at"`
	CreatedBy string    `db:"created_by"`
	UpdatedAt time.Time `db:"updated_at"`
	UpdatedBy string    `db:"updated_by"`
}

func (a auditColumns) toDomain() domain.Audit {
	return domain.Audit{
		CreatedAt: a.CreatedAt.UTC(),
		CreatedBy: a.CreatedBy,
		UpdatedAt: a.UpdatedAt.UTC(),
		UpdatedBy: a.UpdatedBy,
	}
}

type roleRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	auditColumns
}

func (r roleRow) toDomain() domain.Role {
	return domain.Role{ID: r.ID, Name: r.Name, Description: r.Description, Audit: r.auditColumns.toDomain()}
}

type definitionRow struct {
	ID          string `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	auditColumns
}

type stepDefinitionRow struct {
	ID                 string         `db:"id"`
	Name               string         `db:"name"`
	Description        string         `db:"description"`
	StepOrder          sql.NullInt64  `db:"step_order"`
	MaxMinutes         sql.NullInt64  `db:"max_minutes"`
	AutoApprove        bool           `db:"auto_approve"`
	ApprovedNextStepID sql.NullString `db:"approved_next_step_id"`
	RejectedNextStepID sql.NullString `db:"rejected_next_step_id"`
}

func (r stepDefinitionRow) toDomain() domain.StepDefinition {
	step := domain.StepDefinition{
		ID:                 r.ID,
		Name:               r.Name,
		Description:        r.Description,
		ApprovedNextStepID: r.ApprovedNextStepID.String,
		RejectedNextStepID: r.RejectedNextStepID.String,
	}
	if r.StepOrder.Valid {
		o := int(r.StepOrder.Int64)
		step.Order = &o
	}
	if r.MaxMinutes.Valid {
		step.TimeLimit = &domain.TimeLimitConfig{
			MaxMinutes:             int(r.MaxMinutes.Int64),
			AutoApproveOnThreshold: r.AutoApprove,
		}
	}
	return step
}

type stepRoleRow struct {
	StepID string `db:"step_id"`
	roleRow
}

type instanceRow struct {
	ID            string         `db:"id"`
	DefinitionID  string         `db:"definition_id"`
	CurrentStepID sql.NullString `db:"current_step_id"`
	IsCompleted   bool           `db:"is_completed"`
	StartedAt     time.Time      `db:"started_at"`
	EndedAt       sql.NullTime   `db:"ended_at"`
	Version       int64          `db:"version"`
	auditColumns
}

func (r instanceRow) toDomain() *domain.WorkflowInstance {
	inst := &domain.WorkflowInstance{
		ID:            r.ID,
		DefinitionID:  r.DefinitionID,
		CurrentStepID: r.CurrentStepID.String,
		IsCompleted:   r.IsCompleted,
		StartedAt:     r.StartedAt.UTC(),
		Audit:         r.auditColumns.toDomain(),
		Version:       r.Version,
	}
	if r.EndedAt.Valid {
		t := r.EndedAt.Time.UTC()
		inst.EndedAt = &t
	}
	return inst
}

type stepInstanceRow struct {
	ID               string       `db:"id"`
	StepDefinitionID string       `db:"step_definition_id"`
	Position         int          `db:"position"`
	Resolution       int          `db:"resolution"`
	ExpiresAt        sql.NullTime `db:"expires_at"`
	AutoApprove      bool         `db:"auto_approve"`
}

func (r stepInstanceRow) toDomain() domain.StepInstance {
	step := domain.StepInstance{
		ID:               r.ID,
		StepDefinitionID: r.StepDefinitionID,
		Position:         r.Position,
		Resolution:       domain.Resolution(r.Resolution),
	}
	if r.ExpiresAt.Valid {
		step.TimeLimit = &domain.TimeLimit{
			ExpiresAt:              r.ExpiresAt.Time.UTC(),
			AutoApproveOnThreshold: r.AutoApprove,
		}
	}
	return step
}

type approvalRow struct {
	ID             int64     `db:"id"`
	StepInstanceID string    `db:"step_instance_id"`
	Decision       int       `db:"decision"`
	Actor          string    `db:"actor"`
	Comments       string    `db:"comments"`
	DecidedAt      time.Time `db:"decided_at"`
}

func (r approvalRow) toDomain() domain.Approval {
	return domain.Approval{
		ID:        r.ID,
		Decision:  domain.Decision(r.Decision),
		Actor:     r.Actor,
		Comments:  r.Comments,
		DecidedAt: r.DecidedAt.UTC(),
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timeLimitColumns(tl *domain.TimeLimit) (sql.NullTime, bool) {
	if tl == nil {
		return sql.NullTime{}, false
	}
	return sql.NullTime{Time: tl.ExpiresAt.UTC(), Valid: true}, tl.AutoApproveOnThreshold
}
