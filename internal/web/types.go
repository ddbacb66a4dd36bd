package web

import (
	"time"

	"github.com/example/approvalflow/internal/domain"
)

// WorkflowListItem is an entry of GET /api/workflows.
type WorkflowListItem struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// WorkflowDetail is the response for GET /api/workflows/:id.
type WorkflowDetail struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Steps       []StepDetail `json:"steps"`
}

// StepDetail describes one step of a workflow definition.
type StepDetail struct {
	ID                         string                      `json:"id"`
	Name                       string                      `json:"name"`
	Description                string                      `json:"description,omitempty"`
	Order                      *int                        `json:"order,omitempty"`
	RequiredApprovals          []string                    `json:"requiredApprovals"`
	StepTimeLimitConfiguration *StepTimeLimitConfiguration `json:"stepTimeLimitConfiguration"`
	ApprovedNextStepID         string                      `json:"approvedNextStepId,omitempty"`
	RejectedNextStepID         string                      `json:"rejectedNextStepId,omitempty"`
}

// StepTimeLimitConfiguration is a step's configured deadline.
type StepTimeLimitConfiguration struct {
	MaximumTimeInMinutes   int  `json:"maximumTimeInMinutes"`
	AutoApproveOnThreshold bool `json:"autoApproveOnThreshold"`
}

// WorkflowInstanceListItem is an entry of GET /api/workflows/:id/instances.
type WorkflowInstanceListItem struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	IsCompleted bool      `json:"isCompleted"`
	CurrentStep string    `json:"currentStep"`
	CreatedAt   time.Time `json:"createdAt"`
}

// WorkflowInstanceDetail is returned by every endpoint that yields one instance.
type WorkflowInstanceDetail struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	IsCompleted bool           `json:"isCompleted"`
	CurrentStep *StepInstance  `json:"currentStep"`
	Steps       []StepInstance `json:"steps"`
	CreatedAt   time.Time      `json:"createdAt"`
	EndedAt     *time.Time     `json:"endedAt,omitempty"`
	Version     int64          `json:"version"`
}

// StepInstance is the runtime state of one step.
type StepInstance struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Resolution    string         `json:"resolution"`
	IsApproved    bool           `json:"isApproved"`
	StepTimeLimit *StepTimeLimit `json:"stepTimeLimit"`
	Approvals     []ApprovalItem `json:"approvals"`
}

// StepTimeLimit is the deadline attached to an active step.
type StepTimeLimit struct {
	ExpiresIn              time.Time `json:"expiresIn"`
	AutoApproveOnThreshold bool      `json:"autoApproveOnThreshold"`
}

// ApprovalItem is one recorded decision.
type ApprovalItem struct {
	Decision  string    `json:"decision"`
	Actor     string    `json:"actor,omitempty"`
	Comments  string    `json:"comments,omitempty"`
	DecidedAt time.Time `json:"decidedAt"`
}

// DecisionBody is the optional body of the approve and reject endpoints.
type DecisionBody struct {
	Actor    string `json:"actor"`
	Comments string `json:"comments"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func workflowListItem(d *domain.WorkflowDefinition) WorkflowListItem {
	return WorkflowListItem{ID: d.ID, Name: d.Name}
}

func workflowDetail(d *domain.WorkflowDefinition) WorkflowDetail {
	out := WorkflowDetail{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Steps:       make([]StepDetail, 0, len(d.Steps)),
	}
	for _, s := range d.OrderedSteps() {
		step := StepDetail{
			ID:                 s.ID,
			Name:               s.Name,
			Description:        s.Description,
			Order:              s.Order,
			RequiredApprovals:  make([]string, 0, len(s.RequiredRoles)),
			ApprovedNextStepID: s.ApprovedNextStepID,
			RejectedNextStepID: s.RejectedNextStepID,
		}
		for _, r := range s.RequiredRoles {
			step.RequiredApprovals = append(step.RequiredApprovals, r.Name)
		}
		if s.TimeLimit != nil {
			step.StepTimeLimitConfiguration = &StepTimeLimitConfiguration{
				MaximumTimeInMinutes:   s.TimeLimit.MaxMinutes,
				AutoApproveOnThreshold: s.TimeLimit.AutoApproveOnThreshold,
			}
		}
		out.Steps = append(out.Steps, step)
	}
	return out
}

func stepName(def *domain.WorkflowDefinition, stepDefinitionID string) string {
	if def == nil {
		return ""
	}
	if s := def.Step(stepDefinitionID); s != nil {
		return s.Name
	}
	return ""
}

func instanceListItem(def *domain.WorkflowDefinition, inst *domain.WorkflowInstance) WorkflowInstanceListItem {
	item := WorkflowInstanceListItem{
		ID:          inst.ID,
		Name:        def.Name,
		IsCompleted: inst.IsCompleted,
		CreatedAt:   inst.StartedAt,
	}
	if cur := inst.CurrentStep(); cur != nil && !inst.IsCompleted {
		item.CurrentStep = stepName(def, cur.StepDefinitionID)
	}
	return item
}

func stepInstance(def *domain.WorkflowDefinition, s *domain.StepInstance) StepInstance {
	out := StepInstance{
		ID:         s.ID,
		Name:       stepName(def, s.StepDefinitionID),
		Resolution: s.Resolution.String(),
		IsApproved: s.Resolution == domain.ResolutionApproved,
		Approvals:  make([]ApprovalItem, 0, len(s.Approvals)),
	}
	if s.TimeLimit != nil {
		out.StepTimeLimit = &StepTimeLimit{
			ExpiresIn:              s.TimeLimit.ExpiresAt,
			AutoApproveOnThreshold: s.TimeLimit.AutoApproveOnThreshold,
		}
	}
	for _, a := range s.Approvals {
		out.Approvals = append(out.Approvals, ApprovalItem{
			Decision:  a.Decision.String(),
			Actor:     a.Actor,
			Comments:  a.Comments,
			DecidedAt: a.DecidedAt,
		})
	}
	return out
}

func instanceDetail(inst *domain.WorkflowInstance) WorkflowInstanceDetail {
	def := inst.Definition
	out := WorkflowInstanceDetail{
		ID:          inst.ID,
		IsCompleted: inst.IsCompleted,
		Steps:       make([]StepInstance, 0, len(inst.Steps)),
		CreatedAt:   inst.StartedAt,
		EndedAt:     inst.EndedAt,
		Version:     inst.Version,
	}
	if def != nil {
		out.Name = def.Name
	}
	for i := range inst.Steps {
		out.Steps = append(out.Steps, stepInstance(def, &inst.Steps[i]))
	}
	if cur := inst.CurrentStep(); cur != nil {
		s := stepInstance(def, cur)
		out.CurrentStep = &s
	}
	return out
}
