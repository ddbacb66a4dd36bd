package grpc

import (
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/approvalflow/internal/domain"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func auditToMap(m map[string]any, a domain.Audit) {
	m["created_at"] = formatTime(a.CreatedAt)
	m["created_by"] = a.CreatedBy
	m["updated_at"] = formatTime(a.UpdatedAt)
	m["updated_by"] = a.UpdatedBy
}

func roleToMap(r domain.Role) map[string]any {
	return map[string]any{
		"id":   r.ID,
		"name": r.Name,
	}
}

func stepDefinitionToMap(s *domain.StepDefinition) map[string]any {
	roles := make([]any, 0, len(s.RequiredRoles))
	for _, r := range s.RequiredRoles {
		roles = append(roles, roleToMap(r))
	}
	m := map[string]any{
		"id":                    s.ID,
		"name":                  s.Name,
		"description":           s.Description,
		"required_roles":        roles,
		"approved_next_step_id": s.ApprovedNextStepID,
		"rejected_next_step_id": s.RejectedNextStepID,
		"order":                 nil,
		"time_limit":            nil,
	}
	if s.Order != nil {
		m["order"] = *s.Order
	}
	if s.TimeLimit != nil {
		m["time_limit"] = map[string]any{
			"max_minutes":               s.TimeLimit.MaxMinutes,
			"auto_approve_on_threshold": s.TimeLimit.AutoApproveOnThreshold,
		}
	}
	return m
}

func definitionToMap(d *domain.WorkflowDefinition) map[string]any {
	steps := make([]any, 0, len(d.Steps))
	for _, s := range d.OrderedSteps() {
		steps = append(steps, stepDefinitionToMap(s))
	}
	m := map[string]any{
		"id":          d.ID,
		"name":        d.Name,
		"description": d.Description,
		"steps":       steps,
	}
	auditToMap(m, d.Audit)
	return m
}

func stepInstanceToMap(s *domain.StepInstance) map[string]any {
	approvals := make([]any, 0, len(s.Approvals))
	for _, a := range s.Approvals {
		approvals = append(approvals, map[string]any{
			"decision":   a.Decision.String(),
			"actor":      a.Actor,
			"comments":   a.Comments,
			"decided_at": formatTime(a.DecidedAt),
		})
	}
	m := map[string]any{
		"id":                 s.ID,
		"step_definition_id": s.StepDefinitionID,
		"position":           s.Position,
		"resolution":         s.Resolution.String(),
		"approvals":          approvals,
		"time_limit":         nil,
	}
	if s.TimeLimit != nil {
		m["time_limit"] = map[string]any{
			"expires_at":                formatTime(s.TimeLimit.ExpiresAt),
			"auto_approve_on_threshold": s.TimeLimit.AutoApproveOnThreshold,
		}
	}
	return m
}

func instanceToMap(i *domain.WorkflowInstance) map[string]any {
	steps := make([]any, 0, len(i.Steps))
	for idx := range i.Steps {
		steps = append(steps, stepInstanceToMap(&i.Steps[idx]))
	}
	m := map[string]any{
		"id":              i.ID,
		"definition_id":   i.DefinitionID,
		"current_step_id": i.CurrentStepID,
		"is_completed":    i.IsCompleted,
		"started_at":      formatTime(i.StartedAt),
		"ended_at":        nil,
		"version":         i.Version,
		"steps":           steps,
	}
	if i.EndedAt != nil {
		m["ended_at"] = formatTime(*i.EndedAt)
	}
	auditToMap(m, i.Audit)
	return m
}

func toStruct(m map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return s, nil
}

// Request field accessors. Missing fields read as zero values.

func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

func intField(req *structpb.Struct, name string) (int, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return 0, nil
	}
	if _, isNum := v.GetKind().(*structpb.Value_NumberValue); !isNum {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a number", name)
	}
	n := v.GetNumberValue()
	if n != float64(int(n)) {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be an integer", name)
	}
	return int(n), nil
}

func optionalBoolField(req *structpb.Struct, name string) (*bool, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return nil, nil
	}
	switch v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return nil, nil
	case *structpb.Value_BoolValue:
		b := v.GetBoolValue()
		return &b, nil
	default:
		return nil, status.Errorf(codes.InvalidArgument, "%s must be a boolean", name)
	}
}
