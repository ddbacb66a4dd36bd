package grpc

import (
	"context"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/approvalflow/internal/domain"
	"github.com/example/approvalflow/internal/endpoint"
	"github.com/example/approvalflow/internal/service"
)

// ListDefinitions implements the ListDefinitions RPC.
func (s *Server) ListDefinitions(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	resp, err := s.endpoints.ListDefinitions(ctx, nil)
	if err != nil {
		return nil, endpoint.MapErrorToStatus(err)
	}

	defs := resp.([]*domain.WorkflowDefinition)
	items := make([]any, 0, len(defs))
	for _, d := range defs {
		items = append(items, definitionToMap(d))
	}
	return toStruct(map[string]any{"definitions": items})
}

// GetDefinition implements the GetDefinition RPC.
func (s *Server) GetDefinition(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	resp, err := s.endpoints.GetDefinition(ctx, stringField(req, "definition_id"))
	if err != nil {
		return nil, endpoint.MapErrorToStatus(err)
	}
	return toStruct(map[string]any{"definition": definitionToMap(resp.(*domain.WorkflowDefinition))})
}

// CreateInstance implements the CreateInstance RPC.
func (s *Server) CreateInstance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	resp, err := s.endpoints.CreateInstance(ctx, &endpoint.CreateInstanceRequest{
		DefinitionID: stringField(req, "definition_id"),
	})
	if err != nil {
		return nil, endpoint.MapErrorToStatus(err)
	}
	return instanceResponse(resp)
}

// GetInstance implements the GetInstance RPC.
func (s *Server) GetInstance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	resp, err := s.endpoints.GetInstance(ctx, &service.GetInstanceRequest{
		InstanceID:   stringField(req, "instance_id"),
		DefinitionID: stringField(req, "definition_id"),
	})
	if err != nil {
		return nil, endpoint.MapErrorToStatus(err)
	}
	return instanceResponse(resp)
}

// ListInstances implements the ListInstances RPC.
func (s *Server) ListInstances(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	completed, err := optionalBoolField(req, "completed")
	if err != nil {
		return nil, err
	}
	limit, err := intField(req, "limit")
	if err != nil {
		return nil, err
	}
	offset, err := intField(req, "offset")
	if err != nil {
		return nil, err
	}

	resp, err := s.endpoints.ListInstances(ctx, &service.ListInstancesRequest{
		DefinitionID: stringField(req, "definition_id"),
		Completed:    completed,
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		return nil, endpoint.MapErrorToStatus(err)
	}

	insts := resp.([]*domain.WorkflowInstance)
	items := make([]any, 0, len(insts))
	for _, inst := range insts {
		items = append(items, instanceToMap(inst))
	}
	return toStruct(map[string]any{"instances": items})
}

// ApproveCurrentStep implements the ApproveCurrentStep RPC.
func (s *Server) ApproveCurrentStep(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	resp, err := s.endpoints.ApproveCurrentStep(ctx, decisionRequestFromStruct(req))
	if err != nil {
		return nil, endpoint.MapErrorToStatus(err)
	}
	return instanceResponse(resp)
}

// RejectCurrentStep implements the RejectCurrentStep RPC.
func (s *Server) RejectCurrentStep(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	resp, err := s.endpoints.RejectCurrentStep(ctx, decisionRequestFromStruct(req))
	if err != nil {
		return nil, endpoint.MapErrorToStatus(err)
	}
	return instanceResponse(resp)
}

// RunExpirationCycle implements the RunExpirationCycle RPC. The request
// carries no fields; the cycle runs at the server clock.
func (s *Server) RunExpirationCycle(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	resp, err := s.endpoints.RunExpirationCycle(ctx, &endpoint.RunExpirationCycleRequest{})
	if err != nil {
		return nil, endpoint.MapErrorToStatus(err)
	}

	next := resp.(*endpoint.RunExpirationCycleResponse).NextWakeInterval
	return toStruct(map[string]any{
		"next_wake_interval_seconds": next.Seconds(),
		"next_wake_interval":         next.String(),
	})
}

func decisionRequestFromStruct(req *structpb.Struct) *service.DecisionRequest {
	return &service.DecisionRequest{
		InstanceID:   stringField(req, "instance_id"),
		DefinitionID: stringField(req, "definition_id"),
		Actor:        stringField(req, "actor"),
		Comments:     stringField(req, "comments"),
	}
}

func instanceResponse(resp any) (*structpb.Struct, error) {
	return toStruct(map[string]any{"instance": instanceToMap(resp.(*domain.WorkflowInstance))})
}
