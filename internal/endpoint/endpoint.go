package endpoint

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/approvalflow/internal/domain"
	"github.com/example/approvalflow/internal/service"
)

// Endpoint is a function that takes a request and returns a response.
type Endpoint func(ctx context.Context, request any) (response any, err error)

// Endpoints holds all endpoint handlers.
type Endpoints struct {
	ListDefinitions    Endpoint
	GetDefinition      Endpoint
	CreateInstance     Endpoint
	GetInstance        Endpoint
	ListInstances      Endpoint
	ApproveCurrentStep Endpoint
	RejectCurrentStep  Endpoint
	RunExpirationCycle Endpoint
}

// CreateInstanceRequest is the request for the CreateInstance endpoint.
type CreateInstanceRequest struct {
	DefinitionID string
}

// RunExpirationCycleRequest is the request for the RunExpirationCycle
// endpoint. A cycle always evaluates at the scheduler clock.
type RunExpirationCycleRequest struct{}

// RunExpirationCycleResponse is the response from RunExpirationCycle.
type RunExpirationCycleResponse struct {
	NextWakeInterval time.Duration
}

// MakeEndpoints creates all endpoints from the service and scheduler.
func MakeEndpoints(svc *service.WorkflowService, sched *service.ExpirationScheduler) Endpoints {
	return Endpoints{
		ListDefinitions:    makeListDefinitionsEndpoint(svc),
		GetDefinition:      makeGetDefinitionEndpoint(svc),
		CreateInstance:     makeCreateInstanceEndpoint(svc),
		GetInstance:        makeGetInstanceEndpoint(svc),
		ListInstances:      makeListInstancesEndpoint(svc),
		ApproveCurrentStep: makeDecisionEndpoint(svc.ApproveCurrentStep),
		RejectCurrentStep:  makeDecisionEndpoint(svc.RejectCurrentStep),
		RunExpirationCycle: makeRunExpirationCycleEndpoint(sched),
	}
}

func makeListDefinitionsEndpoint(svc *service.WorkflowService) Endpoint {
	return func(ctx context.Context, _ any) (any, error) {
		return svc.ListDefinitions(ctx)
	}
}

func makeGetDefinitionEndpoint(svc *service.WorkflowService) Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		id := request.(string)
		if id == "" {
			return nil, status.Error(codes.InvalidArgument, "definition_id is required")
		}
		return svc.GetDefinition(ctx, id)
	}
}

func makeCreateInstanceEndpoint(svc *service.WorkflowService) Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*CreateInstanceRequest)
		if err := validateCreateInstanceRequest(req); err != nil {
			return nil, err
		}
		return svc.CreateInstance(ctx, req.DefinitionID)
	}
}

func makeGetInstanceEndpoint(svc *service.WorkflowService) Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*service.GetInstanceRequest)
		if err := validateGetInstanceRequest(req); err != nil {
			return nil, err
		}
		return svc.GetInstance(ctx, req)
	}
}

func makeListInstancesEndpoint(svc *service.WorkflowService) Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*service.ListInstancesRequest)
		if err := validateListInstancesRequest(req); err != nil {
			return nil, err
		}
		return svc.ListInstances(ctx, req)
	}
}

func makeDecisionEndpoint(decide func(context.Context, *service.DecisionRequest) (*domain.WorkflowInstance, error)) Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req := request.(*service.DecisionRequest)
		if err := validateDecisionRequest(req); err != nil {
			return nil, err
		}
		return decide(ctx, req)
	}
}

func makeRunExpirationCycleEndpoint(sched *service.ExpirationScheduler) Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		_, next := sched.TriggerCycle(ctx)
		return &RunExpirationCycleResponse{NextWakeInterval: next}, nil
	}
}

// MapErrorToStatus maps domain errors to gRPC status codes.
func MapErrorToStatus(err error) error {
	if err == nil {
		return nil
	}

	// Already a gRPC status error
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrDefinitionInvalid):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrInvalidState):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrConcurrentModify):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, domain.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrAlreadyExists):
		return status.Error(codes.AlreadyExists, err.Error())
	default:
		return status.Error(codes.Internal, "internal error")
	}
}
