package endpoint

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/approvalflow/internal/domain"
	"github.com/example/approvalflow/internal/service"
)

func TestMapErrorToStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want codes.Code
	}{
		{"not found", fmt.Errorf("load: %w", domain.ErrNotFound), codes.NotFound},
		{"no steps", domain.ErrNoSteps, codes.FailedPrecondition},
		{"missing approvals", domain.ErrMissingRequiredApprovals, codes.FailedPrecondition},
		{"invalid state", domain.ErrInvalidState, codes.FailedPrecondition},
		{"conflict", domain.ErrConcurrentModify, codes.Aborted},
		{"bad argument", domain.ErrInvalidArgument, codes.InvalidArgument},
		{"duplicate", domain.ErrAlreadyExists, codes.AlreadyExists},
		{"bad branch", domain.ErrInvalidTransitionTarget, codes.Internal},
		{"persistence", fmt.Errorf("%w: disk full", domain.ErrTransitionFailed), codes.Internal},
		{"unknown", errors.New("boom"), codes.Internal},
		{"status passthrough", status.Error(codes.Unavailable, "down"), codes.Unavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, status.Code(MapErrorToStatus(tt.err)))
		})
	}
	assert.NoError(t, MapErrorToStatus(nil))
}

func TestMapErrorToStatusHidesInternalDetails(t *testing.T) {
	err := MapErrorToStatus(fmt.Errorf("%w: password=secret", domain.ErrCreationFailed))
	assert.Equal(t, "internal error", status.Convert(err).Message())
}

func TestValidation(t *testing.T) {
	// Validation runs before the service is touched, so nil dependencies are fine.
	eps := Endpoints{
		CreateInstance:     makeCreateInstanceEndpoint(nil),
		GetInstance:        makeGetInstanceEndpoint(nil),
		ListInstances:      makeListInstancesEndpoint(nil),
		ApproveCurrentStep: makeDecisionEndpoint(nil),
		GetDefinition:      makeGetDefinitionEndpoint(nil),
	}
	ctx := context.Background()

	tests := []struct {
		name string
		ep   Endpoint
		req  any
	}{
		{"create without definition", eps.CreateInstance, &CreateInstanceRequest{}},
		{"get without instance", eps.GetInstance, &service.GetInstanceRequest{}},
		{"negative limit", eps.ListInstances, &service.ListInstancesRequest{Limit: -1}},
		{"huge limit", eps.ListInstances, &service.ListInstancesRequest{Limit: maxListLimit + 1}},
		{"decision without instance", eps.ApproveCurrentStep, &service.DecisionRequest{}},
		{"definition without id", eps.GetDefinition, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.ep(ctx, tt.req)
			assert.Equal(t, codes.InvalidArgument, status.Code(err))
		})
	}
}
