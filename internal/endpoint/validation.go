package endpoint

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/approvalflow/internal/service"
)

// maxListLimit caps page sizes requested by clients.
const maxListLimit = 500

func validateCreateInstanceRequest(req *CreateInstanceRequest) error {
	if req.DefinitionID == "" {
		return status.Error(codes.InvalidArgument, "definition_id is required")
	}
	return nil
}

func validateGetInstanceRequest(req *service.GetInstanceRequest) error {
	if req.InstanceID == "" {
		return status.Error(codes.InvalidArgument, "instance_id is required")
	}
	return nil
}

func validateListInstancesRequest(req *service.ListInstancesRequest) error {
	if req.Limit < 0 || req.Offset < 0 {
		return status.Error(codes.InvalidArgument, "limit and offset must not be negative")
	}
	if req.Limit > maxListLimit {
		return status.Errorf(codes.InvalidArgument, "limit must be at most %d", maxListLimit)
	}
	return nil
}

func validateDecisionRequest(req *service.DecisionRequest) error {
	if req.InstanceID == "" {
		return status.Error(codes.InvalidArgument, "instance_id is required")
	}
	return nil
}
