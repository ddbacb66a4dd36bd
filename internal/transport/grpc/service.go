package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "approvalflow.v1.Workflows"

// WorkflowsServer is the server API for the Workflows service. Every
// message is a google.protobuf.Struct; field names are snake_case.
type WorkflowsServer interface {
	ListDefinitions(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetDefinition(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateInstance(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetInstance(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListInstances(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ApproveCurrentStep(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RejectCurrentStep(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RunExpirationCycle(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(WorkflowsServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func methodDesc(name string, call unaryMethod) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(WorkflowsServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(WorkflowsServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

var workflowsServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*WorkflowsServer)(nil),
	Methods: []grpc.MethodDesc{
		methodDesc("ListDefinitions", WorkflowsServer.ListDefinitions),
		methodDesc("GetDefinition", WorkflowsServer.GetDefinition),
		methodDesc("CreateInstance", WorkflowsServer.CreateInstance),
		methodDesc("GetInstance", WorkflowsServer.GetInstance),
		methodDesc("ListInstances", WorkflowsServer.ListInstances),
		methodDesc("ApproveCurrentStep", WorkflowsServer.ApproveCurrentStep),
		methodDesc("RejectCurrentStep", WorkflowsServer.RejectCurrentStep),
		methodDesc("RunExpirationCycle", WorkflowsServer.RunExpirationCycle),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "approvalflow/v1/workflows.proto",
}

// RegisterWorkflowsServer registers srv on s.
func RegisterWorkflowsServer(s grpc.ServiceRegistrar, srv WorkflowsServer) {
	s.RegisterService(&workflowsServiceDesc, srv)
}

// Client calls the Workflows service.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a client on an existing connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method with req and returns the response struct.
func (c *Client) Call(ctx context.Context, method string, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	if req == nil {
		req = &structpb.Struct{}
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
