package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "rewardkeeper.v1.RewardService"

// RewardServiceServer is the server API. Requests and responses are
// google.protobuf.Struct documents; field names are snake_case.
type RewardServiceServer interface {
	PreviewReward(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ScoreAssessment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ClearAssessmentScore(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ValidateFormula(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpsertRule(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListRules(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetStudentBalance(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateStudent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpsertSubject(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateAssessment(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(RewardServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

// unary adapts a Struct-in/Struct-out method to a grpc.MethodDesc handler.
func unary(name string, call unaryMethod) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(RewardServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(RewardServiceServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc describes RewardService for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*RewardServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("PreviewReward", RewardServiceServer.PreviewReward),
		unary("ScoreAssessment", RewardServiceServer.ScoreAssessment),
		unary("ClearAssessmentScore", RewardServiceServer.ClearAssessmentScore),
		unary("ValidateFormula", RewardServiceServer.ValidateFormula),
		unary("UpsertRule", RewardServiceServer.UpsertRule),
		unary("ListRules", RewardServiceServer.ListRules),
		unary("GetStudentBalance", RewardServiceServer.GetStudentBalance),
		unary("CreateStudent", RewardServiceServer.CreateStudent),
		unary("UpsertSubject", RewardServiceServer.UpsertSubject),
		unary("CreateAssessment", RewardServiceServer.CreateAssessment),
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterRewardServiceServer registers srv on s.
func RegisterRewardServiceServer(s grpc.ServiceRegistrar, srv RewardServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client is a thin caller for RewardService over any client connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a client connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Call invokes method (e.g. "ScoreAssessment") with a Struct request.
func (c *Client) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
