package proto

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// The service carries google.protobuf.Struct payloads, so no generated
// message types are needed.
//
//	service FusionService {
//	  rpc Process(google.protobuf.Struct) returns (google.protobuf.Struct);
//	  rpc CheckEngine(google.protobuf.Empty) returns (google.protobuf.Struct);
//	}
const (
	FusionService_ServiceName        = "fusion.FusionService"
	FusionService_Process_FullMethod = "/fusion.FusionService/Process"
	FusionService_Check_FullMethod   = "/fusion.FusionService/CheckEngine"
)

type FusionServiceServer interface {
	Process(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CheckEngine(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

func RegisterFusionServiceServer(s grpc.ServiceRegistrar, srv FusionServiceServer) {
	s.RegisterService(&FusionService_ServiceDesc, srv)
}

func _FusionService_Process_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FusionServiceServer).Process(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FusionService_Process_FullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FusionServiceServer).Process(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _FusionService_CheckEngine_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FusionServiceServer).CheckEngine(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FusionService_Check_FullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(FusionServiceServer).CheckEngine(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

var FusionService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: FusionService_ServiceName,
	HandlerType: (*FusionServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Process", Handler: _FusionService_Process_Handler},
		{MethodName: "CheckEngine", Handler: _FusionService_CheckEngine_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fusion.proto",
}

type FusionServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewFusionServiceClient(cc grpc.ClientConnInterface) *FusionServiceClient {
	return &FusionServiceClient{cc: cc}
}

func (c *FusionServiceClient) Process(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FusionService_Process_FullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *FusionServiceClient) CheckEngine(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FusionService_Check_FullMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
