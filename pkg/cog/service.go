package cog

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name hosts dial.
const ServiceName = "automatoninc.cog.CogService"

const (
	getManifestMethod = "/" + ServiceName + "/GetManifest"
	runStepMethod     = "/" + ServiceName + "/RunStep"
	runStepsMethod    = "/" + ServiceName + "/RunSteps"
)

// CogServiceServer is implemented by the cog and called by the host.
type CogServiceServer interface {
	GetManifest(context.Context, *ManifestRequest) (*CogManifest, error)
	RunStep(context.Context, *RunStepRequest) (*RunStepResponse, error)
	RunSteps(RunStepsServer) error
}

// RunStepsServer is the server side of the RunSteps duplex stream.
// Send must not be called concurrently from multiple goroutines.
type RunStepsServer interface {
	Send(*RunStepResponse) error
	Recv() (*RunStepRequest, error)
	grpc.ServerStream
}

// RegisterCogServiceServer registers srv on s.
func RegisterCogServiceServer(s grpc.ServiceRegistrar, srv CogServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc is the grpc.ServiceDesc for CogService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CogServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetManifest", Handler: getManifestHandler},
		{MethodName: "RunStep", Handler: runStepHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "RunSteps",
			Handler:       runStepsHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "cog.proto",
}

func getManifestHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ManifestRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CogServiceServer).GetManifest(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: getManifestMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CogServiceServer).GetManifest(ctx, req.(*ManifestRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func runStepHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RunStepRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CogServiceServer).RunStep(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: runStepMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CogServiceServer).RunStep(ctx, req.(*RunStepRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func runStepsHandler(srv any, stream grpc.ServerStream) error {
	return srv.(CogServiceServer).RunSteps(&runStepsServer{stream})
}

type runStepsServer struct {
	grpc.ServerStream
}

func (s *runStepsServer) Send(m *RunStepResponse) error {
	return s.ServerStream.SendMsg(m)
}

func (s *runStepsServer) Recv() (*RunStepRequest, error) {
	m := new(RunStepRequest)
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
