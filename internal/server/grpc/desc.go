package grpcserver

import (
	"context"
	"maps"
	"slices"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "bookloan.v1.Loans"

// LoansServer is implemented by Server; every method takes and returns a structpb.Struct.
type LoansServer interface {
	Call(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes bookloan.v1.Loans without generated stubs.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LoansServer)(nil),
	Methods:     methodDescs(),
	Streams:     []grpc.StreamDesc{},
	Metadata:    "bookloan/v1/loans.proto",
}

// Register attaches srv to gs.
func Register(gs grpc.ServiceRegistrar, srv LoansServer) {
	gs.RegisterService(&ServiceDesc, srv)
}

// MethodNames lists the served methods in sorted order.
func MethodNames() []string {
	return slices.Sorted(maps.Keys(methods))
}

func methodDescs() []grpc.MethodDesc {
	names := MethodNames()
	out := make([]grpc.MethodDesc, 0, len(names))
	for _, name := range names {
		out = append(out, unary(name))
	}
	return out
}

func unary(name string) grpc.MethodDesc {
	full := "/" + ServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, icpt grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			call := func(ctx context.Context, req any) (any, error) {
				return srv.(LoansServer).Call(ctx, name, req.(*structpb.Struct))
			}
			if icpt == nil {
				return call(ctx, in)
			}
			return icpt(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: full}, call)
		},
	}
}
