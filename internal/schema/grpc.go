package schema

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Service collects typed unary handlers for one schema-defined service.
type Service struct {
	desc    protoreflect.ServiceDescriptor
	methods []grpc.MethodDesc
	err     error
}

// NewService starts a service definition for the fully-qualified name.
func NewService(name string) *Service {
	desc, err := FindService(name)
	return &Service{desc: desc, err: err}
}

// Handle binds a typed handler to a method. Req and Resp are Go structs whose
// json tags match the proto field names of the method input and output.
func Handle[Req, Resp any](s *Service, method string, handler func(context.Context, *Req) (*Resp, error)) {
	if s.err != nil {
		return
	}
	md := s.desc.Methods().ByName(protoreflect.Name(method))
	if md == nil {
		s.err = fmt.Errorf("%s has no method %s", s.desc.FullName(), method)
		return
	}
	fullMethod := "/" + string(s.desc.FullName()) + "/" + method
	input := md.Input()
	output := md.Output()

	call := func(ctx context.Context, req any) (any, error) {
		var typed Req
		if err := Decode(req.(proto.Message), &typed); err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
		}
		out, err := handler(ctx, &typed)
		if err != nil {
			return nil, err
		}
		resp := dynamicpb.NewMessage(output)
		if out != nil {
			if err := Encode(out, resp); err != nil {
				return nil, status.Errorf(codes.Internal, "encode response: %v", err)
			}
		}
		return resp, nil
	}

	s.methods = append(s.methods, grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := dynamicpb.NewMessage(input)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, call)
		},
	})
}

// Register adds the service to a gRPC server.
func (s *Service) Register(server grpc.ServiceRegistrar) error {
	if s.err != nil {
		return s.err
	}
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: string(s.desc.FullName()),
		HandlerType: (*any)(nil),
		Methods:     s.methods,
		Metadata:    s.desc.ParentFile().Path(),
	}, struct{}{})
	return nil
}

// Invoke performs a unary call against a schema-defined method using typed
// request and response values.
func Invoke[Req, Resp any](ctx context.Context, conn grpc.ClientConnInterface, service, method string, req *Req, opts ...grpc.CallOption) (*Resp, error) {
	sd, err := FindService(service)
	if err != nil {
		return nil, err
	}
	md := sd.Methods().ByName(protoreflect.Name(method))
	if md == nil {
		return nil, fmt.Errorf("%s has no method %s", service, method)
	}

	in := dynamicpb.NewMessage(md.Input())
	if req != nil {
		if err := Encode(req, in); err != nil {
			return nil, err
		}
	}
	out := dynamicpb.NewMessage(md.Output())
	if err := conn.Invoke(ctx, "/"+service+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}

	var resp Resp
	if err := Decode(out, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
