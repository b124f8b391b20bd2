// Copyright 2025 James Ross
package rpcwire

import (
	"context"

	"google.golang.org/grpc"
)

// Fully-qualified method names for the two unary services:
// Channel.Compute and Interceptor.Intercept.
const (
	MethodChannelCompute       = "/mitsuha.Channel/Compute"
	MethodInterceptorIntercept = "/mitsuha.Interceptor/Intercept"
)

// Invoke performs a generic unary RPC carrying req and decoding into resp,
// using the JSON codec registered in this package. It stands in for a
// generated client stub.
func Invoke(ctx context.Context, cc *grpc.ClientConn, method string, req, resp interface{}) error {
	return cc.Invoke(ctx, method, req, resp, grpc.CallContentSubtype(Name))
}

// UnaryHandlerFunc is the shape a hand-registered service method takes:
// decode the request, run the business logic, return the response.
type UnaryHandlerFunc func(ctx context.Context, req interface{}) (interface{}, error)

// RegisterUnary wires a single unary method into a grpc.ServiceDesc without
// requiring generated protobuf code, decoding the wire request into newReq()
// before calling handler.
func RegisterUnary(serviceName, methodName string, newReq func() interface{}, handler UnaryHandlerFunc) grpc.ServiceDesc {
	return grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*interface{})(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: methodName,
				Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
					req := newReq()
					if err := dec(req); err != nil {
						return nil, err
					}
					if interceptor == nil {
						return handler(ctx, req)
					}
					info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + methodName}
					wrapped := func(ctx context.Context, req interface{}) (interface{}, error) {
						return handler(ctx, req)
					}
					return interceptor(ctx, req, info, wrapped)
				},
			},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: serviceName + ".proto",
	}
}
