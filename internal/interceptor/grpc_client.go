// Copyright 2025 James Ross
package interceptor

import (
	"context"

	"github.com/flyingrobots/mitsuha/internal/compute"
	"github.com/flyingrobots/mitsuha/internal/rpcwire"
	"google.golang.org/grpc"
)

// GRPCClient is the production RPCClient: a unary call to a configured
// Interceptor service over an existing grpc.ClientConn.
type GRPCClient struct {
	cc *grpc.ClientConn
}

// NewGRPCClient wraps an already-dialed connection.
func NewGRPCClient(cc *grpc.ClientConn) *GRPCClient {
	return &GRPCClient{cc: cc}
}

func (g *GRPCClient) Intercept(ctx context.Context, input *compute.ComputeInput) (*compute.ComputeInput, error) {
	req, err := rpcwire.Pack("Intercept", input)
	if err != nil {
		return nil, err
	}
	var resp rpcwire.Envelope
	if err := rpcwire.Invoke(ctx, g.cc, rpcwire.MethodInterceptorIntercept, req, &resp); err != nil {
		return nil, err
	}
	var out compute.ComputeInput
	if err := rpcwire.Unpack(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
