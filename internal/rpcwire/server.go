// Copyright 2025 James Ross
package rpcwire

import (
	"context"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
	"google.golang.org/grpc"
)

// ChannelServer answers the Channel.Compute RPC by dispatching into a
// process-wide chain head and shared Context, the same pair the scheduler's
// event loop dispatches dequeued work back into.
type ChannelServer struct {
	head channel.Channel
	cctx *channel.Context
}

// NewChannelServer binds the RPC surface to head/cctx.
func NewChannelServer(head channel.Channel, cctx *channel.Context) *ChannelServer {
	return &ChannelServer{head: head, cctx: cctx}
}

// Register wires this server's Compute method into srv as the Channel
// service described in service.go.
func (s *ChannelServer) Register(srv *grpc.Server) {
	desc := RegisterUnary("mitsuha.Channel", "Compute", func() interface{} { return &Envelope{} }, s.compute)
	srv.RegisterService(&desc, nil)
}

func (s *ChannelServer) compute(ctx context.Context, req interface{}) (interface{}, error) {
	env := req.(*Envelope)
	var input compute.ComputeInput
	if err := Unpack(*env, &input); err != nil {
		return nil, err
	}

	out, err := s.head.Compute(ctx, s.cctx, &input)
	if err != nil {
		return nil, err
	}

	resp, err := Pack("Compute", out)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// InterceptorServer answers the Interceptor.Intercept RPC by running a
// ComputeInput through a local rewrite function, the server side of
// interceptor.GRPCClient.
type InterceptorServer struct {
	rewrite func(ctx context.Context, input *compute.ComputeInput) (*compute.ComputeInput, error)
}

// NewInterceptorServer binds the Intercept RPC to rewrite.
func NewInterceptorServer(rewrite func(ctx context.Context, input *compute.ComputeInput) (*compute.ComputeInput, error)) *InterceptorServer {
	return &InterceptorServer{rewrite: rewrite}
}

// Register wires this server's Intercept method into srv.
func (s *InterceptorServer) Register(srv *grpc.Server) {
	desc := RegisterUnary("mitsuha.Interceptor", "Intercept", func() interface{} { return &Envelope{} }, s.intercept)
	srv.RegisterService(&desc, nil)
}

func (s *InterceptorServer) intercept(ctx context.Context, req interface{}) (interface{}, error) {
	env := req.(*Envelope)
	var input compute.ComputeInput
	if err := Unpack(*env, &input); err != nil {
		return nil, err
	}

	out, err := s.rewrite(ctx, &input)
	if err != nil {
		return nil, err
	}

	resp, err := Pack("Intercept", out)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}
