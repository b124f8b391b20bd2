// Copyright 2025 James Ross
package rpcwire

import (
	"context"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
	"google.golang.org/grpc"
)

// RemoteChannel implements channel.Channel by forwarding Compute calls to
// another instance's ChannelServer over an existing grpc.ClientConn. The
// Delegator registers one of these under its configured peer id when
// overflow should route to a different instance rather than a local
// channel.
type RemoteChannel struct {
	channel.Base
	cc *grpc.ClientConn
}

// NewRemoteChannel wraps an already-dialed connection to a peer instance.
func NewRemoteChannel(id string, cc *grpc.ClientConn) *RemoteChannel {
	return &RemoteChannel{Base: channel.NewBase(id), cc: cc}
}

func (r *RemoteChannel) Compute(ctx context.Context, cctx *channel.Context, input *compute.ComputeInput) (*compute.ComputeOutput, error) {
	req, err := Pack("Compute", input)
	if err != nil {
		return nil, err
	}
	var resp Envelope
	if err := Invoke(ctx, r.cc, MethodChannelCompute, req, &resp); err != nil {
		return nil, err
	}
	var out compute.ComputeOutput
	if err := Unpack(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
