// Copyright 2025 James Ross
// Package interceptor implements the channel that forwards a request to an
// external RPC service which may rewrite it before it continues downstream.
package interceptor

import (
	"context"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
)

// RPCClient is the external collaborator contract: convert, call, and
// return a possibly-rewritten ComputeInput. The real implementation talks
// gRPC via internal/rpcwire; tests substitute a fake.
type RPCClient interface {
	Intercept(ctx context.Context, input *compute.ComputeInput) (*compute.ComputeInput, error)
}

// Channel converts the ComputeInput to wire form, calls the configured
// interceptor service, and forwards whatever it returns to the next
// channel. The design notes that signing/skip-list extensions surviving
// the round trip is trusted to the interceptor, not enforced here.
type Channel struct {
	channel.Base
	client RPCClient
}

// New constructs the interceptor channel against client.
func New(id string, client RPCClient) *Channel {
	return &Channel{Base: channel.NewBase(id), client: client}
}

func (c *Channel) Compute(ctx context.Context, cctx *channel.Context, input *compute.ComputeInput) (*compute.ComputeOutput, error) {
	if cctx.IsSkipped(input, c.ID()) {
		return c.Next(ctx, cctx, input)
	}

	rewritten, err := c.client.Intercept(ctx, input)
	if err != nil {
		return nil, err
	}

	// The external service already saw this request once; don't call it
	// again when the scheduler or qflow replays the input from the head.
	cctx.AppendSkipChannelList(rewritten, c.ID())

	return c.Next(ctx, cctx, rewritten)
}
