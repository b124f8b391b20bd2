// Copyright 2025 James Ross
// Package namespacer implements the tenant-prefixing channel: it looks up
// channel.namespace in the request's extensions and, if present, rewrites
// the operative handle(s) by prefixing "namespace/<ns>/".
package namespacer

import (
	"context"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
)

// Channel rewrites handles in place for every op, but deliberately leaves
// JobSpec's InputHandle/OutputHandle/StatusHandle untouched to avoid
// double-namespacing callers that already pre-namespaced them.
type Channel struct {
	channel.Base
}

// New constructs the namespacer channel.
func New(id string) *Channel {
	return &Channel{Base: channel.NewBase(id)}
}

func (n *Channel) Compute(ctx context.Context, cctx *channel.Context, input *compute.ComputeInput) (*compute.ComputeOutput, error) {
	if cctx.IsSkipped(input, n.ID()) {
		return n.Next(ctx, cctx, input)
	}

	ext := input.Ext()
	ns, ok := ext[compute.ExtNamespace]
	if !ok || ns == "" {
		return n.Next(ctx, cctx, input)
	}
	prefix := "namespace/" + ns + "/"

	input.SetEffectiveHandle(prefix + input.EffectiveHandle())

	if input.Op == compute.OpRun {
		rext := input.Run.Extensions.Clone()
		rext[compute.ExtResolverPrefix] = prefix
		input.Run.Extensions = rext
	}

	// Prefixing isn't idempotent, so mark self skipped before a re-entrant
	// dispatch (scheduler, qflow) replays this input from the chain head.
	cctx.AppendSkipChannelList(input, n.ID())

	return n.Next(ctx, cctx, input)
}
