// Copyright 2025 James Ross
package qflow

import (
	"context"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
)

// WriterChannel hands fresh job lifecycle requests (Run and the
// sticky-routed Status/Extend/Abort follow-ups) straight to the QFlow
// backend's Write and returns Submitted, without forwarding downstream:
// admission into the queue is itself the terminal action for this path.
// Storage ops are synchronous reads and writes, not queueable work, and
// always forward. A request already bearing a valid signature is one the
// dispatcher pulled back off the queue and is replaying through the head
// of the chain; that copy forwards downstream instead of being written
// again.
type WriterChannel struct {
	channel.Base
	backend QFlow
}

// NewWriterChannel constructs the QFlow writer channel against backend.
func NewWriterChannel(id string, backend QFlow) *WriterChannel {
	return &WriterChannel{Base: channel.NewBase(id), backend: backend}
}

func (w *WriterChannel) Compute(ctx context.Context, cctx *channel.Context, input *compute.ComputeInput) (*compute.ComputeOutput, error) {
	switch input.Op {
	case compute.OpRun, compute.OpExtend, compute.OpAbort, compute.OpStatus:
	default:
		return w.Next(ctx, cctx, input)
	}
	if input.Ext()[compute.ExtQueued] == "true" {
		if !cctx.IsComputeInputSigned(input) {
			return nil, compute.ErrUnsupportedOperation
		}
		return w.Next(ctx, cctx, input)
	}
	if err := w.backend.Write(ctx, input); err != nil {
		return nil, err
	}
	return &compute.ComputeOutput{Kind: compute.OutSubmitted}, nil
}
