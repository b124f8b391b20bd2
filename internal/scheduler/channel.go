// Copyright 2025 James Ross
package scheduler

import (
	"context"
	"strconv"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
)

// Channel is the scheduler channel: it intercepts Run/Extend/Abort,
// admitting fresh submissions into the distributed scheduler and
// dispatching already-signed, dequeued copies straight through.
type Channel struct {
	channel.Base
	scheduler *Scheduler
}

// NewChannel constructs the scheduler channel over an already-initialized
// Scheduler.
func NewChannel(id string, s *Scheduler) *Channel {
	return &Channel{Base: channel.NewBase(id), scheduler: s}
}

func (c *Channel) Compute(ctx context.Context, cctx *channel.Context, input *compute.ComputeInput) (*compute.ComputeOutput, error) {
	switch input.Op {
	case compute.OpRun, compute.OpExtend, compute.OpAbort:
		direct, err := c.scheduler.Schedule(ctx, cctx, cctx.Head(), input)
		if err != nil {
			return nil, err
		}
		if !direct {
			return &compute.ComputeOutput{Kind: compute.OutSubmitted}, nil
		}
		if !cctx.IsComputeInputSigned(input) {
			return nil, compute.ErrUnsupportedOperation
		}

		out, err := c.Next(ctx, cctx, input)

		if commandIDStr, ok := cctx.KVGet(kvCommandID); ok {
			if storageHandle, ok := cctx.KVGet(kvStorageHandle); ok {
				if id, parseErr := strconv.ParseInt(commandIDStr, 10, 64); parseErr == nil {
					_ = c.scheduler.RemoveJobCommand(ctx, id, storageHandle)
				}
			}
		}

		return out, err
	default:
		return c.Next(ctx, cctx, input)
	}
}
