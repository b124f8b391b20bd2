// Copyright 2025 James Ross
// Package delegator implements bounded local job admission: a per-instance
// cap on concurrently tracked Run requests, with overflow forwarded to a
// peer channel.
package delegator

import (
	"context"
	"sync"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
)

// Channel tracks handles of Run requests it has admitted locally and caps
// them at maxJobs. Once at capacity, further Run requests are forwarded to
// the configured peer channel instead of downstream. Every other op always
// forwards downstream.
type Channel struct {
	channel.Base
	peerID  string
	maxJobs int

	mu    sync.Mutex
	local map[string]struct{}
}

// New constructs a delegator bounding local concurrency at maxJobs and
// rerouting overflow Run requests to the channel registered under peerID.
func New(id, peerID string, maxJobs int) *Channel {
	return &Channel{
		Base:    channel.NewBase(id),
		peerID:  peerID,
		maxJobs: maxJobs,
		local:   make(map[string]struct{}),
	}
}

func (d *Channel) Compute(ctx context.Context, cctx *channel.Context, input *compute.ComputeInput) (*compute.ComputeOutput, error) {
	if input.Op != compute.OpRun {
		return d.Next(ctx, cctx, input)
	}

	d.gc(cctx)

	d.mu.Lock()
	count := len(d.local)
	d.mu.Unlock()

	if count < d.maxJobs {
		d.mu.Lock()
		d.local[input.Run.Handle] = struct{}{}
		d.mu.Unlock()
		return d.Next(ctx, cctx, input)
	}

	peer, ok := cctx.Lookup(d.peerID)
	if !ok {
		return nil, compute.ErrUnsupportedOperation
	}
	return peer.Compute(ctx, cctx, input)
}

// gc releases slots for any locally tracked handle whose job has reached a
// non-Running status, or that is no longer tracked at all.
func (d *Channel) gc(cctx *channel.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for handle := range d.local {
		status, tracked := cctx.JobStatus(handle)
		if !tracked || status != compute.StatusRunning {
			delete(d.local, handle)
		}
	}
}

// LocalCount reports the current number of admitted local slots, for tests
// and observability.
func (d *Channel) LocalCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.local)
}
