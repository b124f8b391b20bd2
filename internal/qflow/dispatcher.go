// Copyright 2025 James Ross
package qflow

import (
	"context"
	"time"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
	"go.uber.org/zap"
)

// Dispatcher drains a QFlow backend on behalf of one worker identity and
// replays each dequeued input through the chain head, stamped queued and
// signed so WriterChannel forwards rather than re-enqueues it. It's the
// QFlow-backed counterpart to the relational scheduler's event Loop.
type Dispatcher struct {
	backend  QFlow
	head     channel.Channel
	cctx     *channel.Context
	clientID string
	idle     time.Duration
	log      *zap.Logger
}

// NewDispatcher constructs a dispatcher draining backend under clientID,
// polling every idle when the queue comes back empty.
func NewDispatcher(backend QFlow, head channel.Channel, cctx *channel.Context, clientID string, idle time.Duration, log *zap.Logger) *Dispatcher {
	if idle <= 0 {
		idle = 200 * time.Millisecond
	}
	return &Dispatcher{backend: backend, head: head, cctx: cctx, clientID: clientID, idle: idle, log: log}
}

// Run blocks, dispatching dequeued work until ctx is canceled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.idle)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for d.dispatchOne(ctx) {
			}
		}
	}
}

// dispatchOne reads and dispatches at most one input, reporting whether
// anything was dequeued so Run can drain a burst before waiting again.
func (d *Dispatcher) dispatchOne(ctx context.Context) bool {
	input, err := d.backend.Read(ctx, d.clientID)
	if err != nil {
		d.log.Error("qflow dispatch: read", zap.Error(err))
		return false
	}
	if input == nil {
		return false
	}

	ext := input.Ext().Clone()
	ext[compute.ExtQueued] = "true"
	input.SetExt(ext)
	d.cctx.SignComputeInput(input)

	if _, err := d.head.Compute(ctx, d.cctx, input); err != nil {
		d.log.Error("qflow dispatch: compute", zap.String("op", input.Op.String()), zap.Error(err))
	}
	return true
}
