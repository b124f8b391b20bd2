// Copyright 2025 James Ross
package qflow

import (
	"context"
	"testing"
	"time"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
	"go.uber.org/zap"
)

type queueBackend struct {
	pending []*compute.ComputeInput
}

func (q *queueBackend) Write(ctx context.Context, input *compute.ComputeInput) error {
	q.pending = append(q.pending, input)
	return nil
}

func (q *queueBackend) Read(ctx context.Context, clientID string) (*compute.ComputeInput, error) {
	if len(q.pending) == 0 {
		return nil, nil
	}
	next := q.pending[0]
	q.pending = q.pending[1:]
	return next, nil
}

func TestDispatchOneStampsQueuedAndSigned(t *testing.T) {
	backend := &queueBackend{pending: []*compute.ComputeInput{
		{Op: compute.OpStatus, Handle: "job/1"},
	}}
	next := &captureNext{Base: channel.NewBase("capture")}
	cctx := channel.NewContext(next)
	d := NewDispatcher(backend, next, cctx, "worker-1", time.Millisecond, zap.NewNop())

	if !d.dispatchOne(context.Background()) {
		t.Fatal("expected dispatchOne to report work done")
	}
	if next.got == nil {
		t.Fatal("expected the dequeued input forwarded to the chain head")
	}
	if next.got.Ext()[compute.ExtQueued] != "true" {
		t.Fatal("expected the replayed input stamped queued")
	}
	if !cctx.IsComputeInputSigned(next.got) {
		t.Fatal("expected the replayed input signed")
	}
}

func TestDispatchOneReturnsFalseWhenEmpty(t *testing.T) {
	backend := &queueBackend{}
	next := &captureNext{Base: channel.NewBase("capture")}
	cctx := channel.NewContext(next)
	d := NewDispatcher(backend, next, cctx, "worker-1", time.Millisecond, zap.NewNop())

	if d.dispatchOne(context.Background()) {
		t.Fatal("expected dispatchOne to report no work")
	}
	if next.got != nil {
		t.Fatal("expected no forward when the queue is empty")
	}
}
