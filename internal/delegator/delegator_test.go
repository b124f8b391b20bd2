// Copyright 2025 James Ross
package delegator

import (
	"context"
	"testing"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
)

type fakeJobContext struct{ status compute.JobStatusKind }

func (f *fakeJobContext) Status() compute.JobStatusKind { return f.status }

type captureNext struct {
	channel.Base
	calls int
}

func (c *captureNext) Compute(ctx context.Context, cctx *channel.Context, input *compute.ComputeInput) (*compute.ComputeOutput, error) {
	c.calls++
	return &compute.ComputeOutput{Kind: compute.OutSubmitted}, nil
}

func TestOverflowRoutesToPeer(t *testing.T) {
	local := &captureNext{Base: channel.NewBase("local-next")}
	peer := &captureNext{Base: channel.NewBase("peer")}
	d := New("delegator", "peer", 1)
	d.Connect(local)
	cctx := channel.NewContext(d, peer)

	// First Run is admitted locally.
	_, err := d.Compute(context.Background(), cctx, &compute.ComputeInput{Op: compute.OpRun, Run: compute.JobSpec{Handle: "job/1"}})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if local.calls != 1 {
		t.Fatalf("expected local forward, got %d calls", local.calls)
	}

	// Without the job completing, a second Run overflows to the peer.
	_, err = d.Compute(context.Background(), cctx, &compute.ComputeInput{Op: compute.OpRun, Run: compute.JobSpec{Handle: "job/2"}})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if peer.calls != 1 {
		t.Fatalf("expected peer forward on overflow, got %d calls", peer.calls)
	}
}

func TestGCReleasesCompletedSlot(t *testing.T) {
	local := &captureNext{Base: channel.NewBase("local-next")}
	peer := &captureNext{Base: channel.NewBase("peer")}
	d := New("delegator", "peer", 1)
	d.Connect(local)
	cctx := channel.NewContext(d, peer)

	cctx.TrackJob("job/1", &fakeJobContext{status: compute.StatusRunning})
	_, _ = d.Compute(context.Background(), cctx, &compute.ComputeInput{Op: compute.OpRun, Run: compute.JobSpec{Handle: "job/1"}})
	if d.LocalCount() != 1 {
		t.Fatalf("expected 1 local slot, got %d", d.LocalCount())
	}

	// Job completes; GC on the next Run should release its slot.
	cctx.TrackJob("job/1", &fakeJobContext{status: compute.StatusCompleted})
	_, err := d.Compute(context.Background(), cctx, &compute.ComputeInput{Op: compute.OpRun, Run: compute.JobSpec{Handle: "job/2"}})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if local.calls != 2 {
		t.Fatalf("expected second run admitted locally after GC, got %d local calls", local.calls)
	}
}
