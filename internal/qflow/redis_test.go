// Copyright 2025 James Ross
package qflow

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/flyingrobots/mitsuha/internal/compute"
	"github.com/redis/go-redis/v9"
)

func newTestBackend(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	backend := NewRedis(rdb, "qflow-test")
	if err := backend.SetDesiredQueues(context.Background(), 2); err != nil {
		t.Fatalf("set desired: %v", err)
	}
	if err := backend.Rebalance(context.Background()); err != nil {
		t.Fatalf("rebalance: %v", err)
	}
	return backend, mr
}

func TestWriteReadRoundTrip(t *testing.T) {
	backend, _ := newTestBackend(t)
	ctx := context.Background()

	in := &compute.ComputeInput{Op: compute.OpStatus, Handle: "job/1"}
	if err := backend.Write(ctx, in); err != nil {
		t.Fatalf("write: %v", err)
	}

	out, err := backend.Read(ctx, "client-a")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out == nil {
		t.Fatal("expected a value")
	}
	if out.Handle != "job/1" {
		t.Fatalf("got %+v", out)
	}
}

func TestQueueFIFOWithinSingleQueue(t *testing.T) {
	backend, _ := newTestBackend(t)
	_ = backend.SetDesiredQueues(context.Background(), 1)
	_ = backend.Rebalance(context.Background())
	ctx := context.Background()

	a := &compute.ComputeInput{Op: compute.OpStatus, Handle: "a"}
	b := &compute.ComputeInput{Op: compute.OpStatus, Handle: "b"}
	if err := backend.Write(ctx, a); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if err := backend.Write(ctx, b); err != nil {
		t.Fatalf("write b: %v", err)
	}

	first, err := backend.Read(ctx, "client-a")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	second, err := backend.Read(ctx, "client-a")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if first.Handle != "a" || second.Handle != "b" {
		t.Fatalf("expected FIFO order a,b got %s,%s", first.Handle, second.Handle)
	}
}

func TestStickyRoutingPinsFollowups(t *testing.T) {
	backend, _ := newTestBackend(t)
	ctx := context.Background()

	run := &compute.ComputeInput{Op: compute.OpRun, Run: compute.JobSpec{Handle: "job/sticky"}}
	if err := backend.Write(ctx, run); err != nil {
		t.Fatalf("write run: %v", err)
	}

	dequeued, err := backend.Read(ctx, "worker-7")
	if err != nil {
		t.Fatalf("read run: %v", err)
	}
	if dequeued == nil || dequeued.Op != compute.OpRun {
		t.Fatalf("expected to dequeue the run, got %+v", dequeued)
	}

	status := &compute.ComputeInput{Op: compute.OpStatus, Handle: "job/sticky"}
	if err := backend.Write(ctx, status); err != nil {
		t.Fatalf("write status: %v", err)
	}

	// A different client's Read must not see the sticky op.
	other, err := backend.Read(ctx, "worker-other")
	if err != nil {
		t.Fatalf("read other: %v", err)
	}
	if other != nil {
		t.Fatalf("expected no global delivery of sticky op to other worker, got %+v", other)
	}

	owner, err := backend.Read(ctx, "worker-7")
	if err != nil {
		t.Fatalf("read owner: %v", err)
	}
	if owner == nil || owner.Handle != "job/sticky" {
		t.Fatalf("expected owning worker to drain sticky status op, got %+v", owner)
	}
}
