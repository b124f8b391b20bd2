// Copyright 2025 James Ross
package jobmanager

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
	"go.uber.org/zap"
)

type recordingChannel struct {
	channel.Base
	stores []compute.StorageSpec
}

func (r *recordingChannel) Compute(ctx context.Context, cctx *channel.Context, input *compute.ComputeInput) (*compute.ComputeOutput, error) {
	if input.Op == compute.OpStore {
		r.stores = append(r.stores, input.Store)
	}
	return &compute.ComputeOutput{Kind: compute.OutCompleted}, nil
}

func TestControllerRunCompletes(t *testing.T) {
	m := New("inst-1", compute.JobCost{"compute": 100}, StandardCostEvaluator{}, zap.NewNop())
	spec := compute.JobSpec{Handle: "job/1", TTL: 10, Extensions: compute.Extensions{compute.ExtJobOutputTTL: "10"}}
	_, _ = m.QueueJob(spec)
	jc := m.RegisterJobContext(spec.Handle, compute.JobState{Kind: compute.JobStateExpireAt, ExpireAt: time.Now().Add(time.Minute)})

	rec := &recordingChannel{Base: channel.NewBase("rec")}
	cctx := channel.NewContext(rec)

	ctrl := NewController(spec, func(ctx context.Context) error { return nil }, rec, cctx, m, zap.NewNop())
	out, err := ctrl.Run(context.Background(), jc)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Kind != compute.OutCompleted {
		t.Fatalf("expected OutCompleted, got %+v", out)
	}
	// A Running heartbeat may precede the terminal store depending on
	// whether the initial expiry delta or task completion is seen first;
	// the terminal store is always last.
	if len(rec.stores) == 0 {
		t.Fatal("expected at least the terminal status store")
	}
	var status compute.JobStatus
	if err := json.Unmarshal(rec.stores[len(rec.stores)-1].Data, &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.Kind != compute.StatusCompleted {
		t.Fatalf("expected StatusCompleted, got %v", status.Kind)
	}
	if _, ok := m.JobCost(spec.Handle); ok {
		t.Fatal("expected job to be dequeued from cost ledger on completion")
	}
}

func TestControllerRunAbort(t *testing.T) {
	m := New("inst-1", compute.JobCost{"compute": 100}, StandardCostEvaluator{}, zap.NewNop())
	spec := compute.JobSpec{Handle: "job/2", TTL: 10}
	jc := m.RegisterJobContext(spec.Handle, compute.JobState{Kind: compute.JobStateExpireAt, ExpireAt: time.Now().Add(time.Minute)})

	rec := &recordingChannel{Base: channel.NewBase("rec")}
	cctx := channel.NewContext(rec)

	blocked := make(chan struct{})
	ctrl := NewController(spec, func(ctx context.Context) error {
		<-ctx.Done()
		close(blocked)
		return ctx.Err()
	}, rec, cctx, m, zap.NewNop())

	go func() {
		time.Sleep(10 * time.Millisecond)
		jc.SetState(compute.JobState{Kind: compute.JobStateAborted})
	}()

	_, err := ctrl.Run(context.Background(), jc)
	if err != compute.ErrJobAborted {
		t.Fatalf("expected ErrJobAborted, got %v", err)
	}
	<-blocked
}
