// Copyright 2025 James Ross
package admintui

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeJobManager struct {
	id      string
	queued  int
	tracked int
}

func (f fakeJobManager) InstanceID() string    { return f.id }
func (f fakeJobManager) QueuedJobsCount() int  { return f.queued }
func (f fakeJobManager) TrackedCount() int     { return f.tracked }

func TestSnapshotFuncWithoutScheduler(t *testing.T) {
	fn := NewSnapshotFunc(fakeJobManager{id: "inst-1", queued: 3, tracked: 2}, nil)
	s := fn(context.Background())
	if s.InstanceID != "inst-1" || s.QueuedJobs != 3 || s.TrackedJobs != 2 {
		t.Fatalf("unexpected snapshot: %+v", s)
	}
	if s.PartitionID != "" {
		t.Fatalf("expected no partition info without a scheduler, got %+v", s)
	}
}

func TestSnapshotFuncWithScheduler(t *testing.T) {
	expiry := time.Now().Add(30 * time.Second)
	partFn := func(ctx context.Context) (PartitionInfo, error) {
		return PartitionInfo{ID: "p1", ShardStart: 0, ShardEnd: 128, LeaseExpiry: expiry}, nil
	}
	fn := NewSnapshotFunc(fakeJobManager{id: "inst-1"}, partFn)
	s := fn(context.Background())
	if s.PartitionID != "p1" || s.ShardEnd != 128 {
		t.Fatalf("unexpected partition info: %+v", s)
	}
}

func TestSnapshotFuncToleratesPartitionError(t *testing.T) {
	partFn := func(ctx context.Context) (PartitionInfo, error) {
		return PartitionInfo{}, errors.New("no partition yet")
	}
	fn := NewSnapshotFunc(fakeJobManager{id: "inst-1"}, partFn)
	s := fn(context.Background())
	if s.PartitionID != "" {
		t.Fatalf("expected empty partition id on lookup error, got %+v", s)
	}
}
