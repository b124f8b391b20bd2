// Copyright 2025 James Ross
package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/flyingrobots/mitsuha/internal/compute"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open("file::memory:?cache=shared")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestReshardDividesShardsEvenly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p1, err := store.CreatePartition(ctx, 0, 255, 30, 100)
	if err != nil {
		t.Fatalf("create p1: %v", err)
	}
	_, err = store.CreatePartition(ctx, 0, 255, 30, 100)
	if err != nil {
		t.Fatalf("create p2: %v", err)
	}

	if err := store.Reshard(ctx, 256); err != nil {
		t.Fatalf("reshard: %v", err)
	}

	got, err := store.GetPartition(ctx, p1.ID)
	if err != nil {
		t.Fatalf("get p1: %v", err)
	}
	if got.ShardEnd-got.ShardStart+1 != 128 {
		t.Fatalf("expected 128-wide shard range, got [%d,%d]", got.ShardStart, got.ShardEnd)
	}
}

func TestConsumeOldestPendingJobTransitionsOnce(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, err := store.CreatePartition(ctx, 0, 255, 30, 100)
	if err != nil {
		t.Fatalf("create partition: %v", err)
	}

	tx, _ := store.db.BeginTx(ctx, nil)
	if err := store.InsertJob(ctx, tx, JobQueueRow{
		JobHandle: "job/1", PartitionID: nullString(p.ID), ShardID: 1,
		JobState: JobStatePending, CreatedAt: time.Now(), ComputeUnits: 5,
		StorageHandle: "blob/1", Algorithm: AlgorithmRandom,
	}); err != nil {
		t.Fatalf("insert job: %v", err)
	}
	tx.Commit()

	row, ok, err := store.ConsumeOldestPendingJob(ctx, p.ID)
	if err != nil || !ok {
		t.Fatalf("consume: ok=%v err=%v", ok, err)
	}
	if row.JobHandle != "job/1" || row.JobState != JobStateRunning {
		t.Fatalf("unexpected row: %+v", row)
	}

	_, ok, err = store.ConsumeOldestPendingJob(ctx, p.ID)
	if err != nil {
		t.Fatalf("second consume: %v", err)
	}
	if ok {
		t.Fatal("expected no further pending rows")
	}
}

func TestProcessBatchEventAdoptsOrphans(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	p, err := store.CreatePartition(ctx, 0, 255, 30, 10)
	if err != nil {
		t.Fatalf("create partition: %v", err)
	}

	tx, _ := store.db.BeginTx(ctx, nil)
	if err := store.InsertJob(ctx, tx, JobQueueRow{
		JobHandle: "orphan/1", ShardID: 10, JobState: JobStatePending,
		CreatedAt: time.Now(), ComputeUnits: 5, StorageHandle: "blob/2", Algorithm: AlgorithmRandom,
	}); err != nil {
		t.Fatalf("insert orphan: %v", err)
	}
	tx.Commit()

	adopted, err := store.ProcessBatchEvent(ctx, p.ID, 0, 255, nil, 10)
	if err != nil {
		t.Fatalf("batch event: %v", err)
	}
	if adopted != 1 {
		t.Fatalf("expected 1 adopted orphan, got %d", adopted)
	}

	tx2, _ := store.db.BeginTx(ctx, nil)
	row, err := store.GetJob(ctx, tx2, "orphan/1")
	tx2.Rollback()
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if !row.PartitionID.Valid || row.PartitionID.String != p.ID {
		t.Fatalf("expected orphan adopted by %s, got %+v", p.ID, row.PartitionID)
	}
}

func TestSchedulerScheduleQueuesUnsignedRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	s, err := New(ctx, store, Config{MaxShards: 16, LeaseDuration: 30 * time.Second, LeaseSkew: 5 * time.Second, PollInterval: time.Second, BatchSize: 10, TotalComputeUnits: 100}, nil, "inst-1", zap.NewNop())
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}

	head := &recordingHead{}
	cctx := newCtx(head)

	direct, err := s.Schedule(ctx, cctx, head, &compute.ComputeInput{Op: compute.OpRun, Run: compute.JobSpec{Handle: "job/a", TTL: 5}})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if direct {
		t.Fatal("expected fresh submission to be queued, not dispatched directly")
	}
}
