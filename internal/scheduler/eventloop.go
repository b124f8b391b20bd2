// Copyright 2025 James Ross
package scheduler

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
	"go.uber.org/zap"
)

// Loop drives the scheduler's per-instance event loop: every PollInterval
// it spawns the six best-effort tasks concurrently, joining the previous
// iteration's tasks at the start of the next tick (bounding parallelism to
// one outstanding round without ever blocking the current tick on its own
// spawn). Dequeued job/command dispatches are detached from the round
// entirely: a Run blocks for the job's full lifetime, and holding the
// slice open for it would starve lease renewal until the lease expired
// and the next rotation aborted the very job just dispatched.
type Loop struct {
	s    *Scheduler
	head channel.Channel
	cctx *channel.Context
	log  *zap.Logger

	prev       *sync.WaitGroup // prior tick's slice tasks
	dispatches sync.WaitGroup  // detached in-flight job/command dispatches
}

// NewLoop constructs the event loop, dispatching dequeued work back into
// head. Each dispatch derives its own kv scope from cctx.
func NewLoop(s *Scheduler, head channel.Channel, cctx *channel.Context, log *zap.Logger) *Loop {
	return &Loop{s: s, head: head, cctx: cctx, log: log}
}

// Run blocks, executing ticks until ctx is canceled, then waits for the
// last round's tasks and any in-flight dispatches to finish.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if l.prev != nil {
				l.prev.Wait()
			}
			l.dispatches.Wait()
			return
		case <-ticker.C:
			l.tick(ctx)
		}
	}
}

func (l *Loop) tick(ctx context.Context) {
	// Join the prior iteration's slice tasks before re-issuing. The tasks
	// themselves are short (dispatches detach, see consumeFromJobQueue), so
	// this lag is one queue-pop, not one job lifetime.
	if l.prev != nil {
		l.prev.Wait()
	}

	wg := &sync.WaitGroup{}
	tasks := []func(context.Context){
		l.rotateExpiredPartition,
		l.removeStalePartitions,
		l.renewPartition,
		l.consumeFromJobQueue,
		l.consumeFromJobCommandQueue,
		l.processBatchEvent,
	}
	for _, task := range tasks {
		wg.Add(1)
		go func(t func(context.Context)) {
			defer wg.Done()
			t(ctx)
		}(task)
	}
	l.prev = wg
}

func (l *Loop) rotateExpiredPartition(ctx context.Context) {
	id := l.s.PartitionID()
	p, err := l.s.store.GetPartition(ctx, id)
	if err != nil {
		l.log.Error("rotate: get partition", zap.Error(err))
		return
	}
	if time.Now().Before(p.LeaseExpiry) {
		return
	}

	l.log.Warn("partition lease expired, rotating", zap.String("partition_id", id))

	handles, err := l.s.store.AbortLocalJobs(ctx, id)
	if err != nil {
		l.log.Error("rotate: abort local jobs", zap.Error(err))
	}
	for _, h := range handles {
		l.log.Info("job still running under rotated partition", zap.String("job_handle", h))
	}

	l.s.moduleLock.Lock()
	defer l.s.moduleLock.Unlock()

	if err := l.s.store.DeletePartition(ctx, id); err != nil {
		l.log.Error("rotate: delete partition", zap.Error(err))
		return
	}
	newP, err := l.s.store.CreatePartition(ctx, p.ShardStart, p.ShardEnd, int64(l.s.cfg.LeaseDuration.Seconds()), l.s.cfg.TotalComputeUnits)
	if err != nil {
		l.log.Error("rotate: create partition", zap.Error(err))
		return
	}
	l.s.mu.Lock()
	l.s.partitionID = newP.ID
	l.s.removed = nil
	l.s.mu.Unlock()
}

func (l *Loop) removeStalePartitions(ctx context.Context) {
	removed, err := l.s.store.RemoveStalePartitions(ctx)
	if err != nil {
		l.log.Error("remove stale partitions", zap.Error(err))
		return
	}
	if removed {
		if err := l.s.store.Reshard(ctx, l.s.cfg.MaxShards); err != nil {
			l.log.Error("reshard after stale removal", zap.Error(err))
		}
	}
}

func (l *Loop) renewPartition(ctx context.Context) {
	id := l.s.PartitionID()
	if err := l.s.store.RenewPartition(ctx, id, int64(l.s.cfg.LeaseDuration.Seconds()), int64(l.s.cfg.LeaseSkew.Seconds())); err != nil {
		l.log.Warn("partition renewal refused, will rotate next tick", zap.String("partition_id", id), zap.Error(err))
	}
}

// loadBlob loads the stored ComputeInput blob through cctx, stamps it
// queued and signed, and returns it ready for dispatch back into head.
func (l *Loop) loadBlob(ctx context.Context, cctx *channel.Context, storageHandle string) (*compute.ComputeInput, error) {
	out, err := l.head.Compute(ctx, cctx, &compute.ComputeInput{Op: compute.OpLoad, Handle: storageHandle})
	if err != nil {
		return nil, err
	}
	var input compute.ComputeInput
	if err := json.Unmarshal(out.Data, &input); err != nil {
		return nil, &compute.UnknownError{Source: err}
	}

	ext := input.Ext().Clone()
	ext[compute.ExtQueued] = "true"
	input.SetExt(ext)
	cctx.SignComputeInput(&input)
	return &input, nil
}

func (l *Loop) consumeFromJobQueue(ctx context.Context) {
	id := l.s.PartitionID()
	row, ok, err := l.s.store.ConsumeOldestPendingJob(ctx, id)
	if err != nil {
		l.log.Error("consume job queue", zap.Error(err))
		return
	}
	if !ok {
		return
	}

	// Each dispatch gets its own derived context so concurrent dispatches
	// never race each other's kv entries, which the post-job hook reads.
	cctx := l.cctx.Derive()
	input, err := l.loadBlob(ctx, cctx, row.StorageHandle)
	if err != nil {
		l.log.Error("consume job queue: load blob", zap.String("job_handle", row.JobHandle), zap.Error(err))
		return
	}

	cctx.KVSet(kvJobHandle, row.JobHandle)
	cctx.KVSet(kvStorageHandle, row.StorageHandle)

	// The dispatched Run blocks until the job terminates; detach it so this
	// slice task returns immediately and the next tick's lease renewal is
	// never held hostage by a long job.
	l.dispatches.Add(1)
	go func() {
		defer l.dispatches.Done()
		if _, err := l.head.Compute(ctx, cctx, input); err != nil {
			l.log.Error("dispatch dequeued run", zap.String("job_handle", row.JobHandle), zap.Error(err))
		}
	}()
}

func (l *Loop) consumeFromJobCommandQueue(ctx context.Context) {
	id := l.s.PartitionID()
	row, ok, err := l.s.store.ConsumeOldestPendingCommand(ctx, id)
	if err != nil {
		l.log.Error("consume command queue", zap.Error(err))
		return
	}
	if !ok {
		return
	}

	cctx := l.cctx.Derive()
	input, err := l.loadBlob(ctx, cctx, row.StorageHandle)
	if err != nil {
		l.log.Error("consume command queue: load blob", zap.String("job_handle", row.JobHandle), zap.Error(err))
		return
	}

	cctx.KVSet(kvCommandID, strconv.FormatInt(row.ID, 10))
	cctx.KVSet(kvStorageHandle, row.StorageHandle)

	l.dispatches.Add(1)
	go func() {
		defer l.dispatches.Done()
		if _, err := l.head.Compute(ctx, cctx, input); err != nil {
			l.log.Error("dispatch dequeued command", zap.String("job_handle", row.JobHandle), zap.Error(err))
		}
	}()
}

func (l *Loop) processBatchEvent(ctx context.Context) {
	id := l.s.PartitionID()
	p, err := l.s.store.GetPartition(ctx, id)
	if err != nil {
		l.log.Error("batch event: get partition", zap.Error(err))
		return
	}

	removed := l.s.drainRemoved()
	adopted, err := l.s.store.ProcessBatchEvent(ctx, id, p.ShardStart, p.ShardEnd, removed, l.s.cfg.BatchSize)
	if err != nil {
		if err == compute.ErrEntityNotFound || err == compute.ErrEntityConflict {
			l.log.Error("batch event fatal, rotating", zap.Error(err))
			l.rotateExpiredPartition(ctx)
			return
		}
		l.log.Error("batch event", zap.Error(err))
		return
	}
	if adopted > 0 {
		l.log.Info("adopted orphaned jobs", zap.Int("count", adopted), zap.String("partition_id", id))
	}
}
