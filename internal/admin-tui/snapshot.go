// Copyright 2025 James Ross
// Package admintui is the read-only operator view: live job counts,
// partition ownership, and queue depth for one instance. It only observes
// state other components already compute; nothing here mutates the
// runtime.
package admintui

import (
	"context"
	"time"
)

// JobManagerView is the subset of jobmanager.Manager the dashboard reads.
type JobManagerView interface {
	InstanceID() string
	QueuedJobsCount() int
	TrackedCount() int
}

// PartitionInfo is the slice of scheduler partition state the dashboard
// reads, decoupled from the scheduler package's own Partition type so this
// package doesn't need to import it.
type PartitionInfo struct {
	ID          string
	ShardStart  int64
	ShardEnd    int64
	LeaseExpiry time.Time
}

// PartitionFunc fetches the calling instance's own partition row. Returns
// an error when the scheduler is disabled or the partition lookup fails.
type PartitionFunc func(ctx context.Context) (PartitionInfo, error)

// Snapshot is one refresh's worth of display data.
type Snapshot struct {
	InstanceID     string
	QueuedJobs     int
	TrackedJobs    int
	PartitionID    string
	ShardStart     int64
	ShardEnd       int64
	LeaseExpiresAt time.Time
	TakenAt        time.Time
	Err            error
}

// SnapshotFunc produces the latest Snapshot. Implementations should be
// cheap and side-effect free: the TUI calls this on every refresh tick.
type SnapshotFunc func(ctx context.Context) Snapshot

// NewSnapshotFunc binds jm and partFn (partFn may be nil when the
// scheduler is disabled) into a SnapshotFunc.
func NewSnapshotFunc(jm JobManagerView, partFn PartitionFunc) SnapshotFunc {
	return func(ctx context.Context) Snapshot {
		s := Snapshot{
			InstanceID:  jm.InstanceID(),
			QueuedJobs:  jm.QueuedJobsCount(),
			TrackedJobs: jm.TrackedCount(),
			TakenAt:     time.Now(),
		}
		if partFn != nil {
			if info, err := partFn(ctx); err == nil {
				s.PartitionID = info.ID
				s.ShardStart = info.ShardStart
				s.ShardEnd = info.ShardEnd
				s.LeaseExpiresAt = info.LeaseExpiry
			}
		}
		return s
	}
}
