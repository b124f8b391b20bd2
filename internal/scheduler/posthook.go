// Copyright 2025 James Ross
package scheduler

import (
	"context"

	"github.com/flyingrobots/mitsuha/internal/channel"
)

// PostJobHook is registered on every job controller whose run was
// dispatched through the scheduled path. On any terminal transition it
// enqueues the job's handle into the scheduler's removed set, picked up by
// the next process_batch_event tick to free its partition-resource budget
// and adopt a waiting orphan in its place. The controller itself already
// performs the in-process job-manager dequeue as part of termination.
type PostJobHook struct {
	scheduler *Scheduler
	cctx      *channel.Context
}

// NewPostJobHook binds a hook to the per-dispatch context the scheduler's
// event loop stashed (job_handle, storage_handle) into.
func NewPostJobHook(s *Scheduler, cctx *channel.Context) *PostJobHook {
	return &PostJobHook{scheduler: s, cctx: cctx}
}

func (h *PostJobHook) Run(ctx context.Context) error {
	jobHandle, ok := h.cctx.KVGet(kvJobHandle)
	if !ok {
		return nil
	}
	h.scheduler.EnqueueRemoved(jobHandle)
	return nil
}
