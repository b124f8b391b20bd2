// Copyright 2025 James Ross
package jobmanager

import (
	"context"
	"encoding/json"
	"time"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
	"go.uber.org/zap"
)

// statusUpdateInterval bounds how often a running job's heartbeat status is
// republished to storage while it executes.
const statusUpdateInterval = time.Second

// Task is the unit of work a job controller drives to completion: typically
// a wasmtime-executor invocation, but abstracted so the controller doesn't
// depend on the executor package.
type Task func(ctx context.Context) error

// Controller runs one job to completion, translating JobState deltas
// pushed through its JobContext into status publications against the
// chain, and invoking post-job hooks on every terminal transition.
type Controller struct {
	spec    compute.JobSpec
	task    Task
	head    channel.Channel
	cctx    *channel.Context
	manager *Manager
	log     *zap.Logger

	hooks []PostJobHook
}

// NewController constructs a controller for spec, driving task and
// publishing status through head.
func NewController(spec compute.JobSpec, task Task, head channel.Channel, cctx *channel.Context, manager *Manager, log *zap.Logger) *Controller {
	return &Controller{spec: spec, task: task, head: head, cctx: cctx, manager: manager, log: log}
}

// AddPostJobHook registers an additional hook run on this controller's
// terminal transition, beyond the manager-wide hooks already injected.
func (c *Controller) AddPostJobHook(hook PostJobHook) {
	c.hooks = append(c.hooks, hook)
}

// Run drives the job: it launches task in a goroutine, then watches the
// JobContext's update channel for expiry, abort, or completion deltas,
// publishing a Running heartbeat status at most once per
// statusUpdateInterval while the job is healthy. Run is the sole consumer
// of jc.Updates(); every state it processes is reported back through
// jc.Publish so status probes read the observed leg, never this one.
func (c *Controller) Run(ctx context.Context, jc *JobContext) (*compute.ComputeOutput, error) {
	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- c.task(taskCtx) }()

	var lastStatusUpdate time.Time
	var maxExpiry time.Time

	runHooks := func() {
		for _, h := range c.hooks {
			if err := h.Run(ctx); err != nil {
				c.log.Error("post job hook failed", zap.Error(err))
			}
		}
		for _, h := range c.manager.Hooks() {
			if err := h.Run(ctx); err != nil {
				c.log.Error("post job hook failed", zap.Error(err))
			}
		}
	}

	for {
		select {
		case err := <-done:
			runHooks()
			c.manager.DequeueJob(c.spec.Handle)
			if err != nil {
				jc.Publish(compute.JobState{Kind: compute.JobStateAborted})
				_ = c.updateStatus(ctx, compute.JobStatus{Kind: compute.StatusAborted}, time.Now())
				return nil, &compute.UnknownError{Source: err}
			}
			jc.Publish(compute.JobState{Kind: compute.JobStateCompleted})
			if err := c.updateStatus(ctx, compute.JobStatus{Kind: compute.StatusCompleted}, time.Now()); err != nil {
				return nil, err
			}
			c.log.Info("job completed", zap.String("handle", c.spec.Handle))
			return &compute.ComputeOutput{Kind: compute.OutCompleted}, nil

		case st := <-jc.Updates():
			now := time.Now()
			switch {
			case st.Kind == compute.JobStateExpireAt && !st.ExpireAt.After(now):
				cancel()
				<-done
				jc.Publish(st)
				runHooks()
				c.manager.DequeueJob(c.spec.Handle)
				_ = c.updateStatus(ctx, compute.JobStatus{Kind: compute.StatusExpired, ExpiredAt: st.ExpireAt}, now)
				c.log.Info("job expired", zap.String("handle", c.spec.Handle), zap.Time("expiry", st.ExpireAt))
				return nil, compute.ErrJobExpired

			case st.Kind == compute.JobStateAborted:
				cancel()
				<-done
				jc.Publish(st)
				runHooks()
				c.manager.DequeueJob(c.spec.Handle)
				_ = c.updateStatus(ctx, compute.JobStatus{Kind: compute.StatusAborted}, now)
				c.log.Info("job aborted", zap.String("handle", c.spec.Handle))
				return nil, compute.ErrJobAborted

			case st.Kind == compute.JobStateExpireAt && st.ExpireAt.After(now):
				jc.Publish(st)
				if st.ExpireAt.After(maxExpiry) {
					maxExpiry = st.ExpireAt
				}
				if lastStatusUpdate.IsZero() || now.Sub(lastStatusUpdate) >= statusUpdateInterval {
					if err := c.updateStatus(ctx, compute.JobStatus{Kind: compute.StatusRunning}, now); err != nil {
						return nil, err
					}
					lastStatusUpdate = now
				}
			}
		}
	}
}

// updateStatus publishes status against the job's derived status handle,
// honoring the TTL carried in ExtJobOutputTTL.
func (c *Controller) updateStatus(ctx context.Context, status compute.JobStatus, at time.Time) error {
	c.log.Debug("updating job status", zap.String("handle", c.spec.Handle), zap.Int("kind", int(status.Kind)))

	status.Extensions = compute.Extensions{compute.ExtJobStatusLastUpdated: at.UTC().Format(time.RFC3339)}

	data, err := json.Marshal(status)
	if err != nil {
		return &compute.UnknownError{Source: err}
	}

	ttlStr, ok := c.spec.Extensions[compute.ExtJobOutputTTL]
	ttl := c.spec.TTL
	if ok {
		if parsed, err := time.ParseDuration(ttlStr + "s"); err == nil {
			ttl = int64(parsed.Seconds())
		}
	}

	statusHandle := c.spec.StatusHandle
	if statusHandle == "" {
		statusHandle = compute.DeriveStatusHandle(c.spec.Handle)
	}

	_, err = c.head.Compute(ctx, c.cctx, &compute.ComputeInput{
		Op: compute.OpStore,
		Store: compute.StorageSpec{
			Handle:     statusHandle,
			Data:       data,
			TTL:        ttl,
			Extensions: c.spec.Extensions,
		},
	})
	return err
}
