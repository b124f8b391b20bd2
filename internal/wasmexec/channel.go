package wasmexec

import (
	"context"
	"time"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
	"github.com/flyingrobots/mitsuha/internal/jobmanager"
	"go.uber.org/zap"
)

// HookFactory builds a post-job hook bound to a single request's context,
// called once per admitted Run so hooks that need to read this request's kv
// bag (e.g. the scheduler's removal bookkeeping) see the right values.
type HookFactory func(cctx *channel.Context) jobmanager.PostJobHook

// Channel is the terminal executor: it admits a Run into the local job
// manager, resolves and links the requested symbol, drives it to
// completion via a job controller, and records its output.
type Channel struct {
	channel.Base
	manager *jobmanager.Manager
	linker  *Linker
	kernel  Kernel
	log     *zap.Logger

	hookFactories []HookFactory
}

// New constructs the terminal executor channel.
func New(id string, manager *jobmanager.Manager, linker *Linker, kernel Kernel, log *zap.Logger) *Channel {
	return &Channel{Base: channel.NewBase(id), manager: manager, linker: linker, kernel: kernel, log: log}
}

// WithHookFactory registers a hook factory invoked for every admitted Run,
// returning a controller-scoped post-job hook.
func (c *Channel) WithHookFactory(hf HookFactory) *Channel {
	c.hookFactories = append(c.hookFactories, hf)
	return c
}

func (c *Channel) Compute(ctx context.Context, cctx *channel.Context, input *compute.ComputeInput) (*compute.ComputeOutput, error) {
	if input.Op != compute.OpRun {
		return c.Next(ctx, cctx, input)
	}

	spec := input.Run

	ok, err := c.manager.QueueJob(spec)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Budget exceeded at the point of execution; the caller (the
		// scheduler's event loop) will see this job's row still Pending
		// and retry it on a later tick.
		return &compute.ComputeOutput{Kind: compute.OutSubmitted}, nil
	}

	jc := c.manager.RegisterJobContext(spec.Handle, compute.JobState{
		Kind:     compute.JobStateExpireAt,
		ExpireAt: time.Now().Add(time.Duration(spec.TTL) * time.Second),
	})
	cctx.TrackJob(spec.Handle, jc)
	defer func() {
		c.manager.DeregisterJobContext(spec.Handle)
		cctx.UntrackJob(spec.Handle)
	}()

	ctrl := jobmanager.NewController(spec, c.buildTask(cctx, spec), cctx.Head(), cctx, c.manager, c.log)
	for _, hf := range c.hookFactories {
		ctrl.AddPostJobHook(hf(cctx))
	}

	return ctrl.Run(ctx, jc)
}

// buildTask returns the abortable unit of work the controller drives:
// load the job's input (if any), link and call its symbol, store the
// result against the job's output handle.
func (c *Channel) buildTask(cctx *channel.Context, spec compute.JobSpec) jobmanager.Task {
	return func(ctx context.Context) error {
		var inputData []byte
		if spec.InputHandle != "" {
			out, err := cctx.Head().Compute(ctx, cctx, &compute.ComputeInput{Op: compute.OpLoad, Handle: spec.InputHandle})
			if err != nil {
				return err
			}
			inputData = out.Data
		}

		ec, err := c.linker.Link(ctx, cctx, c.kernel, spec.Symbol, spec.Extensions)
		if err != nil {
			return err
		}

		result, err := ec.Call(ctx, spec.Symbol, inputData)
		if err != nil {
			return err
		}

		if spec.OutputHandle == "" {
			return nil
		}
		_, err = cctx.Head().Compute(ctx, cctx, &compute.ComputeInput{
			Op: compute.OpStore,
			Store: compute.StorageSpec{
				Handle:     spec.OutputHandle,
				Data:       result,
				TTL:        spec.TTL,
				Extensions: spec.Extensions,
			},
		})
		return err
	}
}
