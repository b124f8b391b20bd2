// Copyright 2025 James Ross
// Package syschannel implements the System channel: it intercepts
// Extend/Abort and dispatches them to the local (in-process only) job
// manager, answers Status from the job's published status blob, and
// coerces the TTL of module-artifact Store requests to a long fixed
// lifetime.
package syschannel

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
)

// ModuleArtifactTTL is the coerced TTL applied to Store requests whose
// handle identifies a module artifact: ten days.
const ModuleArtifactTTL = int64(10 * 24 * time.Hour / time.Second)

// JobManager is the local admission/control surface the system channel
// drives Extend/Abort against.
type JobManager interface {
	Extend(ctx context.Context, handle string, ttlSeconds int64) error
	Abort(ctx context.Context, handle string) error
}

// Channel wires Extend/Abort to JobManager and special-cases module Store.
type Channel struct {
	channel.Base
	manager       JobManager
	modulePrefix  string
}

// New constructs the system channel. modulePrefix identifies handles that
// name module artifacts (defaults to "module/" if empty).
func New(id string, manager JobManager, modulePrefix string) *Channel {
	if modulePrefix == "" {
		modulePrefix = "module/"
	}
	return &Channel{Base: channel.NewBase(id), manager: manager, modulePrefix: modulePrefix}
}

func (c *Channel) Compute(ctx context.Context, cctx *channel.Context, input *compute.ComputeInput) (*compute.ComputeOutput, error) {
	switch input.Op {
	case compute.OpExtend:
		if err := c.manager.Extend(ctx, input.Handle, input.TTL); err != nil {
			return nil, err
		}
		return &compute.ComputeOutput{Kind: compute.OutCompleted}, nil
	case compute.OpAbort:
		if err := c.manager.Abort(ctx, input.Handle); err != nil {
			return nil, err
		}
		return &compute.ComputeOutput{Kind: compute.OutCompleted}, nil
	case compute.OpStatus:
		return c.loadStatus(ctx, cctx, input.Handle)
	case compute.OpStore:
		if strings.HasPrefix(input.Store.Handle, c.modulePrefix) {
			input.Store.TTL = ModuleArtifactTTL
		}
		return c.Next(ctx, cctx, input)
	default:
		return c.Next(ctx, cctx, input)
	}
}

// loadStatus resolves a Status request from the job's published status
// blob, so it keeps answering after the job has terminated and the local
// manager no longer tracks it. The blob is fetched downstream of this
// channel rather than through the chain head, keeping Status a local read.
func (c *Channel) loadStatus(ctx context.Context, cctx *channel.Context, jobHandle string) (*compute.ComputeOutput, error) {
	out, err := c.Next(ctx, cctx, &compute.ComputeInput{
		Op:     compute.OpLoad,
		Handle: compute.DeriveStatusHandle(jobHandle),
	})
	if err != nil {
		return nil, err
	}
	var status compute.JobStatus
	if err := json.Unmarshal(out.Data, &status); err != nil {
		return nil, &compute.UnknownError{Source: err}
	}
	return &compute.ComputeOutput{Kind: compute.OutStatus, Status: status}, nil
}
