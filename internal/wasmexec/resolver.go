// Copyright 2025 James Ross
// Package wasmexec implements the terminal executor channel: it resolves a
// job's module bytes through the same channel chain used for everything
// else, links the job's requested symbol against them, sandboxes the call,
// and records output via Store against the job's output handle.
package wasmexec

import (
	"context"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
)

// BlobResolver resolves a ModuleInfo to its stored bytes by issuing a Load
// through the chain head, and can register (Store) a module's bytes back
// into the same storage. Handles are namespace-prefixed when the request
// carries a resolver prefix (stamped by the namespacer).
type BlobResolver struct {
	head channel.Channel
}

// NewBlobResolver constructs a resolver dispatching through head.
func NewBlobResolver(head channel.Channel) *BlobResolver {
	return &BlobResolver{head: head}
}

// handleFor computes the storage handle for a module, honoring a
// namespace resolver prefix if present in ext.
func (r *BlobResolver) handleFor(info compute.ModuleInfo, ext compute.Extensions) string {
	prefix := ext[compute.ExtResolverPrefix]
	return "module/" + prefix + info.Handle()
}

// Resolve loads a module's bytes through the chain. A missing module
// surfaces as ErrModuleLoadFailed.
func (r *BlobResolver) Resolve(ctx context.Context, cctx *channel.Context, info compute.ModuleInfo, ext compute.Extensions) ([]byte, error) {
	out, err := r.head.Compute(ctx, cctx, &compute.ComputeInput{
		Op:     compute.OpLoad,
		Handle: r.handleFor(info, ext),
	})
	if err != nil {
		return nil, compute.ErrModuleLoadFailed
	}
	return out.Data, nil
}

// Register stores a module's bytes through the chain so later Resolve
// calls (on this or another instance) can find them.
func (r *BlobResolver) Register(ctx context.Context, cctx *channel.Context, info compute.ModuleInfo, ext compute.Extensions, data []byte) error {
	_, err := r.head.Compute(ctx, cctx, &compute.ComputeInput{
		Op: compute.OpStore,
		Store: compute.StorageSpec{
			Handle:     r.handleFor(info, ext),
			Data:       data,
			TTL:        0,
			Extensions: ext,
		},
	})
	if err != nil {
		return compute.ErrModuleLoadFailed
	}
	return nil
}
