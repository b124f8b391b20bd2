// Copyright 2025 James Ross
// Package storagechan implements the two storage-routing channels: Labeled
// (single backend, fixed selector) and Muxed (regex-routed, single backend
// serving whichever rule matched).
package storagechan

import (
	"context"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
	"github.com/flyingrobots/mitsuha/internal/rawstorage"
)

// Labeled holds a single backend and a fixed selector label. On Store it
// attaches the selector to the request's extensions before invoking the
// backend; on Load/Persist/Clear it invokes the backend directly. All other
// ops are forwarded untouched.
type Labeled struct {
	channel.Base
	backend rawstorage.RawStorage
	label   string
}

// NewLabeled constructs a labeled storage channel.
func NewLabeled(id string, backend rawstorage.RawStorage, label string) *Labeled {
	return &Labeled{Base: channel.NewBase(id), backend: backend, label: label}
}

func (l *Labeled) Compute(ctx context.Context, cctx *channel.Context, input *compute.ComputeInput) (*compute.ComputeOutput, error) {
	switch input.Op {
	case compute.OpStore:
		ext := input.Store.Extensions.Clone()
		ext[compute.ExtStorageSelector] = l.label
		input.Store.Extensions = ext
		if err := l.backend.Store(ctx, input.Store); err != nil {
			return nil, err
		}
		return &compute.ComputeOutput{Kind: compute.OutCompleted}, nil
	case compute.OpLoad:
		data, err := l.backend.Load(ctx, input.Handle, input.Extensions)
		if err != nil {
			return nil, err
		}
		return &compute.ComputeOutput{Kind: compute.OutLoaded, Data: data}, nil
	case compute.OpPersist:
		if err := l.backend.Persist(ctx, input.Handle, input.TTL, input.Extensions); err != nil {
			return nil, err
		}
		return &compute.ComputeOutput{Kind: compute.OutCompleted}, nil
	case compute.OpClear:
		if err := l.backend.Clear(ctx, input.Handle, input.Extensions); err != nil {
			return nil, err
		}
		return &compute.ComputeOutput{Kind: compute.OutCompleted}, nil
	default:
		return l.Next(ctx, cctx, input)
	}
}
