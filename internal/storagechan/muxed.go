// Copyright 2025 James Ross
package storagechan

import (
	"context"
	"regexp"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
	"github.com/flyingrobots/mitsuha/internal/rawstorage"
)

// Rule pairs a handle-matching regex with the label to attach when it
// matches first, in order.
type Rule struct {
	Pattern *regexp.Regexp
	Label   string
}

// Muxed holds an ordered list of (regex, label) rules and a single backend
// that serves every storage op once routed. Unlike Labeled, a non-matching
// handle fails outright rather than forwarding — storage ops never pass
// through silently once they reach a mux.
type Muxed struct {
	channel.Base
	backend rawstorage.RawStorage
	rules   []Rule
}

// NewMuxed constructs a muxed storage channel.
func NewMuxed(id string, backend rawstorage.RawStorage, rules []Rule) *Muxed {
	return &Muxed{Base: channel.NewBase(id), backend: backend, rules: rules}
}

func (m *Muxed) match(handle string) (string, bool) {
	for _, r := range m.rules {
		if r.Pattern.MatchString(handle) {
			return r.Label, true
		}
	}
	return "", false
}

func (m *Muxed) Compute(ctx context.Context, cctx *channel.Context, input *compute.ComputeInput) (*compute.ComputeOutput, error) {
	switch input.Op {
	case compute.OpStore:
		label, ok := m.match(input.Store.Handle)
		if !ok {
			return nil, compute.ErrStorageOperationFailed
		}
		ext := input.Store.Extensions.Clone()
		ext[compute.ExtStorageSelector] = label
		input.Store.Extensions = ext
		if err := m.backend.Store(ctx, input.Store); err != nil {
			return nil, err
		}
		return &compute.ComputeOutput{Kind: compute.OutCompleted}, nil
	case compute.OpLoad:
		if _, ok := m.match(input.Handle); !ok {
			return nil, compute.ErrStorageOperationFailed
		}
		data, err := m.backend.Load(ctx, input.Handle, input.Extensions)
		if err != nil {
			return nil, err
		}
		return &compute.ComputeOutput{Kind: compute.OutLoaded, Data: data}, nil
	case compute.OpPersist:
		if _, ok := m.match(input.Handle); !ok {
			return nil, compute.ErrStorageOperationFailed
		}
		if err := m.backend.Persist(ctx, input.Handle, input.TTL, input.Extensions); err != nil {
			return nil, err
		}
		return &compute.ComputeOutput{Kind: compute.OutCompleted}, nil
	case compute.OpClear:
		if _, ok := m.match(input.Handle); !ok {
			return nil, compute.ErrStorageOperationFailed
		}
		if err := m.backend.Clear(ctx, input.Handle, input.Extensions); err != nil {
			return nil, err
		}
		return &compute.ComputeOutput{Kind: compute.OutCompleted}, nil
	default:
		return m.Next(ctx, cctx, input)
	}
}
