// Copyright 2025 James Ross
package syschannel

import (
	"context"
	"testing"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
)

type fakeManager struct {
	extended, aborted string
	extendTTL         int64
}

func (f *fakeManager) Extend(ctx context.Context, handle string, ttl int64) error {
	f.extended, f.extendTTL = handle, ttl
	return nil
}

func (f *fakeManager) Abort(ctx context.Context, handle string) error {
	f.aborted = handle
	return nil
}

func TestExtendDispatchesToManager(t *testing.T) {
	m := &fakeManager{}
	ch := New("system", m, "")
	cctx := channel.NewContext(ch)
	_, err := ch.Compute(context.Background(), cctx, &compute.ComputeInput{Op: compute.OpExtend, Handle: "job/1", TTL: 30})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if m.extended != "job/1" || m.extendTTL != 30 {
		t.Fatalf("manager not invoked correctly: %+v", m)
	}
}

func TestModuleStoreGetsLongTTL(t *testing.T) {
	m := &fakeManager{}
	var nextSpec compute.StorageSpec
	next := &capture{fn: func(in *compute.ComputeInput) { nextSpec = in.Store }}
	ch := New("system", m, "")
	ch.Connect(next)
	cctx := channel.NewContext(ch)

	_, err := ch.Compute(context.Background(), cctx, &compute.ComputeInput{
		Op:    compute.OpStore,
		Store: compute.StorageSpec{Handle: "module/mitsuha.test.echo/0.1.0", TTL: 5},
	})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if nextSpec.TTL != ModuleArtifactTTL {
		t.Fatalf("expected coerced TTL %d, got %d", ModuleArtifactTTL, nextSpec.TTL)
	}
}

func TestStatusLoadsPublishedBlob(t *testing.T) {
	m := &fakeManager{}
	var loaded string
	next := &capture{
		fn: func(in *compute.ComputeInput) { loaded = in.Handle },
		out: &compute.ComputeOutput{
			Kind: compute.OutLoaded,
			Data: []byte(`{"status":2,"extensions":{}}`),
		},
	}
	ch := New("system", m, "")
	ch.Connect(next)
	cctx := channel.NewContext(ch)

	out, err := ch.Compute(context.Background(), cctx, &compute.ComputeInput{Op: compute.OpStatus, Handle: "job/1"})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if loaded != "job/1/status" {
		t.Fatalf("expected load of derived status handle, got %q", loaded)
	}
	if out.Kind != compute.OutStatus || out.Status.Kind != compute.StatusAborted {
		t.Fatalf("unexpected status output: %+v", out)
	}
}

type capture struct {
	channel.Base
	fn  func(*compute.ComputeInput)
	out *compute.ComputeOutput
}

func (c *capture) Compute(ctx context.Context, cctx *channel.Context, input *compute.ComputeInput) (*compute.ComputeOutput, error) {
	c.fn(input)
	if c.out != nil {
		return c.out, nil
	}
	return &compute.ComputeOutput{Kind: compute.OutCompleted}, nil
}
