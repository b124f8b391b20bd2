// Copyright 2025 James Ross
package storagechan

import (
	"context"
	"regexp"
	"testing"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
	"github.com/flyingrobots/mitsuha/internal/rawstorage"
)

func TestLabeledStoreLoadRoundTrip(t *testing.T) {
	backend := rawstorage.NewMemory(nil)
	ch := NewLabeled("labeled", backend, "hot")
	cctx := channel.NewContext(ch)
	ctx := context.Background()

	_, err := ch.Compute(ctx, cctx, &compute.ComputeInput{
		Op:    compute.OpStore,
		Store: compute.StorageSpec{Handle: "spec1", Data: []byte("Hello world!"), TTL: 100},
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	out, err := ch.Compute(ctx, cctx, &compute.ComputeInput{Op: compute.OpLoad, Handle: "spec1"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(out.Data) != "Hello world!" {
		t.Fatalf("got %q", out.Data)
	}
}

func TestMuxedNoMatchFails(t *testing.T) {
	backend := rawstorage.NewMemory(nil)
	rules := []Rule{{Pattern: regexp.MustCompile(`^job/`), Label: "jobs"}}
	ch := NewMuxed("muxed", backend, rules)
	cctx := channel.NewContext(ch)

	_, err := ch.Compute(context.Background(), cctx, &compute.ComputeInput{Op: compute.OpLoad, Handle: "other/thing"})
	if err != compute.ErrStorageOperationFailed {
		t.Fatalf("expected ErrStorageOperationFailed for unmatched handle, got %v", err)
	}
}

func TestMuxedMatchRoutes(t *testing.T) {
	backend := rawstorage.NewMemory(nil)
	rules := []Rule{{Pattern: regexp.MustCompile(`^job/`), Label: "jobs"}}
	ch := NewMuxed("muxed", backend, rules)
	cctx := channel.NewContext(ch)
	ctx := context.Background()

	_, err := ch.Compute(ctx, cctx, &compute.ComputeInput{
		Op:    compute.OpStore,
		Store: compute.StorageSpec{Handle: "job/sample", Data: []byte("x"), TTL: 10},
	})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := ch.Compute(ctx, cctx, &compute.ComputeInput{Op: compute.OpLoad, Handle: "job/sample"}); err != nil {
		t.Fatalf("load: %v", err)
	}
}
