// Copyright 2025 James Ross
package enforcer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
	"github.com/flyingrobots/mitsuha/internal/rawstorage"
	"github.com/flyingrobots/mitsuha/internal/storagechan"
)

type captureNext struct {
	channel.Base
	got *compute.ComputeInput
}

func (c *captureNext) Compute(ctx context.Context, cctx *channel.Context, input *compute.ComputeInput) (*compute.ComputeOutput, error) {
	c.got = input
	return &compute.ComputeOutput{Kind: compute.OutCompleted}, nil
}

func TestEvaluateAllowWithWildcard(t *testing.T) {
	policies := []Policy{
		{Permission: Allow, Action: Action{Op: compute.OpClear, HandleExpr: "job/myapp/x/*"}},
	}
	input := &compute.ComputeInput{Op: compute.OpClear, Handle: "job/myapp/x/y"}
	if !Evaluate(input, policies) {
		t.Fatal("expected allow")
	}
}

func TestEvaluateDenyOverridesAllow(t *testing.T) {
	policies := []Policy{
		{Permission: Allow, Action: Action{Op: compute.OpClear, HandleExpr: "job/myapp/x/*"}},
		{Permission: Deny, Action: Action{Op: compute.OpClear, HandleExpr: "job/myapp/x/y"}},
	}
	input := &compute.ComputeInput{Op: compute.OpClear, Handle: "job/myapp/x/y"}
	if Evaluate(input, policies) {
		t.Fatal("expected deny to win")
	}

	// Removing the Deny restores the Allow.
	policies = policies[:1]
	if !Evaluate(input, policies) {
		t.Fatal("expected allow once deny removed")
	}
}

func TestContainsSuperset(t *testing.T) {
	parent := []Policy{{Permission: Allow, Action: Action{Op: compute.OpClear, HandleExpr: "job/myapp/*"}}}
	child := []Policy{{Permission: Allow, Action: Action{Op: compute.OpClear, HandleExpr: "job/myapp/x/*"}}}
	if !Contains(parent, child) {
		t.Fatal("expected parent to contain child")
	}
	if Contains(child, parent) {
		t.Fatal("expected narrower child to not contain broader parent")
	}
}

func TestSkippedChannelDoesNotReloadPolicy(t *testing.T) {
	enf := New("enforcer", "")
	next := &captureNext{Base: channel.NewBase("capture")}
	enf.Connect(next)
	cctx := channel.NewContext(enf, next)

	input := &compute.ComputeInput{
		Op:         compute.OpClear,
		Handle:     "job/myapp/x/y",
		Extensions: compute.Extensions{compute.ExtPolicyHandle: "policy/does-not-exist"},
	}
	cctx.AppendSkipChannelList(input, "enforcer")

	if _, err := enf.Compute(context.Background(), cctx, input); err != nil {
		t.Fatalf("expected skip to bypass the nonexistent policy load, got %v", err)
	}
	if next.got != input {
		t.Fatal("expected forward to next channel")
	}
}

func TestChannelDeniesRequest(t *testing.T) {
	backend := rawstorage.NewMemory(nil)
	policies := []Policy{
		{Permission: Allow, Action: Action{Op: compute.OpClear, HandleExpr: "job/myapp/x/*"}},
		{Permission: Deny, Action: Action{Op: compute.OpClear, HandleExpr: "job/myapp/x/y"}},
	}
	raw, _ := json.Marshal(policies)
	storageCh := storagechan.NewLabeled("storage", backend, "policy")
	enf := New("enforcer", "")
	enf.Connect(storageCh)
	cctx := channel.NewContext(enf, storageCh)

	ctx := context.Background()
	_, err := storageCh.Compute(ctx, cctx, &compute.ComputeInput{
		Op:    compute.OpStore,
		Store: compute.StorageSpec{Handle: "policy/blob", Data: raw, TTL: 0},
	})
	if err != nil {
		t.Fatalf("seed policy blob: %v", err)
	}

	input := &compute.ComputeInput{
		Op:         compute.OpClear,
		Handle:     "job/myapp/x/y",
		Extensions: compute.Extensions{compute.ExtPolicyHandle: "policy/blob"},
	}
	if _, err := enf.Compute(ctx, cctx, input); err == nil {
		t.Fatal("expected policy denial")
	}
}
