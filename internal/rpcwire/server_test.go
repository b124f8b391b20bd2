// Copyright 2025 James Ross
package rpcwire

import (
	"context"
	"testing"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
)

type echoTerminal struct {
	channel.Base
}

func (e *echoTerminal) Compute(ctx context.Context, cctx *channel.Context, input *compute.ComputeInput) (*compute.ComputeOutput, error) {
	return &compute.ComputeOutput{Kind: compute.OutLoaded, Data: []byte(input.Handle)}, nil
}

func TestChannelServerComputeRoundTrips(t *testing.T) {
	head := &echoTerminal{Base: channel.NewBase("echo")}
	cctx := channel.NewContext(head)
	srv := NewChannelServer(head, cctx)

	req, err := Pack("Compute", &compute.ComputeInput{Op: compute.OpLoad, Handle: "job/1"})
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	resp, err := srv.compute(context.Background(), &req)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}

	var out compute.ComputeOutput
	if err := Unpack(*resp.(*Envelope), &out); err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if string(out.Data) != "job/1" {
		t.Fatalf("expected echoed handle, got %q", out.Data)
	}
}

func TestInterceptorServerIntercept(t *testing.T) {
	srv := NewInterceptorServer(func(ctx context.Context, input *compute.ComputeInput) (*compute.ComputeInput, error) {
		input.Handle = input.Handle + "-rewritten"
		return input, nil
	})

	req, err := Pack("Intercept", &compute.ComputeInput{Op: compute.OpLoad, Handle: "job/1"})
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	resp, err := srv.intercept(context.Background(), &req)
	if err != nil {
		t.Fatalf("intercept: %v", err)
	}

	var out compute.ComputeInput
	if err := Unpack(*resp.(*Envelope), &out); err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if out.Handle != "job/1-rewritten" {
		t.Fatalf("expected rewritten handle, got %q", out.Handle)
	}
}
