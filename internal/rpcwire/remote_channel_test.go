// Copyright 2025 James Ross
package rpcwire

import (
	"context"
	"net"
	"testing"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

func dialTestServer(t *testing.T, head channel.Channel, cctx *channel.Context) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1024 * 1024)
	srv := grpc.NewServer()
	NewChannelServer(head, cctx).Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(Name)),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = cc.Close() })
	return cc
}

func TestRemoteChannelForwardsComputeOverGRPC(t *testing.T) {
	head := &echoTerminal{Base: channel.NewBase("echo")}
	cctx := channel.NewContext(head)
	cc := dialTestServer(t, head, cctx)

	rc := NewRemoteChannel("peer", cc)
	out, err := rc.Compute(context.Background(), cctx, &compute.ComputeInput{Op: compute.OpLoad, Handle: "job/1"})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if string(out.Data) != "job/1" {
		t.Fatalf("expected echoed handle, got %q", out.Data)
	}
}
