// Copyright 2025 James Ross
package interceptor

import (
	"context"
	"encoding/json"
	"time"

	"github.com/flyingrobots/mitsuha/internal/compute"
	"github.com/nats-io/nats.go"
)

// NATSClient is an alternate RPCClient implementer using a NATS
// request-reply round trip instead of gRPC, selected by config when a
// deployment already runs a NATS cluster for its other messaging needs.
// The Intercept contract is identical either way: convert, call, return a
// possibly-rewritten ComputeInput.
type NATSClient struct {
	conn    *nats.Conn
	subject string
	timeout time.Duration
}

// NewNATSClient constructs a NATS-backed interceptor client publishing
// requests on subject and waiting up to timeout for a reply.
func NewNATSClient(conn *nats.Conn, subject string, timeout time.Duration) *NATSClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NATSClient{conn: conn, subject: subject, timeout: timeout}
}

func (n *NATSClient) Intercept(ctx context.Context, input *compute.ComputeInput) (*compute.ComputeInput, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}

	msg, err := n.conn.RequestWithContext(ctx, n.subject, data)
	if err != nil {
		return nil, &compute.UnknownError{Source: err}
	}

	var out compute.ComputeInput
	if err := json.Unmarshal(msg.Data, &out); err != nil {
		return nil, &compute.UnknownError{Source: err}
	}
	return &out, nil
}
