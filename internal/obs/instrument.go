// Copyright 2025 James Ross
package obs

import (
	"context"
	"time"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
)

// InstrumentedChannel wraps the head of a chain, recording request counts,
// error counts and latency by op before forwarding. It never changes the
// chain's outcome.
type InstrumentedChannel struct {
	channel.Base
}

// NewInstrumented constructs the metrics-recording entry point for a chain.
func NewInstrumented(id string) *InstrumentedChannel {
	return &InstrumentedChannel{Base: channel.NewBase(id)}
}

func (c *InstrumentedChannel) Compute(ctx context.Context, cctx *channel.Context, input *compute.ComputeInput) (*compute.ComputeOutput, error) {
	op := input.Op.String()
	ChainRequestsTotal.WithLabelValues(op).Inc()

	start := time.Now()
	out, err := c.Next(ctx, cctx, input)
	ChainRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if err != nil {
		ChainErrorsTotal.WithLabelValues(op).Inc()
	}
	return out, err
}
