// Copyright 2025 James Ross
// Package channel implements the composable request chain described in the
// runtime design: every ComputeInput is pushed into the head of a fixed
// chain of Channels, each of which handles, mutates, short-circuits, or
// forwards the request to its successor.
package channel

import (
	"context"

	"github.com/flyingrobots/mitsuha/internal/compute"
)

// Channel is a single link in the chain. Implementations must be safe for
// concurrent use by many goroutines; Connect is only expected to be called
// once, during bootstrap, before any Compute call is made.
type Channel interface {
	ID() string
	Compute(ctx context.Context, cctx *Context, input *compute.ComputeInput) (*compute.ComputeOutput, error)
	Connect(next Channel)
}

// Base gives concrete channels a default Connect/Next implementation; embed
// it and call Base.Next(...) to forward to the successor.
type Base struct {
	id   string
	next Channel
}

// NewBase constructs a Base with the given stable channel id.
func NewBase(id string) Base {
	return Base{id: id}
}

func (b *Base) ID() string { return b.id }

func (b *Base) Connect(next Channel) { b.next = next }

// Next forwards to the successor, or returns ErrChannelEOF if the chain
// reached its terminal link.
func (b *Base) Next(ctx context.Context, cctx *Context, input *compute.ComputeInput) (*compute.ComputeOutput, error) {
	if b.next == nil {
		return nil, compute.ErrChannelEOF
	}
	return b.next.Compute(ctx, cctx, input)
}

// NextChannel exposes the successor, used by channels (Delegator) that need
// to compare identities or reroute by id rather than simply forwarding.
func (b *Base) NextChannel() Channel { return b.next }

// EOF is the terminal channel: reaching it without any handler is always an
// error, per the chain-is-finite contract.
type EOF struct {
	Base
}

// NewEOF constructs the terminal sentinel channel.
func NewEOF() *EOF {
	e := &EOF{Base: NewBase("eof")}
	return e
}

func (e *EOF) Compute(ctx context.Context, cctx *Context, input *compute.ComputeInput) (*compute.ComputeOutput, error) {
	return nil, compute.ErrChannelEOF
}

// Chain links a list of channels in order, terminating with an EOF channel,
// and returns the head. Composition is fixed once Chain returns; channels
// must not be reconnected afterward.
func Chain(links ...Channel) Channel {
	if len(links) == 0 {
		return NewEOF()
	}
	tail := NewEOF()
	links = append(links, tail)
	for i := 0; i < len(links)-1; i++ {
		links[i].Connect(links[i+1])
	}
	return links[0]
}
