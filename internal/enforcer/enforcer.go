// Copyright 2025 James Ross
package enforcer

import (
	"context"
	"encoding/json"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
)

// Channel reads a policy-blob handle from a configured extension key. If
// the key is absent from the request, it bypasses enforcement entirely.
// Otherwise it issues a nested Load through the chain head to fetch the
// serialized policy set and evaluates the request against it.
type Channel struct {
	channel.Base
	extKey string
}

// New constructs the enforcer channel, reading the policy-handle extension
// under extKey (defaults to compute.ExtPolicyHandle if empty).
func New(id, extKey string) *Channel {
	if extKey == "" {
		extKey = compute.ExtPolicyHandle
	}
	return &Channel{Base: channel.NewBase(id), extKey: extKey}
}

func (e *Channel) Compute(ctx context.Context, cctx *channel.Context, input *compute.ComputeInput) (*compute.ComputeOutput, error) {
	if cctx.IsSkipped(input, e.ID()) {
		return e.Next(ctx, cctx, input)
	}

	policyHandle, ok := input.Ext()[e.extKey]
	if !ok || policyHandle == "" {
		return e.Next(ctx, cctx, input)
	}

	out, err := cctx.Head().Compute(ctx, cctx, &compute.ComputeInput{Op: compute.OpLoad, Handle: policyHandle})
	if err != nil {
		return nil, err
	}

	if err := ValidatePolicyDocument(out.Data); err != nil {
		return nil, err
	}

	var policies []Policy
	if err := json.Unmarshal(out.Data, &policies); err != nil {
		return nil, err
	}

	if !Evaluate(input, policies) {
		return nil, &compute.PolicyDeniedError{
			PolicyHandle: policyHandle,
			Op:           input.Op.String(),
			TargetHandle: input.EffectiveHandle(),
		}
	}

	// Once admitted, don't re-evaluate on a re-entrant dispatch: the nested
	// Load above would otherwise run again every time the scheduler or
	// qflow replays this input from the chain head.
	cctx.AppendSkipChannelList(input, e.ID())

	return e.Next(ctx, cctx, input)
}
