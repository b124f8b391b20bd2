// Copyright 2025 James Ross
// Package policysim offers an offline, read-only way to exercise a policy
// set the same way the enforcer channel would, without routing a live
// request through the chain: useful for validating a candidate policy
// document before it is stored at the handle a deployment's enforcer reads.
package policysim

import (
	"github.com/flyingrobots/mitsuha/internal/compute"
	"github.com/flyingrobots/mitsuha/internal/enforcer"
)

// MatchedRule records one policy that applied to a simulated request, in
// evaluation order, so a caller can see which rule(s) produced the verdict.
type MatchedRule struct {
	Index  int
	Policy enforcer.Policy
}

// Result is the outcome of simulating a single request against a policy
// set.
type Result struct {
	Allowed bool
	Matched []MatchedRule
}

// Simulate evaluates input against policies and reports not just the
// allow/deny verdict but every policy that matched the request's (op,
// handle, TTL), in the order Evaluate would have folded them.
func Simulate(input *compute.ComputeInput, policies []enforcer.Policy) Result {
	probe := &compute.ComputeInput{
		Op:     input.Op,
		Handle: input.Handle,
		TTL:    input.TTL,
		Store:  input.Store,
		Run:    input.Run,
	}

	var matched []MatchedRule
	for i, p := range policies {
		if enforcer.Evaluate(probe, []enforcer.Policy{p}) || (p.Permission == enforcer.Deny && denyApplies(p, probe)) {
			matched = append(matched, MatchedRule{Index: i, Policy: p})
		}
	}

	return Result{
		Allowed: enforcer.Evaluate(input, policies),
		Matched: matched,
	}
}

// denyApplies re-checks whether a Deny policy's action matches probe, since
// Evaluate alone never reports true for a lone Deny rule (it authorizes
// only on a retained Allow).
func denyApplies(p enforcer.Policy, probe *compute.ComputeInput) bool {
	allowProbe := p
	allowProbe.Permission = enforcer.Allow
	return enforcer.Evaluate(probe, []enforcer.Policy{allowProbe})
}

// Diff reports every Allow action in candidate that parent would not also
// allow: the set of privilege candidate grants beyond parent. An empty Diff
// means candidate is no broader than parent (enforcer.Contains(parent,
// candidate) holds).
func Diff(parent, candidate []enforcer.Policy) []enforcer.Action {
	var extra []enforcer.Action
	for _, cp := range candidate {
		if cp.Permission != enforcer.Allow {
			continue
		}
		if enforcer.Contains(parent, []enforcer.Policy{cp}) {
			continue
		}
		extra = append(extra, cp.Action)
	}
	return extra
}
