// Copyright 2025 James Ross
package policysim

import (
	"testing"

	"github.com/flyingrobots/mitsuha/internal/compute"
	"github.com/flyingrobots/mitsuha/internal/enforcer"
)

func TestSimulateReportsAllowAndMatchedRule(t *testing.T) {
	policies := []enforcer.Policy{
		{Permission: enforcer.Allow, Action: enforcer.Action{Op: compute.OpLoad, HandleExpr: "job/*"}},
	}
	input := &compute.ComputeInput{Op: compute.OpLoad, Handle: "job/1"}

	res := Simulate(input, policies)
	if !res.Allowed {
		t.Fatal("expected request to be allowed")
	}
	if len(res.Matched) != 1 {
		t.Fatalf("expected exactly one matched rule, got %d", len(res.Matched))
	}
}

func TestSimulateReportsDenyOverride(t *testing.T) {
	policies := []enforcer.Policy{
		{Permission: enforcer.Allow, Action: enforcer.Action{Op: compute.OpLoad, HandleExpr: "job/*"}},
		{Permission: enforcer.Deny, Action: enforcer.Action{Op: compute.OpLoad, HandleExpr: "job/secret"}},
	}
	input := &compute.ComputeInput{Op: compute.OpLoad, Handle: "job/secret"}

	res := Simulate(input, policies)
	if res.Allowed {
		t.Fatal("expected request to be denied")
	}
	if len(res.Matched) != 2 {
		t.Fatalf("expected both rules to be reported as matched, got %d", len(res.Matched))
	}
}

func TestDiffReportsActionsBeyondParent(t *testing.T) {
	parent := []enforcer.Policy{
		{Permission: enforcer.Allow, Action: enforcer.Action{Op: compute.OpLoad, HandleExpr: "job/a/*"}},
	}
	candidate := []enforcer.Policy{
		{Permission: enforcer.Allow, Action: enforcer.Action{Op: compute.OpLoad, HandleExpr: "job/a/*"}},
		{Permission: enforcer.Allow, Action: enforcer.Action{Op: compute.OpLoad, HandleExpr: "job/b/*"}},
	}

	extra := Diff(parent, candidate)
	if len(extra) != 1 || extra[0].HandleExpr != "job/b/*" {
		t.Fatalf("expected exactly the job/b/* action reported as extra, got %+v", extra)
	}
}

func TestDiffEmptyWhenCandidateNoBroader(t *testing.T) {
	parent := []enforcer.Policy{
		{Permission: enforcer.Allow, Action: enforcer.Action{Op: compute.OpLoad, HandleExpr: "job/*"}},
	}
	candidate := []enforcer.Policy{
		{Permission: enforcer.Allow, Action: enforcer.Action{Op: compute.OpLoad, HandleExpr: "job/a/*"}},
	}

	if extra := Diff(parent, candidate); len(extra) != 0 {
		t.Fatalf("expected no extra actions, got %+v", extra)
	}
}
