// Copyright 2025 James Ross
// Package enforcer implements policy-blob authorization: a channel that
// loads a configured policy blob and authorizes each request against it.
package enforcer

import (
	"strings"

	"github.com/flyingrobots/mitsuha/internal/compute"
)

// Permission is the Allow/Deny verdict a Policy carries.
type Permission int

const (
	Allow Permission = iota
	Deny
)

// Action names an operation a Policy governs, with a handle expression that
// supports a single trailing "*" wildcard and, for TTL-bearing ops, an
// upper bound on the requested TTL.
type Action struct {
	Op         compute.ComputeOp `json:"op"`
	HandleExpr string            `json:"handle_expr"`
	MaxTTL     int64             `json:"max_ttl,omitempty"` // 0 means unbounded
}

// Policy is a single rule: permission + the action it governs.
type Policy struct {
	Permission Permission `json:"permission"`
	Action     Action     `json:"action"`
}

func matchesHandle(expr, handle string) bool {
	if strings.HasSuffix(expr, "*") {
		return strings.HasPrefix(handle, strings.TrimSuffix(expr, "*"))
	}
	return expr == handle
}

func isTTLBearing(op compute.ComputeOp) bool {
	switch op {
	case compute.OpStore, compute.OpRun, compute.OpExtend, compute.OpPersist:
		return true
	default:
		return false
	}
}

func requestedTTL(input *compute.ComputeInput) int64 {
	switch input.Op {
	case compute.OpStore:
		return input.Store.TTL
	case compute.OpRun:
		return input.Run.TTL
	default:
		return input.TTL
	}
}

func applies(p Policy, input *compute.ComputeInput) bool {
	if p.Action.Op != input.Op {
		return false
	}
	if !matchesHandle(p.Action.HandleExpr, input.EffectiveHandle()) {
		return false
	}
	if p.Action.MaxTTL > 0 && isTTLBearing(input.Op) {
		if requestedTTL(input) > p.Action.MaxTTL {
			return false
		}
	}
	return true
}

// Evaluate iterates policies in order, retaining the last non-ignoring
// decision; a Deny always overrides any later or earlier Allow for the same
// matched action. The request is authorized only if the final retained
// decision is Allow.
func Evaluate(input *compute.ComputeInput, policies []Policy) bool {
	allowed := false
	for _, p := range policies {
		if !applies(p, input) {
			continue
		}
		if p.Permission == Deny {
			return false
		}
		allowed = true
	}
	return allowed
}

// Contains reports whether policy set parent is a semantic superset of
// child: anything child would allow, parent also allows. Since the input
// space is unbounded, it checks one probe input per Allow policy of child,
// built from that policy's action, rather than every possible input.
func Contains(parent, child []Policy) bool {
	for _, cp := range child {
		if cp.Permission != Allow {
			continue
		}
		probe := probeInput(cp.Action)
		if Evaluate(probe, child) && !Evaluate(probe, parent) {
			return false
		}
	}
	return true
}

func probeInput(a Action) *compute.ComputeInput {
	handle := strings.TrimSuffix(a.HandleExpr, "*")
	ttl := a.MaxTTL
	switch a.Op {
	case compute.OpStore:
		return &compute.ComputeInput{Op: a.Op, Store: compute.StorageSpec{Handle: handle, TTL: ttl}}
	case compute.OpRun:
		return &compute.ComputeInput{Op: a.Op, Run: compute.JobSpec{Handle: handle, TTL: ttl}}
	default:
		return &compute.ComputeInput{Op: a.Op, Handle: handle, TTL: ttl}
	}
}
