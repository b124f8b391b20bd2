// Copyright 2025 James Ross
package policysim

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/flyingrobots/mitsuha/internal/compute"
	"github.com/flyingrobots/mitsuha/internal/enforcer"
)

// Scenario is a parsed dry-run document: a candidate policy set plus the
// recorded requests to replay against it, each with its expected verdict.
type Scenario struct {
	Policies []enforcer.Policy
	Requests []ScenarioRequest
}

// ScenarioRequest is one recorded request and the verdict the operator
// expects the candidate policy set to produce for it.
type ScenarioRequest struct {
	Input *compute.ComputeInput
	Allow bool
}

// Outcome reports one request whose simulated verdict disagreed with the
// scenario's expectation.
type Outcome struct {
	Index    int
	Handle   string
	Op       compute.ComputeOp
	Expected bool
	Actual   Result
}

type scenarioDoc struct {
	Policies []policyDoc  `yaml:"policies"`
	Requests []requestDoc `yaml:"requests"`
}

type policyDoc struct {
	Permission string `yaml:"permission"`
	Op         string `yaml:"op"`
	Handle     string `yaml:"handle"`
	MaxTTL     int64  `yaml:"max_ttl"`
}

type requestDoc struct {
	Op     string `yaml:"op"`
	Handle string `yaml:"handle"`
	TTL    int64  `yaml:"ttl"`
	Allow  bool   `yaml:"allow"`
}

// ParseScenario decodes a YAML dry-run document. Ops are named by their
// canonical string form (Store, Load, Persist, Clear, Run, Extend, Status,
// Abort), case-insensitive; permissions are "allow" or "deny".
func ParseScenario(data []byte) (*Scenario, error) {
	var doc scenarioDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}

	s := &Scenario{}
	for i, p := range doc.Policies {
		op, err := parseOp(p.Op)
		if err != nil {
			return nil, fmt.Errorf("scenario: policy %d: %w", i, err)
		}
		perm, err := parsePermission(p.Permission)
		if err != nil {
			return nil, fmt.Errorf("scenario: policy %d: %w", i, err)
		}
		s.Policies = append(s.Policies, enforcer.Policy{
			Permission: perm,
			Action:     enforcer.Action{Op: op, HandleExpr: p.Handle, MaxTTL: p.MaxTTL},
		})
	}
	for i, r := range doc.Requests {
		op, err := parseOp(r.Op)
		if err != nil {
			return nil, fmt.Errorf("scenario: request %d: %w", i, err)
		}
		s.Requests = append(s.Requests, ScenarioRequest{
			Input: requestInput(op, r.Handle, r.TTL),
			Allow: r.Allow,
		})
	}
	return s, nil
}

// Run replays every scenario request through Simulate and returns the
// requests whose verdict disagreed with the expectation. An empty slice
// means the candidate policy set behaves exactly as the scenario predicts.
func (s *Scenario) Run() []Outcome {
	var mismatches []Outcome
	for i, r := range s.Requests {
		res := Simulate(r.Input, s.Policies)
		if res.Allowed != r.Allow {
			mismatches = append(mismatches, Outcome{
				Index:    i,
				Handle:   r.Input.EffectiveHandle(),
				Op:       r.Input.Op,
				Expected: r.Allow,
				Actual:   res,
			})
		}
	}
	return mismatches
}

func parseOp(name string) (compute.ComputeOp, error) {
	for op := compute.OpStore; op <= compute.OpAbort; op++ {
		if strings.EqualFold(op.String(), name) {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown op %q", name)
}

func parsePermission(name string) (enforcer.Permission, error) {
	switch strings.ToLower(name) {
	case "allow":
		return enforcer.Allow, nil
	case "deny":
		return enforcer.Deny, nil
	default:
		return 0, fmt.Errorf("unknown permission %q", name)
	}
}

func requestInput(op compute.ComputeOp, handle string, ttl int64) *compute.ComputeInput {
	switch op {
	case compute.OpStore:
		return &compute.ComputeInput{Op: op, Store: compute.StorageSpec{Handle: handle, TTL: ttl}}
	case compute.OpRun:
		return &compute.ComputeInput{Op: op, Run: compute.JobSpec{Handle: handle, TTL: ttl}}
	default:
		return &compute.ComputeInput{Op: op, Handle: handle, TTL: ttl}
	}
}
