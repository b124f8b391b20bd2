// Copyright 2025 James Ross
package policysim

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flyingrobots/mitsuha/internal/compute"
	"github.com/flyingrobots/mitsuha/internal/enforcer"
)

const sampleScenario = `
policies:
  - permission: allow
    op: Clear
    handle: "job/myapp/x/*"
  - permission: deny
    op: Clear
    handle: "job/myapp/x/y"
requests:
  - op: Clear
    handle: "job/myapp/x/z"
    allow: true
  - op: Clear
    handle: "job/myapp/x/y"
    allow: false
`

func TestParseScenario(t *testing.T) {
	s, err := ParseScenario([]byte(sampleScenario))
	require.NoError(t, err)
	require.Len(t, s.Policies, 2)
	require.Len(t, s.Requests, 2)

	require.Equal(t, enforcer.Allow, s.Policies[0].Permission)
	require.Equal(t, compute.OpClear, s.Policies[0].Action.Op)
	require.Equal(t, "job/myapp/x/*", s.Policies[0].Action.HandleExpr)
	require.Equal(t, enforcer.Deny, s.Policies[1].Permission)
}

func TestScenarioRunMatchesExpectations(t *testing.T) {
	s, err := ParseScenario([]byte(sampleScenario))
	require.NoError(t, err)
	require.Empty(t, s.Run())
}

func TestScenarioRunReportsMismatch(t *testing.T) {
	s, err := ParseScenario([]byte(sampleScenario))
	require.NoError(t, err)

	// Flip one expectation so the deny is now expected to pass.
	s.Requests[1].Allow = true

	mismatches := s.Run()
	require.Len(t, mismatches, 1)
	require.Equal(t, 1, mismatches[0].Index)
	require.Equal(t, "job/myapp/x/y", mismatches[0].Handle)
	require.True(t, mismatches[0].Expected)
	require.False(t, mismatches[0].Actual.Allowed)
}

func TestParseScenarioRejectsUnknownOp(t *testing.T) {
	_, err := ParseScenario([]byte("policies:\n  - permission: allow\n    op: Destroy\n    handle: \"x\"\n"))
	require.Error(t, err)
}

func TestParseScenarioRejectsUnknownPermission(t *testing.T) {
	_, err := ParseScenario([]byte("policies:\n  - permission: maybe\n    op: Load\n    handle: \"x\"\n"))
	require.Error(t, err)
}
