// Copyright 2025 James Ross
// Package jobmanager implements the per-instance, cost-budgeted job
// admission path: a queued-jobs ledger checked against a configured maximum
// concurrent cost, local job tracking for status/extend/abort, and
// post-job hooks run on completion.
package jobmanager

import "github.com/flyingrobots/mitsuha/internal/compute"

// CostEvaluator computes the JobCost a spec will consume for the lifetime
// of its run. The standard evaluator costs purely on requested TTL.
type CostEvaluator interface {
	Cost(spec compute.JobSpec) (compute.JobCost, error)
}

// StandardCostEvaluator charges one unit of "compute" cost per second of
// requested TTL, mirroring the reference evaluator's ttl-as-cost rule.
type StandardCostEvaluator struct{}

func (StandardCostEvaluator) Cost(spec compute.JobSpec) (compute.JobCost, error) {
	return compute.JobCost{"compute": float64(spec.TTL)}, nil
}
