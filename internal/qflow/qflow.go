// Copyright 2025 James Ross
// Package qflow implements the distributed multi-queue transactional MPMC
// log that admits jobs and job commands when the relational scheduler is
// disabled, taking its place in the chain, with
// sticky routing that pins a job's follow-up control ops to the worker
// that dequeued its Run.
package qflow

import (
	"context"
	"encoding/json"

	"github.com/flyingrobots/mitsuha/internal/compute"
)

// QFlow is the transactional multi-queue MPMC contract: write an input,
// read the next one addressed to clientID.
type QFlow interface {
	Write(ctx context.Context, input *compute.ComputeInput) error
	Read(ctx context.Context, clientID string) (*compute.ComputeInput, error)
}

func marshal(input *compute.ComputeInput) (string, error) {
	b, err := json.Marshal(input)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshal(s string) (*compute.ComputeInput, error) {
	var in compute.ComputeInput
	if err := json.Unmarshal([]byte(s), &in); err != nil {
		return nil, err
	}
	return &in, nil
}
