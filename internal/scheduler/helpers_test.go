// Copyright 2025 James Ross
package scheduler

import (
	"context"
	"database/sql"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
)

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type recordingHead struct {
	channel.Base
}

func (r *recordingHead) Compute(ctx context.Context, cctx *channel.Context, input *compute.ComputeInput) (*compute.ComputeOutput, error) {
	if input.Op == compute.OpStore {
		return &compute.ComputeOutput{Kind: compute.OutCompleted}, nil
	}
	return &compute.ComputeOutput{Kind: compute.OutCompleted}, nil
}

func newCtx(head channel.Channel) *channel.Context {
	return channel.NewContext(head)
}
