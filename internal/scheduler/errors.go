// Copyright 2025 James Ross
package scheduler

import "github.com/flyingrobots/mitsuha/internal/compute"

var (
	errEntityNotFound = compute.ErrEntityNotFound
	errEntityConflict = compute.ErrEntityConflict
)
