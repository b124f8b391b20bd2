// Copyright 2025 James Ross
package scheduler

import (
	"context"
	"time"

	"github.com/flyingrobots/mitsuha/internal/rawstorage"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// GCSweep runs a coarse periodic garbage-collection pass over one or more
// GarbageCollectable storage backends, driven by a cron schedule distinct
// from the tight partition_poll_interval ticker the event Loop runs on:
// expiry sweeps are coarse background work and must not contend with the
// hot consume/renew path.
type GCSweep struct {
	cron     *cron.Cron
	backends []rawstorage.GarbageCollectable
	log      *zap.Logger
}

// NewGCSweep constructs a sweep that runs on spec (standard five-field cron
// syntax, e.g. "0 */6 * * *" for every six hours) against backends.
func NewGCSweep(spec string, log *zap.Logger, backends ...rawstorage.GarbageCollectable) (*GCSweep, error) {
	g := &GCSweep{cron: cron.New(), backends: backends, log: log}
	_, err := g.cron.AddFunc(spec, g.sweepOnce)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// Start begins running the cron schedule in the background. Stop via
// Context cancellation is not supported by robfig/cron directly; callers
// should call Shutdown instead.
func (g *GCSweep) Start() { g.cron.Start() }

// Shutdown stops the cron scheduler, waiting for any in-flight sweep to
// finish.
func (g *GCSweep) Shutdown(ctx context.Context) {
	stopCtx := g.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

func (g *GCSweep) sweepOnce() {
	ctx := context.Background()
	now := time.Now()
	for _, b := range g.backends {
		deleted, err := b.GarbageCollect(ctx, now)
		if err != nil {
			g.log.Error("gc sweep failed", zap.Error(err))
			continue
		}
		if len(deleted) > 0 {
			g.log.Info("gc sweep deleted expired handles", zap.Int("count", len(deleted)))
		}
	}
}
