// Copyright 2025 James Ross
package main

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/nats-io/nats.go"
	"golang.org/x/time/rate"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
	"github.com/flyingrobots/mitsuha/internal/config"
	"github.com/flyingrobots/mitsuha/internal/delegator"
	"github.com/flyingrobots/mitsuha/internal/enforcer"
	"github.com/flyingrobots/mitsuha/internal/interceptor"
	"github.com/flyingrobots/mitsuha/internal/jobmanager"
	"github.com/flyingrobots/mitsuha/internal/namespacer"
	"github.com/flyingrobots/mitsuha/internal/obs"
	"github.com/flyingrobots/mitsuha/internal/qflow"
	"github.com/flyingrobots/mitsuha/internal/rpcwire"
	"github.com/flyingrobots/mitsuha/internal/scheduler"
	"github.com/flyingrobots/mitsuha/internal/syschannel"
	"github.com/flyingrobots/mitsuha/internal/wasmexec"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// runtime bundles everything buildRuntime assembles from config: the chain
// head and shared context every server surface dispatches into, plus the
// background loop (scheduler or QFlow dispatch) a worker role drives.
type runtime struct {
	head    channel.Channel
	cctx    *channel.Context
	manager *jobmanager.Manager

	sched   *scheduler.Scheduler
	gcSweep *scheduler.GCSweep
	loop    *scheduler.Loop

	qflowBackend qflow.QFlow
	dispatch     *qflow.Dispatcher

	closers []func()
}

// buildRuntime wires the full channel chain per cfg: namespacer, enforcer,
// interceptor, delegator, the scheduler or QFlow admission path, the
// system channel, storage, and the terminal WASM executor, instrumented
// and traced at the head.
func buildRuntime(ctx context.Context, cfg *config.Config, log *zap.Logger) (*runtime, error) {
	rt := &runtime{}

	built, err := buildBackends(cfg.Storage.Backends)
	if err != nil {
		return nil, fmt.Errorf("storage backends: %w", err)
	}
	storageCh, err := buildStorageChannel("storage", cfg.Storage.Mode, built)
	if err != nil {
		return nil, fmt.Errorf("storage channel: %w", err)
	}

	rt.manager = jobmanager.New(cfg.InstanceID, compute.JobCost(cfg.JobManager.MaxCost), jobmanager.StandardCostEvaluator{}, log)
	if cfg.JobManager.AdmissionRatePerSec > 0 {
		rt.manager.SetAdmissionLimiter(rate.NewLimiter(rate.Limit(cfg.JobManager.AdmissionRatePerSec), cfg.JobManager.AdmissionBurst))
	}

	// instrumented is the chain's permanent head identity: its pointer is
	// handed to the resolver below before Chain() wires up its successor,
	// since the resolver needs to dispatch Loads back through the full
	// chain (including the very executor channel it serves).
	instrumented := obs.NewInstrumented("instrumented")
	tracing := obs.NewTracing("tracing")

	var links []channel.Channel

	if cfg.Namespacer.Enabled {
		links = append(links, namespacer.New("namespacer"))
	}
	if cfg.Enforcer.Enabled {
		links = append(links, enforcer.New("enforcer", cfg.Enforcer.PolicyExtKey))
	}

	if cfg.Interceptor.Enabled {
		icChannel, closeFn, err := buildInterceptor(cfg.Interceptor)
		if err != nil {
			return nil, fmt.Errorf("interceptor: %w", err)
		}
		links = append(links, icChannel)
		rt.closers = append(rt.closers, closeFn)
	}

	var peerChannel channel.Channel
	if cfg.Delegator.Enabled {
		links = append(links, delegator.New("delegator", cfg.Delegator.PeerID, cfg.Delegator.MaxJobs))
		if cfg.Delegator.PeerAddr != "" {
			cc, err := grpc.NewClient(cfg.Delegator.PeerAddr,
				grpc.WithTransportCredentials(insecure.NewCredentials()),
				grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpcwire.Name)))
			if err != nil {
				return nil, fmt.Errorf("delegator peer dial: %w", err)
			}
			peerChannel = rpcwire.NewRemoteChannel(cfg.Delegator.PeerID, cc)
			rt.closers = append(rt.closers, func() { _ = cc.Close() })
		}
	}

	if cfg.Scheduler.Enabled {
		var store *scheduler.Store
		var err error
		switch cfg.Scheduler.Driver {
		case "postgres":
			store, err = scheduler.OpenPostgres(cfg.Scheduler.DSN)
		default:
			store, err = scheduler.Open(cfg.Scheduler.DSN)
		}
		if err != nil {
			return nil, fmt.Errorf("scheduler store: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = store.Close() })

		schedCfg := scheduler.Config{
			MaxShards:         cfg.Scheduler.MaxShards,
			LeaseDuration:     cfg.Scheduler.LeaseDuration,
			LeaseSkew:         cfg.Scheduler.LeaseSkew,
			PollInterval:      cfg.Scheduler.PollInterval,
			BatchSize:         cfg.Scheduler.BatchSize,
			TotalComputeUnits: cfg.Scheduler.TotalComputeUnits,
		}
		evaluator := func(spec compute.JobSpec) int64 { return spec.TTL }
		sched, err := scheduler.New(ctx, store, schedCfg, evaluator, cfg.InstanceID, log)
		if err != nil {
			return nil, fmt.Errorf("scheduler: %w", err)
		}
		rt.sched = sched
		links = append(links, scheduler.NewChannel("scheduler", sched))

		if gcTargets := gcBackends(built); len(gcTargets) > 0 {
			sweep, err := scheduler.NewGCSweep(cfg.Storage.GCSpec, log, gcTargets...)
			if err != nil {
				return nil, fmt.Errorf("gc sweep: %w", err)
			}
			rt.gcSweep = sweep
		}
	} else {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.QFlow.RedisAddr})
		rt.closers = append(rt.closers, func() { _ = rdb.Close() })
		rt.qflowBackend = qflow.NewRedis(rdb, cfg.QFlow.Prefix)
		links = append(links, qflow.NewWriterChannel("qflow-writer", rt.qflowBackend))
	}

	links = append(links, syschannel.New("system", rt.manager, "module/"))
	links = append(links, storageCh)

	resolver := wasmexec.NewBlobResolver(instrumented)
	sandbox := wasmexec.NewWasmerSandbox(log)
	linker := wasmexec.NewLinker(resolver, sandbox, wasmexec.NewServiceRegistry())
	links = append(links, wasmexec.New("wasmexec", rt.manager, linker, wasmexec.EmptyKernel{}, log))

	full := append([]channel.Channel{tracing}, links...)
	instrumented.Connect(channel.Chain(full...))
	rt.head = instrumented

	registry := []channel.Channel{instrumented}
	if peerChannel != nil {
		registry = append(registry, peerChannel)
	}
	rt.cctx = channel.NewContext(instrumented, registry...)

	if !cfg.Scheduler.Enabled {
		rt.dispatch = qflow.NewDispatcher(rt.qflowBackend, instrumented, rt.cctx, cfg.QFlow.ClientID, cfg.QFlow.PollInterval, log)
	} else {
		rt.loop = scheduler.NewLoop(rt.sched, instrumented, rt.cctx, log)
	}

	return rt, nil
}

func buildInterceptor(cfg config.Interceptor) (channel.Channel, func(), error) {
	switch cfg.Transport {
	case "grpc":
		cc, err := grpc.NewClient(cfg.Target,
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.CallContentSubtype(rpcwire.Name)))
		if err != nil {
			return nil, nil, err
		}
		client := interceptor.NewGRPCClient(cc)
		return interceptor.New("interceptor", client), func() { _ = cc.Close() }, nil
	case "nats":
		conn, err := nats.Connect(cfg.Target)
		if err != nil {
			return nil, nil, err
		}
		client := interceptor.NewNATSClient(conn, cfg.Subject, cfg.Timeout)
		return interceptor.New("interceptor", client), conn.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown interceptor transport %q", cfg.Transport)
	}
}

// Close releases every resource buildRuntime opened.
func (rt *runtime) Close() {
	for _, c := range rt.closers {
		c()
	}
}
