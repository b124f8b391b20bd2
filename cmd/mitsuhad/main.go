// Copyright 2025 James Ross
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/mux"
	"google.golang.org/grpc"

	admintui "github.com/flyingrobots/mitsuha/internal/admin-tui"
	"github.com/flyingrobots/mitsuha/internal/compute"
	"github.com/flyingrobots/mitsuha/internal/config"
	"github.com/flyingrobots/mitsuha/internal/httpbridge"
	"github.com/flyingrobots/mitsuha/internal/obs"
	"github.com/flyingrobots/mitsuha/internal/rpcwire"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	var role string
	var configPath string
	var showVersion bool

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&role, "role", "all", "Role to run: server|worker|all|tui")
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tp, err := obs.MaybeInitTracing(cfg.Observability.Tracing, "mitsuhad")
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = obs.TracerShutdown(context.Background(), tp) }()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := buildRuntime(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to build runtime", obs.Err(err))
	}
	defer rt.Close()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("signal received, shutting down", obs.String("signal", sig.String()))
		cancel()
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(5 * time.Second):
		}
	}()

	switch role {
	case "server":
		runServer(ctx, cfg, rt, logger)
	case "worker":
		runWorker(ctx, rt, logger)
	case "all":
		go runWorker(ctx, rt, logger)
		runServer(ctx, cfg, rt, logger)
	case "tui":
		runTUI(rt)
	default:
		logger.Fatal("unknown role", obs.String("role", role))
	}
}

// runServer exposes the gRPC Channel/Interceptor services, the HTTP
// compute bridge, and health/metrics endpoints, then blocks until ctx is
// cancelled.
func runServer(ctx context.Context, cfg *config.Config, rt *runtime, logger *zap.Logger) {
	if rt.gcSweep != nil {
		rt.gcSweep.Start()
		defer rt.gcSweep.Shutdown(context.Background())
	}

	readyCheck := func(c context.Context) error { return nil }
	httpSrv := obs.StartHTTPServer(fmt.Sprintf(":%d", cfg.Observability.MetricsPort), readyCheck)
	defer func() { _ = httpSrv.Shutdown(context.Background()) }()

	router := mux.NewRouter()
	httpbridge.NewBridge(rt.head, rt.cctx, logger).Routes(router)
	httpBridgeSrv := &http.Server{Addr: cfg.RPC.HTTPAddr, Handler: router}
	go func() {
		if err := httpBridgeSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http bridge server stopped", obs.Err(err))
		}
	}()
	defer func() { _ = httpBridgeSrv.Shutdown(context.Background()) }()

	grpcSrv := grpc.NewServer()
	rpcwire.NewChannelServer(rt.head, rt.cctx).Register(grpcSrv)
	rpcwire.NewInterceptorServer(func(ctx context.Context, input *compute.ComputeInput) (*compute.ComputeInput, error) {
		ext := input.Ext().Clone()
		ext[compute.ExtInterceptedBy] = cfg.InstanceID
		input.SetExt(ext)
		return input, nil
	}).Register(grpcSrv)

	lis, err := net.Listen("tcp", cfg.RPC.GRPCAddr)
	if err != nil {
		logger.Fatal("failed to bind grpc listener", obs.String("addr", cfg.RPC.GRPCAddr), obs.Err(err))
	}
	go func() {
		if err := grpcSrv.Serve(lis); err != nil {
			logger.Error("grpc server stopped", obs.Err(err))
		}
	}()
	defer grpcSrv.GracefulStop()

	<-ctx.Done()
}

// runWorker drives the background admission loop (scheduler partition
// rotation and dispatch, or QFlow drain) without exposing any RPC surface.
func runWorker(ctx context.Context, rt *runtime, logger *zap.Logger) {
	if rt.loop != nil {
		rt.loop.Run(ctx)
		return
	}
	if rt.dispatch != nil {
		rt.dispatch.Run(ctx)
		return
	}
	logger.Warn("worker role started with no background loop configured")
	<-ctx.Done()
}

// runTUI launches the read-only operator dashboard against the already
// built runtime's job manager and, if the scheduler is enabled, its
// partition state.
func runTUI(rt *runtime) {
	var partFn admintui.PartitionFunc
	if rt.sched != nil {
		partFn = func(ctx context.Context) (admintui.PartitionInfo, error) {
			p, err := rt.sched.CurrentPartition(ctx)
			if err != nil {
				return admintui.PartitionInfo{}, err
			}
			return admintui.PartitionInfo{
				ID:          p.ID,
				ShardStart:  p.ShardStart,
				ShardEnd:    p.ShardEnd,
				LeaseExpiry: p.LeaseExpiry,
			}, nil
		}
	}
	snapshotFn := admintui.NewSnapshotFunc(rt.manager, partFn)
	if _, err := tea.NewProgram(admintui.New(snapshotFn, 2*time.Second)).Run(); err != nil {
		fmt.Fprintf(os.Stderr, "tui exited with error: %v\n", err)
		os.Exit(1)
	}
}
