// Copyright 2025 James Ross
package scheduler

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Key names for the within-request kv bag the scheduler stashes
// (job_handle, storage_handle) into so a post-job hook or the channel's
// cleanup step can find them after a signed dispatch.
const (
	kvJobHandle     = "scheduler.job_handle"
	kvStorageHandle = "scheduler.storage_handle"
	kvCommandID     = "scheduler.command_id"
)

// CostEvaluator scores a JobSpec's compute-unit footprint for partition
// capacity accounting. Distinct from jobmanager.CostEvaluator, which scores
// the per-instance admission budget; this one scores partition placement.
type CostEvaluator func(spec compute.JobSpec) int64

// Config bounds the scheduler's partition lifecycle and batch sizes.
type Config struct {
	MaxShards         int64
	LeaseDuration     time.Duration
	LeaseSkew         time.Duration
	PollInterval      time.Duration
	BatchSize         int
	TotalComputeUnits int64
}

// DefaultConfig returns reasonable defaults for local development.
func DefaultConfig() Config {
	return Config{
		MaxShards:         256,
		LeaseDuration:     30 * time.Second,
		LeaseSkew:         5 * time.Second,
		PollInterval:      2 * time.Second,
		BatchSize:         50,
		TotalComputeUnits: 1000,
	}
}

// Scheduler is the distributed scheduler core: one instance per process,
// each owning exactly one partition lease over a shard range, backed by a
// shared relational Store.
type Scheduler struct {
	store      *Store
	cfg        Config
	evaluator  CostEvaluator
	instanceID string
	log        *zap.Logger

	moduleLock sync.Mutex // serializes this instance's partition create/delete

	mu          sync.Mutex
	partitionID string
	removed     []string
}

// New constructs a Scheduler against store, creating this instance's
// partition and triggering an initial re-shard.
func New(ctx context.Context, store *Store, cfg Config, evaluator CostEvaluator, instanceID string, log *zap.Logger) (*Scheduler, error) {
	if evaluator == nil {
		evaluator = func(spec compute.JobSpec) int64 { return spec.TTL }
	}
	s := &Scheduler{store: store, cfg: cfg, evaluator: evaluator, instanceID: instanceID, log: log}

	s.moduleLock.Lock()
	defer s.moduleLock.Unlock()

	p, err := store.CreatePartition(ctx, 0, cfg.MaxShards-1, int64(cfg.LeaseDuration.Seconds()), cfg.TotalComputeUnits)
	if err != nil {
		return nil, err
	}
	s.partitionID = p.ID

	if err := store.Reshard(ctx, cfg.MaxShards); err != nil {
		return nil, err
	}
	return s, nil
}

// PartitionID returns this instance's currently leased partition id.
func (s *Scheduler) PartitionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.partitionID
}

// CurrentPartition loads this instance's own partition row, for
// observability surfaces that report shard ownership and lease expiry.
func (s *Scheduler) CurrentPartition(ctx context.Context) (Partition, error) {
	return s.store.GetPartition(ctx, s.PartitionID())
}

// Schedule implements the admission decision described for the scheduler
// channel: it returns true when input is a dequeued, already-signed copy
// that should be dispatched directly, and false after queuing a fresh
// submission for later pickup by the event loop.
func (s *Scheduler) Schedule(ctx context.Context, cctx *channel.Context, head channel.Channel, input *compute.ComputeInput) (bool, error) {
	if input.Ext()[compute.ExtQueued] == "true" {
		return true, nil
	}

	data, err := json.Marshal(input)
	if err != nil {
		return false, &compute.UnknownError{Source: err}
	}
	storageHandle := "scheduler/blob/" + uuid.NewString()
	if _, err := head.Compute(ctx, cctx, &compute.ComputeInput{
		Op:    compute.OpStore,
		Store: compute.StorageSpec{Handle: storageHandle, Data: data, TTL: 86400},
	}); err != nil {
		return false, err
	}

	switch input.Op {
	case compute.OpRun:
		if err := s.scheduleRun(ctx, input.Run, storageHandle); err != nil {
			return false, err
		}
	case compute.OpExtend, compute.OpAbort:
		cmd := CommandExtend
		if input.Op == compute.OpAbort {
			cmd = CommandAbort
		}
		if err := s.scheduleCommand(ctx, input.Handle, cmd, storageHandle); err != nil {
			return false, err
		}
	default:
		return false, compute.ErrUnsupportedOperation
	}
	return false, nil
}

func (s *Scheduler) scheduleRun(ctx context.Context, spec compute.JobSpec, storageHandle string) error {
	algorithm := Algorithm(spec.Extensions[compute.ExtAlgorithm])
	if algorithm == "" {
		algorithm = AlgorithmRandom
	}

	row := JobQueueRow{
		JobHandle:     spec.Handle,
		ShardID:       RandomShard(s.cfg.MaxShards),
		JobState:      JobStatePending,
		CreatedAt:     time.Now(),
		ComputeUnits:  s.evaluator(spec),
		StorageHandle: storageHandle,
		Algorithm:     algorithm,
	}

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if algorithm == AlgorithmQuickFit {
		assigned, err := s.store.TryQuickFitAssign(ctx, tx, row.ComputeUnits)
		if err != nil {
			return err
		}
		if assigned != "" {
			row.PartitionID = sql.NullString{String: assigned, Valid: true}
		}
	}

	if err := s.store.InsertJob(ctx, tx, row); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Scheduler) scheduleCommand(ctx context.Context, jobHandle string, cmd CommandType, storageHandle string) error {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	job, err := s.store.GetJob(ctx, tx, jobHandle)
	if err != nil {
		return err
	}
	if _, err := s.store.InsertCommand(ctx, tx, jobHandle, job.PartitionID, cmd, storageHandle); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveJobCommand deletes a job-command row, the cleanup step the
// scheduler channel performs after a signed dispatch completes.
func (s *Scheduler) RemoveJobCommand(ctx context.Context, id int64, storageHandle string) error {
	return s.store.RemoveCommand(ctx, id, storageHandle)
}

// EnqueueRemoved records handle for processing by the next batch_event
// tick, called from the PostJobHook on any terminal transition
// that came through the scheduled path.
func (s *Scheduler) EnqueueRemoved(handle string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, handle)
}

func (s *Scheduler) drainRemoved() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.removed
	s.removed = nil
	return out
}
