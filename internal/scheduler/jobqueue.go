// Copyright 2025 James Ross
package scheduler

import (
	"context"
	"database/sql"
	"math/rand"
)

// InsertJob inserts a new Pending job_queue row. partitionID is empty for
// an orphan placement (no assignment at submission time).
func (s *Store) InsertJob(ctx context.Context, tx *sql.Tx, row JobQueueRow) error {
	var partitionID sql.NullString
	if row.PartitionID.Valid {
		partitionID = row.PartitionID
	}
	_, err := tx.ExecContext(ctx,
		s.q(`INSERT INTO mitsuha_scheduler_job_queue
			(job_handle, partition_id, shard_id, job_state, created_at, compute_units, storage_handle, algorithm)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		row.JobHandle, partitionID, row.ShardID, row.JobState, row.CreatedAt, row.ComputeUnits, row.StorageHandle, row.Algorithm,
	)
	return err
}

// GetJob loads a job_queue row by handle.
func (s *Store) GetJob(ctx context.Context, tx *sql.Tx, handle string) (JobQueueRow, error) {
	q := tx.QueryRowContext(ctx, s.q(`SELECT job_handle, partition_id, shard_id, job_state, created_at, compute_units, storage_handle, algorithm
		FROM mitsuha_scheduler_job_queue WHERE job_handle = ?`)+s.forUpdate(), handle)
	var row JobQueueRow
	if err := q.Scan(&row.JobHandle, &row.PartitionID, &row.ShardID, &row.JobState, &row.CreatedAt, &row.ComputeUnits, &row.StorageHandle, &row.Algorithm); err != nil {
		if err == sql.ErrNoRows {
			return JobQueueRow{}, errEntityNotFound
		}
		return JobQueueRow{}, err
	}
	return row, nil
}

// TryQuickFitAssign scans partition_resource for one with enough available
// capacity and, if found, reserves the units and assigns the job to it
// within the given transaction. Returns the assigned partition id, or ""
// if none fit.
func (s *Store) TryQuickFitAssign(ctx context.Context, tx *sql.Tx, computeUnits int64) (string, error) {
	rows, err := tx.QueryContext(ctx, s.q(`SELECT id, available_compute_units FROM mitsuha_scheduler_partition_resource WHERE available_compute_units >= ? ORDER BY id ASC LIMIT 1`)+s.forUpdate(), computeUnits)
	if err != nil {
		return "", err
	}
	var id string
	var available int64
	found := false
	for rows.Next() {
		if err := rows.Scan(&id, &available); err != nil {
			rows.Close()
			return "", err
		}
		found = true
	}
	rows.Close()
	if !found {
		return "", nil
	}
	if _, err := tx.ExecContext(ctx, s.q(`UPDATE mitsuha_scheduler_partition_resource SET available_compute_units = ? WHERE id = ?`), available-computeUnits, id); err != nil {
		return "", err
	}
	return id, nil
}

// RandomShard picks a pseudo-random shard id in [0, maxShards).
func RandomShard(maxShards int64) int64 {
	if maxShards <= 0 {
		return 0
	}
	return rand.Int63n(maxShards)
}

// InsertCommand inserts a Pending job-command row bound to job's current
// partition (which may be null for an orphan job). lib/pq has no
// LastInsertId, so the postgres path reads the id back via RETURNING.
func (s *Store) InsertCommand(ctx context.Context, tx *sql.Tx, jobHandle string, partitionID sql.NullString, cmd CommandType, storageHandle string) (int64, error) {
	if s.driver == driverPostgres {
		var id int64
		err := tx.QueryRowContext(ctx,
			s.q(`INSERT INTO mitsuha_scheduler_job_command_queue (job_handle, partition_id, command, state, storage_handle) VALUES (?, ?, ?, ?, ?) RETURNING id`),
			jobHandle, partitionID, cmd, CommandPending, storageHandle,
		).Scan(&id)
		return id, err
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO mitsuha_scheduler_job_command_queue (job_handle, partition_id, command, state, storage_handle) VALUES (?, ?, ?, ?, ?)`,
		jobHandle, partitionID, cmd, CommandPending, storageHandle,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RemoveCommand deletes a job-command row by id, the cleanup the scheduler
// channel performs after a signed dispatch completes.
func (s *Store) RemoveCommand(ctx context.Context, id int64, storageHandle string) error {
	_, err := s.db.ExecContext(ctx, s.q(`DELETE FROM mitsuha_scheduler_job_command_queue WHERE id = ? AND storage_handle = ?`), id, storageHandle)
	return err
}

// ConsumeOldestPendingJob transitions the oldest Pending row owned by
// partitionID to Running and returns it, or ok=false if none is pending.
func (s *Store) ConsumeOldestPendingJob(ctx context.Context, partitionID string) (JobQueueRow, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return JobQueueRow{}, false, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, s.q(`SELECT job_handle, partition_id, shard_id, job_state, created_at, compute_units, storage_handle, algorithm
		FROM mitsuha_scheduler_job_queue WHERE partition_id = ? AND job_state = ? ORDER BY created_at ASC LIMIT 1`)+s.forUpdate(),
		partitionID, JobStatePending)

	var jr JobQueueRow
	if err := row.Scan(&jr.JobHandle, &jr.PartitionID, &jr.ShardID, &jr.JobState, &jr.CreatedAt, &jr.ComputeUnits, &jr.StorageHandle, &jr.Algorithm); err != nil {
		if err == sql.ErrNoRows {
			return JobQueueRow{}, false, nil
		}
		return JobQueueRow{}, false, err
	}

	if _, err := tx.ExecContext(ctx, s.q(`UPDATE mitsuha_scheduler_job_queue SET job_state = ? WHERE job_handle = ?`), JobStateRunning, jr.JobHandle); err != nil {
		return JobQueueRow{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return JobQueueRow{}, false, err
	}
	jr.JobState = JobStateRunning
	return jr, true, nil
}

// ConsumeOldestPendingCommand symmetrically transitions the oldest Pending
// job_command_queue row owned by partitionID to Running.
func (s *Store) ConsumeOldestPendingCommand(ctx context.Context, partitionID string) (JobCommandRow, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return JobCommandRow{}, false, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, s.q(`SELECT id, job_handle, partition_id, command, state, storage_handle
		FROM mitsuha_scheduler_job_command_queue WHERE partition_id = ? AND state = ? ORDER BY id ASC LIMIT 1`)+s.forUpdate(),
		partitionID, CommandPending)

	var cr JobCommandRow
	if err := row.Scan(&cr.ID, &cr.JobHandle, &cr.PartitionID, &cr.Command, &cr.State, &cr.StorageHandle); err != nil {
		if err == sql.ErrNoRows {
			return JobCommandRow{}, false, nil
		}
		return JobCommandRow{}, false, err
	}

	if _, err := tx.ExecContext(ctx, s.q(`UPDATE mitsuha_scheduler_job_command_queue SET state = ? WHERE id = ?`), CommandRunning, cr.ID); err != nil {
		return JobCommandRow{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return JobCommandRow{}, false, err
	}
	cr.State = CommandRunning
	return cr, true, nil
}

// ProcessBatchEvent drains removed (job handle, compute units refunded to
// its partition), then adopts up to batchSize orphaned jobs whose shard
// falls in [shardStart, shardEnd] and whose compute_units fit the
// partition's available budget, oldest-created first.
func (s *Store) ProcessBatchEvent(ctx context.Context, partitionID string, shardStart, shardEnd int64, removed []string, batchSize int) (adopted int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, handle := range removed {
		var computeUnits int64
		row := tx.QueryRowContext(ctx, s.q(`SELECT compute_units FROM mitsuha_scheduler_job_queue WHERE job_handle = ? AND partition_id = ?`)+s.forUpdate(), handle, partitionID)
		if err := row.Scan(&computeUnits); err != nil {
			if err == sql.ErrNoRows {
				continue
			}
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM mitsuha_scheduler_job_queue WHERE job_handle = ?`), handle); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM mitsuha_scheduler_job_command_queue WHERE job_handle = ?`), handle); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE mitsuha_scheduler_partition_resource SET available_compute_units = available_compute_units + ? WHERE id = ?`), computeUnits, partitionID); err != nil {
			return 0, err
		}
	}

	var available int64
	if err := tx.QueryRowContext(ctx, s.q(`SELECT available_compute_units FROM mitsuha_scheduler_partition_resource WHERE id = ?`)+s.forUpdate(), partitionID).Scan(&available); err != nil {
		return 0, err
	}

	rows, err := tx.QueryContext(ctx, s.q(`SELECT job_handle, compute_units FROM mitsuha_scheduler_job_queue
		WHERE partition_id IS NULL AND shard_id >= ? AND shard_id <= ? ORDER BY created_at ASC LIMIT ?`)+s.forUpdate(),
		shardStart, shardEnd, batchSize)
	if err != nil {
		return 0, err
	}
	type orphan struct {
		handle string
		cost   int64
	}
	var candidates []orphan
	for rows.Next() {
		var o orphan
		if err := rows.Scan(&o.handle, &o.cost); err != nil {
			rows.Close()
			return 0, err
		}
		candidates = append(candidates, o)
	}
	rows.Close()

	for _, c := range candidates {
		if c.cost > available {
			continue
		}
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE mitsuha_scheduler_job_queue SET partition_id = ? WHERE job_handle = ?`), partitionID, c.handle); err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, s.q(`UPDATE mitsuha_scheduler_job_command_queue SET partition_id = ? WHERE job_handle = ? AND state = ?`), partitionID, c.handle, CommandPending); err != nil {
			return 0, err
		}
		available -= c.cost
		adopted++
	}

	if _, err := tx.ExecContext(ctx, s.q(`UPDATE mitsuha_scheduler_partition_resource SET available_compute_units = ? WHERE id = ?`), available, partitionID); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return adopted, nil
}

// AbortLocalJobs returns the handles of every Running job_queue row owned
// by partitionID, for the rotation path to report. It changes no rows and
// aborts no jobs: the rows stay Running under the old partition id, and
// nothing in this store returns them to the orphan pool.
func (s *Store) AbortLocalJobs(ctx context.Context, partitionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT job_handle FROM mitsuha_scheduler_job_queue WHERE partition_id = ? AND job_state = ?`), partitionID, JobStateRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var handles []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}
	return handles, nil
}

