// Copyright 2025 James Ross
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreatePartition inserts a fresh partition with the given shard range and
// an initial resource row with its full compute budget available. Callers
// must hold the module-level lock (Scheduler.moduleLock) around creation,
// so two instances can never interleave create/delete of partition rows.
func (s *Store) CreatePartition(ctx context.Context, shardStart, shardEnd, leaseDuration int64, totalComputeUnits int64) (Partition, error) {
	p := Partition{
		ID:          uuid.NewString(),
		LeaseExpiry: time.Now().Add(time.Duration(leaseDuration) * time.Second),
		ShardStart:  shardStart,
		ShardEnd:    shardEnd,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Partition{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		s.q(`INSERT INTO mitsuha_scheduler_partition (id, lease_expiry, shard_start, shard_end) VALUES (?, ?, ?, ?)`),
		p.ID, p.LeaseExpiry, p.ShardStart, p.ShardEnd,
	); err != nil {
		return Partition{}, fmt.Errorf("scheduler: create partition: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		s.q(`INSERT INTO mitsuha_scheduler_partition_resource (id, available_compute_units, total_compute_units) VALUES (?, ?, ?)`),
		p.ID, totalComputeUnits, totalComputeUnits,
	); err != nil {
		return Partition{}, fmt.Errorf("scheduler: create partition resource: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Partition{}, err
	}
	return p, nil
}

// DeletePartition removes a partition row and its resource row.
func (s *Store) DeletePartition(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM mitsuha_scheduler_partition_resource WHERE id = ?`), id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM mitsuha_scheduler_partition WHERE id = ?`), id); err != nil {
		return err
	}
	return tx.Commit()
}

// RemoveStalePartitions deletes every partition whose lease has expired and
// reports whether anything was removed (callers re-shard when true).
func (s *Store) RemoveStalePartitions(ctx context.Context) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.q(`DELETE FROM mitsuha_scheduler_partition_resource WHERE id IN (
		SELECT id FROM mitsuha_scheduler_partition WHERE lease_expiry <= ?
	)`), time.Now())
	if err != nil {
		return false, err
	}
	res2, err := tx.ExecContext(ctx, s.q(`DELETE FROM mitsuha_scheduler_partition WHERE lease_expiry <= ?`), time.Now())
	if err != nil {
		return false, err
	}
	n1, _ := res.RowsAffected()
	n2, _ := res2.RowsAffected()
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n1 > 0 || n2 > 0, nil
}

// RenewPartition extends id's lease by leaseDuration, but only if its
// current lease still has more than leaseSkew of headroom — otherwise the
// renewal is refused and the caller should treat this as a signal to
// rotate.
func (s *Store) RenewPartition(ctx context.Context, id string, leaseDuration, leaseSkew int64) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		s.q(`UPDATE mitsuha_scheduler_partition SET lease_expiry = ? WHERE id = ? AND lease_expiry > ?`),
		now.Add(time.Duration(leaseDuration)*time.Second), id, now.Add(time.Duration(leaseSkew)*time.Second),
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("scheduler: partition %s lease too close to expiry to renew", id)
	}
	return nil
}

// GetPartition loads a partition row.
func (s *Store) GetPartition(ctx context.Context, id string) (Partition, error) {
	var p Partition
	err := s.db.QueryRowContext(ctx, s.q(`SELECT id, lease_expiry, shard_start, shard_end FROM mitsuha_scheduler_partition WHERE id = ?`), id).
		Scan(&p.ID, &p.LeaseExpiry, &p.ShardStart, &p.ShardEnd)
	if err == sql.ErrNoRows {
		return Partition{}, errEntityNotFound
	}
	return p, err
}

// Reshard assigns every existing partition a contiguous, equal-size slice
// of [0, maxShards) in ascending id order. Implemented with a windowed
// ordinal computed in Go (sqlite lacks the window-function ergonomics of
// the source's single-UPDATE form) but applied atomically in one
// transaction so concurrent readers never see a partial remap.
func (s *Store) Reshard(ctx context.Context, maxShards int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id FROM mitsuha_scheduler_partition ORDER BY id ASC`+s.forUpdate())
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()

	n := int64(len(ids))
	if n == 0 {
		return tx.Commit()
	}
	base := maxShards / n
	rem := maxShards % n

	var cursor int64
	for i, id := range ids {
		size := base
		if int64(i) < rem {
			size++
		}
		start, end := cursor, cursor+size-1
		if size == 0 {
			end = start - 1 // empty range, kept monotone
		}
		if _, err := tx.ExecContext(ctx,
			s.q(`UPDATE mitsuha_scheduler_partition SET shard_start = ?, shard_end = ? WHERE id = ?`),
			start, end, id,
		); err != nil {
			return err
		}
		cursor += size
	}
	return tx.Commit()
}
