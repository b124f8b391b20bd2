// Copyright 2025 James Ross
// Package scheduler implements the distributed scheduler: a leased-partition
// shard assignment model backed by a relational store, with a job queue and
// job-command queue feeding dequeued work back into the channel chain.
package scheduler

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// JobState mirrors the job_queue row's lifecycle column.
type JobState string

const (
	JobStatePending JobState = "Pending"
	JobStateRunning JobState = "Running"
)

// CommandType names a job_command_queue row's operation.
type CommandType string

const (
	CommandExtend CommandType = "Extend"
	CommandAbort  CommandType = "Abort"
)

// CommandState mirrors the job_command_queue row's lifecycle column.
type CommandState string

const (
	CommandPending   CommandState = "Pending"
	CommandRunning   CommandState = "Running"
	CommandCompleted CommandState = "Completed"
)

// Algorithm selects the partition assignment policy for a submitted job.
type Algorithm string

const (
	AlgorithmRandom   Algorithm = "Random"
	AlgorithmQuickFit Algorithm = "QuickFit"
)

// Partition is one instance's leased shard range.
type Partition struct {
	ID          string
	LeaseExpiry time.Time
	ShardStart  int64
	ShardEnd    int64
}

// PartitionResource tracks compute-unit availability for a partition.
type PartitionResource struct {
	ID                   string
	AvailableComputeUnits int64
	TotalComputeUnits     int64
}

// JobQueueRow is one row of the distributed job queue.
type JobQueueRow struct {
	JobHandle     string
	PartitionID   sql.NullString
	ShardID       int64
	JobState      JobState
	CreatedAt     time.Time
	ComputeUnits  int64
	StorageHandle string
	Algorithm     Algorithm
}

// JobCommandRow is one row of the distributed job-command queue.
type JobCommandRow struct {
	ID            int64
	JobHandle     string
	PartitionID   sql.NullString
	Command       CommandType
	State         CommandState
	StorageHandle string
}

const (
	driverSQLite   = "sqlite3"
	driverPostgres = "postgres"
)

// Store is the relational persistence backing the scheduler: explicit
// schema, explicit transaction boundaries, no ORM. Two drivers are
// supported through the same query text: SQLite (the default, per-instance
// file or in-memory) and Postgres via lib/pq (a shared external DB for
// deployments that want all instances on one store). Queries are written
// with ? placeholders and rebound per dialect.
type Store struct {
	db     *sql.DB
	driver string
}

// Open opens (creating if needed) a SQLite-backed scheduler store at dsn
// and ensures its schema exists.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("scheduler: open store: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite: single writer, avoids SQLITE_BUSY under our own concurrency
	s := &Store{db: db, driver: driverSQLite}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres opens a Postgres-backed scheduler store at dsn (a lib/pq
// connection string) and ensures its schema exists. Unlike the SQLite
// store's single-connection serialization, Postgres relies on real
// FOR UPDATE row locks inside each transaction.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("scheduler: open postgres store: %w", err)
	}
	s := &Store{db: db, driver: driverPostgres}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenDB wraps an already-open SQLite *sql.DB (e.g. for tests against a
// shared in-memory database).
func OpenDB(db *sql.DB) (*Store, error) {
	s := &Store{db: db, driver: driverSQLite}
	if err := s.migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

// q rebinds a ?-placeholder query for the active dialect: unchanged for
// sqlite, rewritten to $1..$n for postgres.
func (s *Store) q(query string) string {
	if s.driver != driverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// forUpdate returns the row-lock suffix for selects that are followed by
// an update of the same rows within one transaction. SQLite has no row
// locks; its single serialized connection provides the same mutual
// exclusion instead.
func (s *Store) forUpdate() string {
	if s.driver == driverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

const schema = `
CREATE TABLE IF NOT EXISTS mitsuha_scheduler_partition (
	id TEXT PRIMARY KEY,
	lease_expiry DATETIME NOT NULL,
	shard_start INTEGER NOT NULL,
	shard_end INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS mitsuha_scheduler_partition_resource (
	id TEXT PRIMARY KEY REFERENCES mitsuha_scheduler_partition(id),
	available_compute_units INTEGER NOT NULL,
	total_compute_units INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS mitsuha_scheduler_job_queue (
	job_handle TEXT PRIMARY KEY,
	partition_id TEXT REFERENCES mitsuha_scheduler_partition(id),
	shard_id INTEGER NOT NULL,
	job_state TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	compute_units INTEGER NOT NULL,
	storage_handle TEXT NOT NULL,
	algorithm TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS mitsuha_scheduler_job_command_queue (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_handle TEXT NOT NULL,
	partition_id TEXT REFERENCES mitsuha_scheduler_partition(id),
	command TEXT NOT NULL,
	state TEXT NOT NULL,
	storage_handle TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS mitsuha_module (
	id TEXT PRIMARY KEY,
	name TEXT UNIQUE NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS mitsuha_scheduler_partition (
	id TEXT PRIMARY KEY,
	lease_expiry TIMESTAMPTZ NOT NULL,
	shard_start BIGINT NOT NULL,
	shard_end BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS mitsuha_scheduler_partition_resource (
	id TEXT PRIMARY KEY REFERENCES mitsuha_scheduler_partition(id),
	available_compute_units BIGINT NOT NULL,
	total_compute_units BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS mitsuha_scheduler_job_queue (
	job_handle TEXT PRIMARY KEY,
	partition_id TEXT REFERENCES mitsuha_scheduler_partition(id),
	shard_id BIGINT NOT NULL,
	job_state TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	compute_units BIGINT NOT NULL,
	storage_handle TEXT NOT NULL,
	algorithm TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS mitsuha_scheduler_job_command_queue (
	id BIGSERIAL PRIMARY KEY,
	job_handle TEXT NOT NULL,
	partition_id TEXT REFERENCES mitsuha_scheduler_partition(id),
	command TEXT NOT NULL,
	state TEXT NOT NULL,
	storage_handle TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS mitsuha_module (
	id TEXT PRIMARY KEY,
	name TEXT UNIQUE NOT NULL
);
`

func (s *Store) migrate(ctx context.Context) error {
	ddl := schema
	if s.driver == driverPostgres {
		ddl = schemaPostgres
	}
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}
