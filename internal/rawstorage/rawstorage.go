// Copyright 2025 James Ross
// Package rawstorage defines the blob storage contract that concrete
// backends must satisfy, together with the implementations this module
// ships: an in-memory reference backend, an S3 backend, a compressing
// decorator and a router over several backends.
package rawstorage

import (
	"context"
	"time"

	"github.com/flyingrobots/mitsuha/internal/compute"
)

// RawStorage is the operation contract every storage backend must satisfy.
type RawStorage interface {
	// Store is idempotent over (handle, data, ttl). Absolute expiry is
	// computed from ttl + now unless extensions carries
	// compute.ExtStorageExpiryTimestamp, which takes precedence; an expiry
	// in the past fails with ErrStorageStoreFailed.
	Store(ctx context.Context, spec compute.StorageSpec) error
	// Load returns the stored bytes, or ErrStorageLoadFailed if the handle
	// is absent or expired.
	Load(ctx context.Context, handle string, extensions compute.Extensions) ([]byte, error)
	// Exists reports whether handle is present and unexpired.
	Exists(ctx context.Context, handle string, extensions compute.Extensions) (bool, error)
	// Persist adds ttlSeconds to the handle's current expiry; fails with
	// ErrStoragePersistFailed if the handle is absent.
	Persist(ctx context.Context, handle string, ttlSeconds int64, extensions compute.Extensions) error
	// Clear removes the handle and its metadata. Idempotent.
	Clear(ctx context.Context, handle string, extensions compute.Extensions) error
	// Capabilities reports which optional interfaces this backend supports.
	Capabilities() Capabilities
}

// Capabilities describes optional behavior a RawStorage may support.
type Capabilities struct {
	GarbageCollectable bool
}

// GarbageCollectable is an optional path for backends that can scan and
// expire handles by timestamp rather than relying on a passive per-handle
// check on Load.
type GarbageCollectable interface {
	GarbageCollect(ctx context.Context, now time.Time) (deletedHandles []string, err error)
}

// FileSystem is the paged-content contract, separate from RawStorage
// because large blobs are stored in fixed-size parts rather than as a
// single value.
type FileSystem interface {
	StoreFilePart(ctx context.Context, handle string, partIndex int, partSize int, ttl int64, data []byte) error
	LoadFilePart(ctx context.Context, handle string, partIndex int) ([]byte, error)
	GetFilePartCount(ctx context.Context, handle string) (int, error)
	GetMetadata(ctx context.Context, handle string) (map[string]string, error)
	SetMetadata(ctx context.Context, handle string, metadata map[string]string) error
	PathExists(ctx context.Context, handle string) (bool, error)
	List(ctx context.Context, handle string, pageIndex, pageSize int) ([]string, error)
	AcquireLease(ctx context.Context, handle string, ttl time.Duration) (leaseID string, err error)
	RenewLease(ctx context.Context, handle string, leaseID string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, handle string, leaseID string) error
	DeletePath(ctx context.Context, handle string) error
}
