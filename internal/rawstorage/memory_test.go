// Copyright 2025 James Ross
package rawstorage

import (
	"context"
	"testing"
	"time"

	"github.com/flyingrobots/mitsuha/internal/compute"
)

func TestStoreLoadRoundTrip(t *testing.T) {
	s := NewMemory(nil)
	ctx := context.Background()
	err := s.Store(ctx, compute.StorageSpec{Handle: "spec1", Data: []byte("Hello world!"), TTL: 100})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	data, err := s.Load(ctx, "spec1", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(data) != "Hello world!" {
		t.Fatalf("got %q", data)
	}
}

func TestExpiryFailsLoad(t *testing.T) {
	now := time.Now()
	clock := &now
	s := NewMemory(func() time.Time { return *clock })
	ctx := context.Background()
	_ = s.Store(ctx, compute.StorageSpec{Handle: "spec1", Data: []byte("x"), TTL: 1})
	*clock = clock.Add(2 * time.Second)
	if _, err := s.Load(ctx, "spec1", nil); err != compute.ErrStorageLoadFailed {
		t.Fatalf("expected ErrStorageLoadFailed, got %v", err)
	}
}

func TestPersistExtendsTTL(t *testing.T) {
	now := time.Now()
	clock := &now
	s := NewMemory(func() time.Time { return *clock })
	ctx := context.Background()
	_ = s.Store(ctx, compute.StorageSpec{Handle: "spec1", Data: []byte("x"), TTL: 2})
	if err := s.Persist(ctx, "spec1", 1, nil); err != nil {
		t.Fatalf("persist: %v", err)
	}
	*clock = clock.Add(2 * time.Second)
	if _, err := s.Load(ctx, "spec1", nil); err != nil {
		t.Fatalf("expected still alive after persist, got %v", err)
	}
}

func TestPersistMissingHandleFails(t *testing.T) {
	s := NewMemory(nil)
	if err := s.Persist(context.Background(), "absent", 1, nil); err != compute.ErrStoragePersistFailed {
		t.Fatalf("expected ErrStoragePersistFailed, got %v", err)
	}
}

func TestClearIsIdempotent(t *testing.T) {
	s := NewMemory(nil)
	ctx := context.Background()
	_ = s.Store(ctx, compute.StorageSpec{Handle: "spec1", Data: []byte("x"), TTL: 10})
	if err := s.Clear(ctx, "spec1", nil); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := s.Clear(ctx, "spec1", nil); err != nil {
		t.Fatalf("second clear should be idempotent, got %v", err)
	}
}

func TestGarbageCollect(t *testing.T) {
	now := time.Now()
	clock := &now
	s := NewMemory(func() time.Time { return *clock })
	ctx := context.Background()
	_ = s.Store(ctx, compute.StorageSpec{Handle: "a", Data: []byte("x"), TTL: 1})
	_ = s.Store(ctx, compute.StorageSpec{Handle: "b", Data: []byte("x"), TTL: 1000})
	*clock = clock.Add(2 * time.Second)
	deleted, err := s.GarbageCollect(ctx, *clock)
	if err != nil {
		t.Fatalf("gc: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "a" {
		t.Fatalf("expected only 'a' collected, got %v", deleted)
	}
}
