// Copyright 2025 James Ross
package rawstorage

import (
	"bytes"
	"context"
	"testing"

	"github.com/flyingrobots/mitsuha/internal/compute"
)

func TestCompressingRoundTripsAboveThreshold(t *testing.T) {
	backend := NewMemory(nil)
	c, err := NewCompressing(backend, 16)
	if err != nil {
		t.Fatalf("new compressing: %v", err)
	}
	defer c.Close()

	large := bytes.Repeat([]byte("hello world "), 100)
	ctx := context.Background()
	if err := c.Store(ctx, compute.StorageSpec{Handle: "h", Data: large, TTL: 60}); err != nil {
		t.Fatalf("store: %v", err)
	}

	raw, err := backend.Load(ctx, "h", nil)
	if err != nil {
		t.Fatalf("backend load: %v", err)
	}
	if !bytes.HasPrefix(raw, compressedMarker) {
		t.Fatal("expected underlying backend to hold a compressed marker-prefixed value")
	}
	if len(raw) >= len(large) {
		t.Fatalf("expected compression to shrink a repetitive payload, got %d >= %d", len(raw), len(large))
	}

	got, err := c.Load(ctx, "h", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(got, large) {
		t.Fatal("expected decompressed round trip to match original data")
	}
}

func TestCompressingPassesThroughBelowThreshold(t *testing.T) {
	backend := NewMemory(nil)
	c, err := NewCompressing(backend, 1024)
	if err != nil {
		t.Fatalf("new compressing: %v", err)
	}
	defer c.Close()

	small := []byte("tiny")
	ctx := context.Background()
	if err := c.Store(ctx, compute.StorageSpec{Handle: "h", Data: small, TTL: 60}); err != nil {
		t.Fatalf("store: %v", err)
	}

	raw, err := backend.Load(ctx, "h", nil)
	if err != nil {
		t.Fatalf("backend load: %v", err)
	}
	if !bytes.Equal(raw, small) {
		t.Fatal("expected small payload to pass through uncompressed")
	}
}
