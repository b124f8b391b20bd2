// Copyright 2025 James Ross
package rawstorage

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/flyingrobots/mitsuha/internal/compute"
	"github.com/klauspost/compress/zstd"
)

// compressedMarker prefixes a stored value that this decorator compressed,
// so Load can tell a zstd-wrapped value apart from one written directly by
// an older backend version or a different decorator stack.
var compressedMarker = []byte("zstd1:")

// Compressing wraps another RawStorage, transparently zstd-compressing
// values at or above threshold bytes on Store and decompressing on Load.
// Values below threshold pass through unmodified.
type Compressing struct {
	backend   RawStorage
	threshold int
	encoder   *zstd.Encoder
	decoder   *zstd.Decoder
}

// NewCompressing wraps backend, compressing Store payloads of thresholdBytes
// or larger.
func NewCompressing(backend RawStorage, thresholdBytes int) (*Compressing, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &Compressing{backend: backend, threshold: thresholdBytes, encoder: enc, decoder: dec}, nil
}

func (c *Compressing) Capabilities() Capabilities { return c.backend.Capabilities() }

func (c *Compressing) Store(ctx context.Context, spec compute.StorageSpec) error {
	if len(spec.Data) >= c.threshold {
		compressed := c.encoder.EncodeAll(spec.Data, make([]byte, 0, len(compressedMarker)+len(spec.Data)))
		spec.Data = append(append([]byte{}, compressedMarker...), compressed...)
	}
	return c.backend.Store(ctx, spec)
}

func (c *Compressing) Load(ctx context.Context, handle string, extensions compute.Extensions) ([]byte, error) {
	data, err := c.backend.Load(ctx, handle, extensions)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, compressedMarker) {
		return data, nil
	}
	plain, err := c.decoder.DecodeAll(data[len(compressedMarker):], nil)
	if err != nil {
		return nil, compute.ErrStorageLoadFailed
	}
	return plain, nil
}

func (c *Compressing) Exists(ctx context.Context, handle string, extensions compute.Extensions) (bool, error) {
	return c.backend.Exists(ctx, handle, extensions)
}

func (c *Compressing) Persist(ctx context.Context, handle string, ttlSeconds int64, extensions compute.Extensions) error {
	return c.backend.Persist(ctx, handle, ttlSeconds, extensions)
}

func (c *Compressing) Clear(ctx context.Context, handle string, extensions compute.Extensions) error {
	return c.backend.Clear(ctx, handle, extensions)
}

// GarbageCollect forwards to the wrapped backend when it supports
// GarbageCollectable.
func (c *Compressing) GarbageCollect(ctx context.Context, now time.Time) ([]string, error) {
	gc, ok := c.backend.(GarbageCollectable)
	if !ok {
		return nil, nil
	}
	return gc.GarbageCollect(ctx, now)
}

var _ io.Closer = (*Compressing)(nil)

// Close releases the zstd encoder/decoder's background resources.
func (c *Compressing) Close() error {
	c.decoder.Close()
	return c.encoder.Close()
}
