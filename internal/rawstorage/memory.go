// Copyright 2025 James Ross
package rawstorage

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/flyingrobots/mitsuha/internal/compute"
)

type entry struct {
	data   []byte
	expiry time.Time
}

// Memory is a reference RawStorage/GarbageCollectable implementation
// backed by a guarded map. It exists for tests and local development; the
// design treats real backends as external collaborators.
type Memory struct {
	mu   sync.Mutex
	data map[string]entry
	now  func() time.Time
}

// NewMemory constructs an empty in-memory store. now defaults to
// time.Now if nil, and exists so tests can control expiry deterministically.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{data: make(map[string]entry), now: now}
}

func (m *Memory) Capabilities() Capabilities {
	return Capabilities{GarbageCollectable: true}
}

func (m *Memory) Store(ctx context.Context, spec compute.StorageSpec) error {
	expiry := m.now().Add(time.Duration(spec.TTL) * time.Second)
	if spec.TTL == 0 {
		expiry = m.now().Add(100 * 365 * 24 * time.Hour)
	}
	if abs, ok := spec.Extensions[compute.ExtStorageExpiryTimestamp]; ok {
		t, err := parseTimestamp(abs)
		if err != nil {
			return compute.ErrStorageStoreFailed
		}
		if t.Before(m.now()) {
			return compute.ErrStorageStoreFailed
		}
		expiry = t
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[spec.Handle] = entry{data: spec.Data, expiry: expiry}
	return nil
}

func (m *Memory) Load(ctx context.Context, handle string, extensions compute.Extensions) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[handle]
	if !ok || m.now().After(e.expiry) {
		return nil, compute.ErrStorageLoadFailed
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, nil
}

func (m *Memory) Exists(ctx context.Context, handle string, extensions compute.Extensions) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[handle]
	if !ok || m.now().After(e.expiry) {
		return false, nil
	}
	return true, nil
}

func (m *Memory) Persist(ctx context.Context, handle string, ttlSeconds int64, extensions compute.Extensions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[handle]
	if !ok {
		return compute.ErrStoragePersistFailed
	}
	e.expiry = e.expiry.Add(time.Duration(ttlSeconds) * time.Second)
	m.data[handle] = e
	return nil
}

func (m *Memory) Clear(ctx context.Context, handle string, extensions compute.Extensions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, handle)
	return nil
}

// GarbageCollect removes every handle whose expiry has passed, returning
// the handles it deleted.
func (m *Memory) GarbageCollect(ctx context.Context, now time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var deleted []string
	for h, e := range m.data {
		if now.After(e.expiry) {
			delete(m.data, h)
			deleted = append(deleted, h)
		}
	}
	return deleted, nil
}

func parseTimestamp(s string) (time.Time, error) {
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0), nil
	}
	return time.Parse(time.RFC3339, s)
}
