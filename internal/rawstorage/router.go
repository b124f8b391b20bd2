// Copyright 2025 James Ross
package rawstorage

import (
	"context"
	"regexp"
	"time"

	"github.com/flyingrobots/mitsuha/internal/compute"
)

// RouterRule pairs a handle-matching regex with the backend that owns
// handles matching it, evaluated in order.
type RouterRule struct {
	Pattern *regexp.Regexp
	Backend RawStorage
}

// Router multiplexes storage operations across several heterogeneous
// backends by handle pattern, so a single storagechan.Muxed channel (which
// is wired against exactly one RawStorage) can still fan out across, say,
// an S3 bucket for large archival blobs and an in-memory backend for
// short-lived job output.
type Router struct {
	rules []RouterRule
}

// NewRouter constructs a Router over rules, evaluated in order; the first
// matching pattern's backend serves the request.
func NewRouter(rules []RouterRule) *Router {
	return &Router{rules: rules}
}

func (r *Router) route(handle string) (RawStorage, bool) {
	for _, rule := range r.rules {
		if rule.Pattern.MatchString(handle) {
			return rule.Backend, true
		}
	}
	return nil, false
}

func (r *Router) Capabilities() Capabilities { return Capabilities{GarbageCollectable: true} }

func (r *Router) Store(ctx context.Context, spec compute.StorageSpec) error {
	backend, ok := r.route(spec.Handle)
	if !ok {
		return compute.ErrStorageStoreFailed
	}
	return backend.Store(ctx, spec)
}

func (r *Router) Load(ctx context.Context, handle string, extensions compute.Extensions) ([]byte, error) {
	backend, ok := r.route(handle)
	if !ok {
		return nil, compute.ErrStorageLoadFailed
	}
	return backend.Load(ctx, handle, extensions)
}

func (r *Router) Exists(ctx context.Context, handle string, extensions compute.Extensions) (bool, error) {
	backend, ok := r.route(handle)
	if !ok {
		return false, nil
	}
	return backend.Exists(ctx, handle, extensions)
}

func (r *Router) Persist(ctx context.Context, handle string, ttlSeconds int64, extensions compute.Extensions) error {
	backend, ok := r.route(handle)
	if !ok {
		return compute.ErrStoragePersistFailed
	}
	return backend.Persist(ctx, handle, ttlSeconds, extensions)
}

func (r *Router) Clear(ctx context.Context, handle string, extensions compute.Extensions) error {
	backend, ok := r.route(handle)
	if !ok {
		return nil
	}
	return backend.Clear(ctx, handle, extensions)
}

// GarbageCollect sweeps every distinct backend behind the router that
// supports it, deduplicating backends referenced by more than one rule.
func (r *Router) GarbageCollect(ctx context.Context, now time.Time) ([]string, error) {
	seen := make(map[RawStorage]bool)
	var deleted []string
	for _, rule := range r.rules {
		if seen[rule.Backend] {
			continue
		}
		seen[rule.Backend] = true
		gc, ok := rule.Backend.(GarbageCollectable)
		if !ok {
			continue
		}
		d, err := gc.GarbageCollect(ctx, now)
		if err != nil {
			return deleted, err
		}
		deleted = append(deleted, d...)
	}
	return deleted, nil
}
