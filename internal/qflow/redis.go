// Copyright 2025 James Ross
package qflow

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/flyingrobots/mitsuha/internal/compute"
	"github.com/redis/go-redis/v9"
)

// enqueueScript and dequeueScript perform the get_for_update-then-mutate
// steps from a single round trip, assuming the caller already holds the
// queue's sentinel lock key (acquired via SETNX before the script runs, so
// a concurrent writer that loses the SETNX race skips this index entirely
// instead of racing the script itself).
var enqueueScript = redis.NewScript(`
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
redis.call('SET', KEYS[2] .. n, ARGV[1])
redis.call('SET', KEYS[1], n + 1)
return n
`)

var dequeueScript = redis.NewScript(`
local m = tonumber(redis.call('GET', KEYS[1]) or '0')
local n = tonumber(redis.call('GET', KEYS[2]) or '0')
if m >= n then return false end
local data = redis.call('GET', KEYS[3] .. m)
if not data then
  redis.call('SET', KEYS[1], m + 1)
  return false
end
redis.call('DEL', KEYS[3] .. m)
redis.call('SET', KEYS[1], m + 1)
return data
`)

const lockTTL = 200 * time.Millisecond

// Redis is the production QFlow backend: a configurable number of numbered
// queues (offset/length/element keys) plus a bidirectional sticky-routing
// table keyed on job handle.
type Redis struct {
	rdb    *redis.Client
	prefix string

	space orderSpace
}

// NewRedis constructs a QFlow backend against rdb, namespacing all keys
// under prefix (e.g. "qflow").
func NewRedis(rdb *redis.Client, prefix string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) desiredKey() string { return r.prefix + ":desired" }
func (r *Redis) observedKey() string { return r.prefix + ":observed" }
func (r *Redis) lockKey(i int) string { return fmt.Sprintf("%s:q:%d:lock", r.prefix, i) }
func (r *Redis) offsetKey(i int) string { return fmt.Sprintf("%s:q:%d:offset", r.prefix, i) }
func (r *Redis) lengthKey(i int) string { return fmt.Sprintf("%s:q:%d:length", r.prefix, i) }
func (r *Redis) elemPrefix(i int) string { return fmt.Sprintf("%s:q:%d:elem:", r.prefix, i) }

func (r *Redis) stickyLockKey(id string) string { return fmt.Sprintf("%s:sticky:%s:lock", r.prefix, id) }
func (r *Redis) stickyOffsetKey(id string) string { return fmt.Sprintf("%s:sticky:%s:offset", r.prefix, id) }
func (r *Redis) stickyLengthKey(id string) string { return fmt.Sprintf("%s:sticky:%s:length", r.prefix, id) }
func (r *Redis) stickyElemPrefix(id string) string { return fmt.Sprintf("%s:sticky:%s:elem:", r.prefix, id) }
func (r *Redis) triggerKey(handle string) string { return fmt.Sprintf("%s:trigger:%s", r.prefix, handle) }

// SetDesiredQueues configures the target queue count. Scale-up takes effect
// immediately for producers; scale-down is picked up by Rebalance once
// trailing queues drain.
func (r *Redis) SetDesiredQueues(ctx context.Context, n int) error {
	return r.rdb.Set(ctx, r.desiredKey(), n, 0).Err()
}

func (r *Redis) desiredCount(ctx context.Context) (int, error) {
	return r.rdb.Get(ctx, r.desiredKey()).Int()
}

func (r *Redis) observedCount(ctx context.Context) (int, error) {
	n, err := r.rdb.Get(ctx, r.observedKey()).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// Rebalance converges the observed queue count toward desired: growth is
// immediate; shrinkage removes the highest-indexed queue only once it has
// fully drained (offset == length).
func (r *Redis) Rebalance(ctx context.Context) error {
	desired, err := r.desiredCount(ctx)
	if err != nil && err != redis.Nil {
		return err
	}
	if desired <= 0 {
		desired = 1
	}
	observed, err := r.observedCount(ctx)
	if err != nil {
		return err
	}

	if desired > observed {
		return r.rdb.Set(ctx, r.observedKey(), desired, 0).Err()
	}
	if desired < observed {
		last := observed - 1
		offset, _ := r.rdb.Get(ctx, r.offsetKey(last)).Int64()
		length, _ := r.rdb.Get(ctx, r.lengthKey(last)).Int64()
		if offset == length {
			return r.rdb.Set(ctx, r.observedKey(), last, 0).Err()
		}
	}
	return nil
}

// Write enqueues input, routing to the per-client sticky queue when a
// trigger was recorded for its handle, otherwise to a randomly chosen
// global queue over the desired space.
func (r *Redis) Write(ctx context.Context, input *compute.ComputeInput) error {
	data, err := marshal(input)
	if err != nil {
		return err
	}

	if input.Op != compute.OpRun {
		if clientID, err := r.rdb.Get(ctx, r.triggerKey(input.Handle)).Result(); err == nil && clientID != "" {
			return r.enqueueSticky(ctx, clientID, data)
		}
	}

	n, err := r.desiredCount(ctx)
	if err != nil && err != redis.Nil {
		return err
	}
	if n <= 0 {
		n = 1
	}
	return r.enqueueGlobal(ctx, n, data)
}

func (r *Redis) enqueueGlobal(ctx context.Context, n int, data string) error {
	for _, i := range r.space.order(n) {
		ok, err := r.rdb.SetNX(ctx, r.lockKey(i), "1", lockTTL).Result()
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		_, err = enqueueScript.Run(ctx, r.rdb, []string{r.lengthKey(i), r.elemPrefix(i)}, data).Result()
		_ = r.rdb.Del(ctx, r.lockKey(i)).Err()
		if err != nil {
			return err
		}
		return nil
	}
	return fmt.Errorf("qflow: no queue slot available among %d queues", n)
}

func (r *Redis) enqueueSticky(ctx context.Context, clientID, data string) error {
	for {
		ok, err := r.rdb.SetNX(ctx, r.stickyLockKey(clientID), "1", lockTTL).Result()
		if err != nil {
			return err
		}
		if ok {
			defer r.rdb.Del(ctx, r.stickyLockKey(clientID))
			_, err = enqueueScript.Run(ctx, r.rdb, []string{r.stickyLengthKey(clientID), r.stickyElemPrefix(clientID)}, data).Result()
			return err
		}
		// Held by a concurrent writer; retry shortly rather than dropping
		// the follow-up op.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// Read drains the sticky queue for clientID first, then falls back to a
// randomly chosen global queue over the observed space. It returns a nil
// input and a nil error when nothing was available; callers are expected
// to poll.
func (r *Redis) Read(ctx context.Context, clientID string) (*compute.ComputeInput, error) {
	if data, ok, err := r.dequeueSticky(ctx, clientID); err != nil {
		return nil, err
	} else if ok {
		input, err := unmarshal(data)
		if err != nil {
			return nil, err
		}
		r.recordTriggerIfRun(ctx, input, clientID)
		return input, nil
	}

	n, err := r.observedCount(ctx)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, nil
	}
	for _, i := range r.space.order(n) {
		data, ok, err := r.dequeueGlobal(ctx, i)
		if err != nil {
			return nil, err
		}
		if ok {
			input, err := unmarshal(data)
			if err != nil {
				return nil, err
			}
			r.recordTriggerIfRun(ctx, input, clientID)
			return input, nil
		}
	}
	return nil, nil
}

// recordTriggerIfRun establishes the bidirectional sticky trigger the first
// time a Run is observed by a consuming client, pinning its follow-up
// control ops (Status/Extend/Abort) to that client's sticky queue.
func (r *Redis) recordTriggerIfRun(ctx context.Context, input *compute.ComputeInput, clientID string) {
	if input.Op != compute.OpRun {
		return
	}
	_ = r.rdb.Set(ctx, r.triggerKey(input.Run.Handle), clientID, 0).Err()
}

func (r *Redis) dequeueGlobal(ctx context.Context, i int) (string, bool, error) {
	ok, err := r.rdb.SetNX(ctx, r.lockKey(i), "1", lockTTL).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	defer r.rdb.Del(ctx, r.lockKey(i))

	res, err := dequeueScript.Run(ctx, r.rdb, []string{r.offsetKey(i), r.lengthKey(i), r.elemPrefix(i)}).Result()
	if err == redis.Nil {
		// Lua false: queue empty.
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	s, ok := res.(string)
	return s, ok, nil
}

func (r *Redis) dequeueSticky(ctx context.Context, clientID string) (string, bool, error) {
	ok, err := r.rdb.SetNX(ctx, r.stickyLockKey(clientID), "1", lockTTL).Result()
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	defer r.rdb.Del(ctx, r.stickyLockKey(clientID))

	res, err := dequeueScript.Run(ctx, r.rdb, []string{
		r.stickyOffsetKey(clientID), r.stickyLengthKey(clientID), r.stickyElemPrefix(clientID),
	}).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	s, ok := res.(string)
	return s, ok, nil
}

// orderSpace caches a shuffled permutation of [0, n) and regenerates it
// only when n changes. Each call returns it rotated to a random starting
// position, spreading producers and consumers across the queue space
// without re-shuffling on every call.
type orderSpace struct {
	mu  sync.Mutex
	n   int
	idx []int
}

func (s *orderSpace) order(n int) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.n != n || s.idx == nil {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		rand.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
		s.n = n
		s.idx = idx
	}
	start := rand.Intn(len(s.idx))
	out := make([]int, 0, len(s.idx))
	out = append(out, s.idx[start:]...)
	out = append(out, s.idx[:start]...)
	return out
}
