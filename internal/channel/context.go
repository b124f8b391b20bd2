// Copyright 2025 James Ross
package channel

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/flyingrobots/mitsuha/internal/compute"
)

// JobContext is the minimal view the channel context needs of a locally
// tracked job: enough for the Delegator to garbage-collect its bookkeeping
// without importing the job manager package. The job manager's JobContext
// type satisfies this.
type JobContext interface {
	Status() compute.JobStatusKind
}

// Context is the per-request, shared-by-reference cross-cut state:
// tracked local jobs, a back-reference to the chain head, a
// channel registry, a kv bag, signing, and a skip-list. It is never cloned
// per hop; channels mutate it in place under its own locks. Derive gives a
// dispatch its own kv scope over the same shared state.
type Context struct {
	head Channel

	shared *contextShared

	kvMu sync.RWMutex
	kv   map[string]string
}

// contextShared is the state every derived Context of one chain sees:
// tracked jobs, the channel registry, and the signing key.
type contextShared struct {
	mu       sync.RWMutex
	jobs     map[string]JobContext
	registry map[string]Channel

	signingKey []byte
}

// NewContext constructs a fresh context rooted at head, with registry
// pre-populated from the given channels (keyed by their ID()).
func NewContext(head Channel, registry ...Channel) *Context {
	key := make([]byte, 32)
	_, _ = rand.Read(key)
	reg := make(map[string]Channel, len(registry))
	for _, c := range registry {
		reg[c.ID()] = c
	}
	return &Context{
		head: head,
		shared: &contextShared{
			jobs:       make(map[string]JobContext),
			registry:   reg,
			signingKey: key,
		},
		kv: make(map[string]string),
	}
}

// Derive returns a context sharing this one's chain head, channel
// registry, tracked jobs, and signing key, but with a fresh, empty kv bag.
// Concurrent dispatches each take their own derived context so their
// per-request parameters never race each other.
func (c *Context) Derive() *Context {
	return &Context{head: c.head, shared: c.shared, kv: make(map[string]string)}
}

// Head returns the chain's entry point, used by channels that need to
// re-enter the pipeline (e.g. the enforcer loading a policy blob, the
// scheduler dispatching a dequeued copy).
func (c *Context) Head() Channel { return c.head }

// RegisterChannel adds a channel to the id -> channel lookup table used by
// the Delegator to find its peer.
func (c *Context) RegisterChannel(ch Channel) {
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()
	c.shared.registry[ch.ID()] = ch
}

// Lookup resolves a channel by id, as used by the Delegator to find its
// configured peer.
func (c *Context) Lookup(id string) (Channel, bool) {
	c.shared.mu.RLock()
	defer c.shared.mu.RUnlock()
	ch, ok := c.shared.registry[id]
	return ch, ok
}

// TrackJob records a locally running job so Delegator (and others) can
// account for it.
func (c *Context) TrackJob(handle string, jc JobContext) {
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()
	c.shared.jobs[handle] = jc
}

// UntrackJob removes a job's local bookkeeping entry. Idempotent.
func (c *Context) UntrackJob(handle string) {
	c.shared.mu.Lock()
	defer c.shared.mu.Unlock()
	delete(c.shared.jobs, handle)
}

// TrackedJobs returns a snapshot of the currently tracked job handles.
func (c *Context) TrackedJobs() map[string]JobContext {
	c.shared.mu.RLock()
	defer c.shared.mu.RUnlock()
	out := make(map[string]JobContext, len(c.shared.jobs))
	for k, v := range c.shared.jobs {
		out[k] = v
	}
	return out
}

// JobStatus consults the currently tracked JobContext for handle, reporting
// its observed status. Used by the Delegator to garbage-collect its local
// slot accounting without taking a dependency on the job manager package.
func (c *Context) JobStatus(handle string) (compute.JobStatusKind, bool) {
	c.shared.mu.RLock()
	jc, ok := c.shared.jobs[handle]
	c.shared.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return jc.Status(), true
}

// KVSet/KVGet implement the within-request parameter-passing bag used by
// the scheduler to stash (job_handle, storage_handle) pairs for its post-job
// hook to find. The bag is scoped to this Context, not to the shared state:
// a derived context starts empty.
func (c *Context) KVSet(key, value string) {
	c.kvMu.Lock()
	defer c.kvMu.Unlock()
	c.kv[key] = value
}

func (c *Context) KVGet(key string) (string, bool) {
	c.kvMu.RLock()
	defer c.kvMu.RUnlock()
	v, ok := c.kv[key]
	return v, ok
}

// --- Signing ---
//
// SignComputeInput stamps an opaque token into the request's extensions
// that proves it has passed an authoritative boundary (scheduler
// admission). IsComputeInputSigned verifies that stamp without being able
// to forge one, since the HMAC key never leaves the context.

func (c *Context) sign(handle string) string {
	mac := hmac.New(sha256.New, c.shared.signingKey)
	mac.Write([]byte(handle))
	return hex.EncodeToString(mac.Sum(nil))
}

// SignComputeInput stamps the signature extension for the input's effective
// handle.
func (c *Context) SignComputeInput(input *compute.ComputeInput) {
	ext := input.Ext().Clone()
	ext[compute.ExtSignature] = c.sign(input.EffectiveHandle())
	input.SetExt(ext)
}

// IsComputeInputSigned reports whether the stamped signature extension is
// valid for the input's current effective handle.
func (c *Context) IsComputeInputSigned(input *compute.ComputeInput) bool {
	ext := input.Ext()
	if ext == nil {
		return false
	}
	got, ok := ext[compute.ExtSignature]
	if !ok {
		return false
	}
	want := c.sign(input.EffectiveHandle())
	return hmac.Equal([]byte(got), []byte(want))
}

// --- Skip list ---
//
// AppendSkipChannelList marks a channel id to be bypassed the next time a
// request re-enters the pipeline from the head, letting a channel that
// dispatches back into the chain (scheduler, enforcer) avoid re-triggering
// itself infinitely.

func (c *Context) AppendSkipChannelList(input *compute.ComputeInput, channelID string) {
	ext := input.Ext().Clone()
	existing := ext[compute.ExtSkipList]
	ids := splitSkipList(existing)
	for _, id := range ids {
		if id == channelID {
			input.SetExt(ext)
			return
		}
	}
	ids = append(ids, channelID)
	ext[compute.ExtSkipList] = strings.Join(ids, ",")
	input.SetExt(ext)
}

func (c *Context) IsSkipped(input *compute.ComputeInput, channelID string) bool {
	ext := input.Ext()
	if ext == nil {
		return false
	}
	for _, id := range splitSkipList(ext[compute.ExtSkipList]) {
		if id == channelID {
			return true
		}
	}
	return false
}

func splitSkipList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
