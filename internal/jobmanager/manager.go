// Copyright 2025 James Ross
package jobmanager

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/flyingrobots/mitsuha/internal/channel"
	"github.com/flyingrobots/mitsuha/internal/compute"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// PostJobHook runs after a job controller observes a terminal transition
// (completed, aborted, expired), before its status is published.
type PostJobHook interface {
	Run(ctx context.Context) error
}

// Manager is the per-instance admission ledger and job registry: it
// accepts or rejects jobs against a configured maximum concurrent cost,
// tracks locally running jobs for status/extend/abort, and falls back to
// loading a job's published status from storage when it isn't tracked
// locally (e.g. it runs on a different instance).
type Manager struct {
	instanceID string
	evaluator  CostEvaluator
	maxCost    compute.JobCost
	log        *zap.Logger

	mu          sync.Mutex
	currentCost compute.JobCost
	queued      map[string]compute.JobCost
	contexts    map[string]*JobContext

	hooksMu sync.RWMutex
	hooks   []PostJobHook

	limiter *rate.Limiter
}

// New constructs a Manager for instanceID, admitting jobs up to maxCost
// concurrently as scored by evaluator.
func New(instanceID string, maxCost compute.JobCost, evaluator CostEvaluator, log *zap.Logger) *Manager {
	if evaluator == nil {
		evaluator = StandardCostEvaluator{}
	}
	return &Manager{
		instanceID:  instanceID,
		evaluator:   evaluator,
		maxCost:     maxCost,
		log:         log,
		currentCost: compute.JobCost{},
		queued:      make(map[string]compute.JobCost),
		contexts:    make(map[string]*JobContext),
	}
}

// SetAdmissionLimiter installs a token-bucket limiter smoothing bursty Run
// submissions in front of the cost-budget check. Burst submissions that
// exceed the rate are rejected the same way an over-budget job is: the
// caller reroutes or queues the request rather than treating it as an
// error. A nil limiter (the default) disables rate shaping entirely.
func (m *Manager) SetAdmissionLimiter(l *rate.Limiter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limiter = l
}

// InstanceID returns the owning instance's id.
func (m *Manager) InstanceID() string { return m.instanceID }

// QueuedJobsCount reports how many jobs are currently admitted.
func (m *Manager) QueuedJobsCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queued)
}

// QueueJob admits spec against the concurrent cost budget, returning false
// (without error) when admission would exceed the configured maximum.
func (m *Manager) QueueJob(spec compute.JobSpec) (bool, error) {
	cost, err := m.evaluator.Cost(spec)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	jobRequestCount.WithLabelValues(m.instanceID).Inc()

	if m.limiter != nil && !m.limiter.Allow() {
		jobAdmissionRateLimited.WithLabelValues(m.instanceID).Inc()
		return false, nil
	}

	projected := m.currentCost.Add(cost)
	if !projected.LessEqual(m.maxCost) {
		return false, nil
	}

	m.currentCost = projected
	m.queued[spec.Handle] = cost
	jobQueuedComputeCost.WithLabelValues(m.instanceID).Observe(cost["compute"])
	return true, nil
}

// JobCost returns the admitted cost recorded for handle, if any.
func (m *Manager) JobCost(handle string) (compute.JobCost, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.queued[handle]
	return c, ok
}

// DequeueJob releases handle's admitted cost back to the budget. Safe to
// call on a handle that was never queued.
func (m *Manager) DequeueJob(handle string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cost, ok := m.queued[handle]
	if !ok {
		return
	}
	delete(m.queued, handle)
	m.currentCost = m.currentCost.Sub(cost)
}

// RegisterJobContext tracks a newly started job's controller-facing state.
func (m *Manager) RegisterJobContext(handle string, desired compute.JobState) *JobContext {
	jc := newJobContext(handle, desired)
	m.mu.Lock()
	m.contexts[handle] = jc
	m.mu.Unlock()
	return jc
}

// DeregisterJobContext removes a job's local bookkeeping entry.
func (m *Manager) DeregisterJobContext(handle string) {
	m.mu.Lock()
	delete(m.contexts, handle)
	m.mu.Unlock()
}

// TrackedContexts returns the channel.JobContext view for every locally
// tracked job, for wiring into channel.Context.TrackJob.
func (m *Manager) TrackedContexts() map[string]channel.JobContext {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]channel.JobContext, len(m.contexts))
	for k, v := range m.contexts {
		out[k] = v
	}
	return out
}

// TrackedCount reports how many jobs are currently tracked locally,
// without copying the underlying map the way TrackedContexts does.
func (m *Manager) TrackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.contexts)
}

// LocalJobStatus reports the status of a job tracked in this instance's
// process, without consulting storage.
func (m *Manager) LocalJobStatus(handle string) (compute.JobStatus, error) {
	m.mu.Lock()
	jc, ok := m.contexts[handle]
	m.mu.Unlock()
	if !ok {
		return compute.JobStatus{}, compute.ErrJobNotFound
	}

	kind := jc.Status()
	status := compute.JobStatus{
		Kind:       kind,
		Extensions: compute.Extensions{compute.ExtJobStatusLastUpdated: time.Now().UTC().Format(time.RFC3339)},
	}
	if kind == compute.StatusExpired {
		status.ExpiredAt = jc.GetState().ExpireAt
	}
	return status, nil
}

// Status resolves handle's status, preferring the local job context and
// falling back to a Load against statusHandle through head when the job
// isn't tracked on this instance.
func (m *Manager) Status(ctx context.Context, cctx *channel.Context, head channel.Channel, statusHandle string, ext compute.Extensions) (compute.JobStatus, error) {
	if st, err := m.LocalJobStatus(handleForStatus(statusHandle)); err == nil {
		return st, nil
	}

	out, err := head.Compute(ctx, cctx, &compute.ComputeInput{Op: compute.OpLoad, Handle: statusHandle, Extensions: ext})
	if err != nil {
		m.log.Error("failed to get job status from storage", zap.String("handle", statusHandle), zap.Error(err))
		return compute.JobStatus{}, compute.ErrJobNotFound
	}
	var status compute.JobStatus
	if err := json.Unmarshal(out.Data, &status); err != nil {
		return compute.JobStatus{}, &compute.UnknownError{Source: err}
	}
	return status, nil
}

// handleForStatus maps a derived status handle ("<job>/status") back to the
// job handle the local context map is keyed by; any other handle is
// returned unchanged.
func handleForStatus(h string) string {
	const suffix = "/status"
	if len(h) > len(suffix) && h[len(h)-len(suffix):] == suffix {
		return h[:len(h)-len(suffix)]
	}
	return h
}

// ExtendJob pushes the expiry of a running job forward by ttl seconds.
// Only valid while the job's current desired state is a future ExpireAt.
func (m *Manager) ExtendJob(handle string, ttl int64) error {
	m.mu.Lock()
	jc, ok := m.contexts[handle]
	m.mu.Unlock()
	if !ok {
		return compute.ErrJobNotFound
	}

	if obs := jc.GetState(); obs.Kind != compute.JobStateExpireAt {
		return compute.ErrJobNotFound
	}
	// Extend from the last desired expiry, not the observed one, so two
	// rapid extends accumulate instead of the second clobbering the first.
	des := jc.DesiredState()
	if des.Kind != compute.JobStateExpireAt || !des.ExpireAt.After(time.Now()) {
		return compute.ErrJobNotFound
	}
	jc.SetState(compute.JobState{Kind: compute.JobStateExpireAt, ExpireAt: des.ExpireAt.Add(time.Duration(ttl) * time.Second)})
	return nil
}

// Extend satisfies syschannel.JobManager, forwarding to ExtendJob.
func (m *Manager) Extend(ctx context.Context, handle string, ttl int64) error {
	return m.ExtendJob(handle, ttl)
}

// Abort satisfies syschannel.JobManager, forwarding to AbortJob.
func (m *Manager) Abort(ctx context.Context, handle string) error {
	return m.AbortJob(handle)
}

// AbortJob marks a running job as aborted. A job that isn't running
// (already completed, aborted, or expired) cannot be aborted again.
func (m *Manager) AbortJob(handle string) error {
	m.mu.Lock()
	jc, ok := m.contexts[handle]
	m.mu.Unlock()
	if !ok {
		return compute.ErrJobNotFound
	}

	obs := jc.GetState()
	des := jc.DesiredState()
	if obs.Kind != compute.JobStateExpireAt || des.Kind != compute.JobStateExpireAt || !des.ExpireAt.After(time.Now()) {
		if m.log != nil {
			m.log.Warn("cannot abort job in current state", zap.String("handle", handle), zap.Int("state_kind", int(obs.Kind)))
		}
		return compute.ErrJobNotFound
	}
	jc.SetState(compute.JobState{Kind: compute.JobStateAborted})
	return nil
}

// AbortAllJobs aborts every locally tracked job, logging (but not failing
// on) individual errors, and returns the count of jobs actually aborted.
func (m *Manager) AbortAllJobs() int {
	m.mu.Lock()
	handles := make([]string, 0, len(m.contexts))
	for h := range m.contexts {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	aborted := 0
	for _, h := range handles {
		if err := m.AbortJob(h); err != nil {
			if m.log != nil {
				m.log.Error("failed to abort job", zap.String("handle", h), zap.Error(err))
			}
			continue
		}
		aborted++
	}
	return aborted
}

// AddPostJobHook registers a hook run by the job controller on every
// terminal transition.
func (m *Manager) AddPostJobHook(hook PostJobHook) {
	m.hooksMu.Lock()
	defer m.hooksMu.Unlock()
	m.hooks = append(m.hooks, hook)
}

// Hooks returns a snapshot of the registered post-job hooks.
func (m *Manager) Hooks() []PostJobHook {
	m.hooksMu.RLock()
	defer m.hooksMu.RUnlock()
	out := make([]PostJobHook, len(m.hooks))
	copy(out, m.hooks)
	return out
}
