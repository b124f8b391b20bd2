// Copyright 2025 James Ross
package jobmanager

import (
	"sync"
	"time"

	"github.com/flyingrobots/mitsuha/internal/compute"
)

// JobContext tracks the desired-versus-observed JobState for one locally
// running job, over two separate channel legs: SetState pushes desired
// deltas into the updates channel, which the job controller is the sole
// consumer of; the controller reports back every state it actually
// processes through a distinct observed channel that GetState drains. The
// two legs never share a consumer, so a status probe can never steal a
// transition intended for the controller. It satisfies channel.JobContext.
type JobContext struct {
	handle string

	mu      sync.Mutex
	desired compute.JobState // last delta sent toward the controller
	actual  compute.JobState // last state the controller reported back

	updates  chan compute.JobState // controller-exclusive receive leg
	observed chan compute.JobState // controller -> manager publish leg
}

func newJobContext(handle string, desired compute.JobState) *JobContext {
	jc := &JobContext{
		handle:   handle,
		desired:  desired,
		actual:   desired,
		updates:  make(chan compute.JobState, 8),
		observed: make(chan compute.JobState, 1),
	}
	jc.updates <- desired
	return jc
}

// SetState enqueues a desired-state transition toward the controller if it
// differs from the last one sent. Idempotent re-sends of the same state
// are dropped so the controller loop doesn't wake for no-ops.
func (jc *JobContext) SetState(desired compute.JobState) {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	if stateEqual(desired, jc.desired) {
		return
	}
	jc.desired = desired
	jc.updates <- desired
}

// DesiredState returns the last delta sent toward the controller, whether
// or not the controller has processed it yet.
func (jc *JobContext) DesiredState() compute.JobState {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	return jc.desired
}

// GetState drains the latest controller-published state, if any, and
// returns the result. It only ever reads the observed leg; the updates
// channel belongs to the controller alone.
func (jc *JobContext) GetState() compute.JobState {
	jc.mu.Lock()
	defer jc.mu.Unlock()
	select {
	case st := <-jc.observed:
		jc.actual = st
	default:
	}
	return jc.actual
}

// Publish records a state the controller has processed, replacing any
// stale unread value. Only the job controller calls this.
func (jc *JobContext) Publish(st compute.JobState) {
	select {
	case <-jc.observed:
	default:
	}
	jc.observed <- st
}

// Updates exposes the receive leg for the job controller's select loop.
// The controller is its only consumer.
func (jc *JobContext) Updates() <-chan compute.JobState { return jc.updates }

// Status reports the JobStatusKind implied by the last controller-observed
// state, satisfying channel.JobContext.
func (jc *JobContext) Status() compute.JobStatusKind {
	st := jc.GetState()
	switch st.Kind {
	case compute.JobStateAborted:
		return compute.StatusAborted
	case compute.JobStateCompleted:
		return compute.StatusCompleted
	case compute.JobStateExpireAt:
		if !st.ExpireAt.After(time.Now()) {
			return compute.StatusExpired
		}
		return compute.StatusRunning
	default:
		return compute.StatusRunning
	}
}

func stateEqual(a, b compute.JobState) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind == compute.JobStateExpireAt {
		return a.ExpireAt.Equal(b.ExpireAt)
	}
	return true
}
