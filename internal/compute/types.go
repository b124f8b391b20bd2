// Copyright 2025 James Ross
// Package compute defines the universal request/response types that flow
// through the channel chain: ComputeInput, ComputeOutput, and the blob/job
// value objects each operation carries.
package compute

import "time"

// Extensions is the cross-cutting metadata bag carried on every request:
// namespace, selectors, signing tokens, policy keys, skip-lists, scheduler
// markers. Keys are defined in extkeys.go.
type Extensions map[string]string

// Clone returns a shallow copy so channels can mutate extensions without
// racing other holders of the same ComputeInput.
func (e Extensions) Clone() Extensions {
	if e == nil {
		return Extensions{}
	}
	out := make(Extensions, len(e))
	for k, v := range e {
		out[k] = v
	}
	return out
}

// ModuleInfo identifies a WASM module by its (name, version, modtype) triple.
type ModuleInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	ModType string `json:"modtype"`
}

// Recognized ModuleInfo.ModType values: WASM modules are sandboxed by the
// executor; SERVICE modules are host-native symbols registered directly,
// never sandboxed.
const (
	ModuleTypeWASM    = "WASM"
	ModuleTypeService = "SERVICE"
	ModuleTypeUnknown = "UNKNOWN"
)

// Handle returns the canonical handle prefix for this module identity.
func (m ModuleInfo) Handle() string {
	return m.Name + "/" + m.Version + "/" + m.ModType
}

// Symbol names an exported function inside a resolved module.
type Symbol struct {
	ModuleInfo ModuleInfo `json:"module_info"`
	Name       string     `json:"name"`
}

// StorageSpec describes a Store operation payload. TTL of zero means
// "system-managed, effectively long-lived".
type StorageSpec struct {
	Handle     string     `json:"handle"`
	Data       []byte     `json:"data"`
	TTL        int64      `json:"ttl"`
	Extensions Extensions `json:"extensions"`
}

// JobSpec describes a Run request.
type JobSpec struct {
	Handle       string     `json:"handle"`
	Symbol       Symbol     `json:"symbol"`
	InputHandle  string     `json:"input_handle"`
	OutputHandle string     `json:"output_handle"`
	StatusHandle string     `json:"status_handle"`
	TTL          int64      `json:"ttl"`
	Extensions   Extensions `json:"extensions"`
}

// DeriveStatusHandle computes the deterministic status handle for a job
// handle when the caller did not supply one explicitly.
func DeriveStatusHandle(jobHandle string) string {
	return jobHandle + "/status"
}

// JobStatusKind enumerates the observable lifecycle states of a job.
type JobStatusKind int

const (
	StatusRunning JobStatusKind = iota
	StatusCompleted
	StatusAborted
	StatusExpired
)

func (k JobStatusKind) String() string {
	switch k {
	case StatusRunning:
		return "Running"
	case StatusCompleted:
		return "Completed"
	case StatusAborted:
		return "Aborted"
	case StatusExpired:
		return "ExpiredAt"
	default:
		return "Unknown"
	}
}

// JobStatus is the externally visible status of a job, published by the job
// controller against spec.StatusHandle.
type JobStatus struct {
	Kind       JobStatusKind `json:"status"`
	ExpiredAt  time.Time     `json:"expired_at,omitempty"`
	Extensions Extensions    `json:"extensions"`
}

// JobState is the internal, desired control-plane value driven via a
// channel into the job controller. It is distinct from JobStatus: JobState
// is what the controller should transition toward; JobStatus is what has
// actually been observed and published.
type JobState struct {
	Kind      JobStateKind
	ExpireAt  time.Time
}

type JobStateKind int

const (
	JobStateExpireAt JobStateKind = iota
	JobStateCompleted
	JobStateAborted
)

// JobCost is a vector of scalar cost dimensions. Only "compute" exists
// today but the type is built to support more.
type JobCost map[string]float64

// Add returns the sum of two cost vectors.
func (c JobCost) Add(other JobCost) JobCost {
	out := make(JobCost, len(c)+len(other))
	for k, v := range c {
		out[k] += v
	}
	for k, v := range other {
		out[k] += v
	}
	return out
}

// Sub returns c - other, dimension-wise.
func (c JobCost) Sub(other JobCost) JobCost {
	out := make(JobCost, len(c))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range other {
		out[k] -= v
	}
	return out
}

// LessEqual reports whether c <= other in every dimension present in either
// vector (missing dimensions are treated as zero).
func (c JobCost) LessEqual(other JobCost) bool {
	keys := make(map[string]struct{}, len(c)+len(other))
	for k := range c {
		keys[k] = struct{}{}
	}
	for k := range other {
		keys[k] = struct{}{}
	}
	for k := range keys {
		if c[k] > other[k] {
			return false
		}
	}
	return true
}

// ComputeOp names the request variant.
type ComputeOp int

const (
	OpStore ComputeOp = iota
	OpLoad
	OpPersist
	OpClear
	OpRun
	OpExtend
	OpStatus
	OpAbort
)

func (op ComputeOp) String() string {
	switch op {
	case OpStore:
		return "Store"
	case OpLoad:
		return "Load"
	case OpPersist:
		return "Persist"
	case OpClear:
		return "Clear"
	case OpRun:
		return "Run"
	case OpExtend:
		return "Extend"
	case OpStatus:
		return "Status"
	case OpAbort:
		return "Abort"
	default:
		return "Unknown"
	}
}

// ComputeInput is the tagged union flowing through the channel chain. Only
// the field matching Op is meaningful; the others are zero-valued.
type ComputeInput struct {
	Op ComputeOp

	Store StorageSpec
	Run   JobSpec

	// Handle-bearing variants (Load/Persist/Clear/Extend/Status/Abort)
	Handle     string
	TTL        int64
	Extensions Extensions
}

// Ext returns the Extensions bag for the op-appropriate field, since Store
// and Run keep their own nested Extensions while the handle-bearing variants
// keep a top-level one.
func (in *ComputeInput) Ext() Extensions {
	switch in.Op {
	case OpStore:
		return in.Store.Extensions
	case OpRun:
		return in.Run.Extensions
	default:
		return in.Extensions
	}
}

// SetExt replaces the op-appropriate Extensions bag.
func (in *ComputeInput) SetExt(ext Extensions) {
	switch in.Op {
	case OpStore:
		in.Store.Extensions = ext
	case OpRun:
		in.Run.Extensions = ext
	default:
		in.Extensions = ext
	}
}

// EffectiveHandle returns the handle the operation is keyed on, used by
// channels (namespacer, storage routers) that need a single rewrite target.
func (in *ComputeInput) EffectiveHandle() string {
	switch in.Op {
	case OpStore:
		return in.Store.Handle
	case OpRun:
		return in.Run.Handle
	default:
		return in.Handle
	}
}

// SetEffectiveHandle rewrites the operative handle in place.
func (in *ComputeInput) SetEffectiveHandle(h string) {
	switch in.Op {
	case OpStore:
		in.Store.Handle = h
	case OpRun:
		in.Run.Handle = h
	default:
		in.Handle = h
	}
}

// ComputeOutputKind names the response variant.
type ComputeOutputKind int

const (
	OutCompleted ComputeOutputKind = iota
	OutLoaded
	OutStatus
	OutSubmitted
)

// ComputeOutput is the tagged union returned from the channel chain.
type ComputeOutput struct {
	Kind   ComputeOutputKind
	Data   []byte
	Status JobStatus
}
