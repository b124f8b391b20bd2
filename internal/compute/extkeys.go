// Copyright 2025 James Ross
package compute

// Well-known Extensions keys, the wire contract between channels.
const (
	ExtNamespace            = "channel.namespace"
	ExtResolverPrefix        = "module.resolver.prefix"
	ExtJobOutputTTL          = "job.output.ttl"
	ExtJobStatusLastUpdated  = "job.status.last_updated"
	ExtSkipList              = "channel.skip_list"
	ExtSignature             = "channel.signature"
	ExtQueued                = "scheduler.compute_input.queued"
	ExtAlgorithm             = "scheduler.algorithm"

	// ExtStorageSelector carries the label chosen by the muxed storage
	// channel so the single downstream backend knows how the handle routed.
	ExtStorageSelector = "storage.selector.query"
	// ExtStorageRequestTimestamp is an informational request-time stamp.
	ExtStorageRequestTimestamp = "storage.request.timestamp"
	// ExtStorageExpiryTimestamp, if present, is an absolute expiry that
	// takes precedence over a relative TTL.
	ExtStorageExpiryTimestamp = "storage.expiry.timestamp"

	// ExtPolicyHandle names the extension key the enforcer reads to find
	// the policy blob to evaluate against (the key itself is configured
	// per-deployment; this is the default).
	ExtPolicyHandle = "channel.policy_handle"

	// ExtInterceptedBy is stamped by an InterceptorServer onto requests it
	// rewrites, naming the instance that handled the interception.
	ExtInterceptedBy = "channel.intercepted_by"
)

// Algorithm values recognized under ExtAlgorithm.
const (
	AlgorithmRandom   = "Random"
	AlgorithmQuickFit = "QuickFit"
)
