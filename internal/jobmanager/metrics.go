// Copyright 2025 James Ross
package jobmanager

import "github.com/prometheus/client_golang/prometheus"

var (
	jobRequestCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_manager_job_request_total",
		Help: "Total number of jobs submitted for admission, per instance.",
	}, []string{"instance_id"})

	jobQueuedComputeCost = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "job_manager_queued_compute_cost",
		Help:    "Compute cost of jobs accepted into the local admission ledger.",
		Buckets: prometheus.DefBuckets,
	}, []string{"instance_id"})

	jobAdmissionRateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "job_manager_admission_rate_limited_total",
		Help: "Total number of Run submissions rejected by the admission token bucket before the cost-budget check ran.",
	}, []string{"instance_id"})
)

func init() {
	prometheus.MustRegister(jobRequestCount, jobQueuedComputeCost, jobAdmissionRateLimited)
}
