// Copyright 2025 James Ross
package obs

import "github.com/prometheus/client_golang/prometheus"

var (
	ChainRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "channel_chain_requests_total",
		Help: "Total number of requests entering the channel chain, by op.",
	}, []string{"op"})

	ChainErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "channel_chain_errors_total",
		Help: "Total number of requests that returned an error from the channel chain, by op.",
	}, []string{"op"})

	ChainRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "channel_chain_request_duration_seconds",
		Help:    "Time spent computing a request through the full channel chain.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(ChainRequestsTotal, ChainErrorsTotal, ChainRequestDuration)
}
