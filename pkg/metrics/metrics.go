package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "docstore", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "docstore", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	Operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "docstore", Name: "operations_total", Help: "Store operations by operation and result (ok, error, unconfigured)."},
		[]string{"operation", "result"},
	)
	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "docstore", Name: "operation_duration_seconds", Help: "Latency of store operations that reached the database.", Buckets: prometheus.DefBuckets},
		[]string{"operation"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(Operations)
	reg.MustRegister(OperationDuration)
}
