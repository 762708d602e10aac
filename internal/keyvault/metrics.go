// Prometheus collectors for key service calls.

package keyvault

import "github.com/prometheus/client_golang/prometheus"

var (
	// callDuration is labelled by the AWS operation name and by "ok" or the
	// error kind the call was classified as.
	callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keyvault_call_duration_seconds",
			Help:    "Latency of key service calls by operation and result.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op", "result"},
	)
	inflight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "keyvault_inflight",
		Help: "Key service calls currently in flight.",
	})
)

func init() {
	prometheus.MustRegister(callDuration, inflight)
}
