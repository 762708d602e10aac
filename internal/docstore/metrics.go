// Prometheus collectors for document creation. Conflicts and retries on the
// (partition key, id) uniqueness show up here.

package docstore

import "github.com/prometheus/client_golang/prometheus"

var (
	// createTotal counts CreateItem calls by container and final outcome.
	createTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docstore_create_total",
			Help: "Document creations by container and outcome.",
		},
		[]string{"container", "outcome"},
	)

	// createAttempts records how many attempts a CreateItem call needed.
	createAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docstore_create_attempts",
			Help:    "Attempts per document creation.",
			Buckets: []float64{1, 2, 3, 5, 8},
		},
		[]string{"container"},
	)
)

func init() {
	prometheus.MustRegister(createTotal, createAttempts)
}
