// Prometheus collectors for the auth package. Registered on the default
// registry at init, so /metrics exposes them without further wiring.

package auth

import "github.com/prometheus/client_golang/prometheus"

// tokensTotal counts issued, refused and validated tokens. The result label
// is one of issued, denied, valid or invalid.
var tokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "auth_tokens_total",
		Help: "Admin token operations by result.",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(tokensTotal)
}
