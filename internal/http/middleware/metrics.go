// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exposes Prometheus instrumentation for HTTP traffic. Labels:
//
//   - surface: the route group a request belongs to (bot, pa, api, ...);
//     "other" when no configured prefix matches
//   - method:  HTTP method
//   - route:   the registered Gin pattern, or "unmatched" for 404s
//   - status:  numeric status code as a string
//
// Raw paths are never used as label values since they embed notification ids.
package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Surface names a group of routes sharing a path prefix, such as the bot
// endpoint or the Power Automate endpoints.
type Surface struct {
	Name   string // label value
	Prefix string // matched on a path segment boundary
}

// fallback label values
const (
	surfaceOther   = "other"
	routeUnmatched = "unmatched"
)

var (
	// httpReqs counts requests by surface, method, route and status.
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notifybot",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by surface, route pattern and status.",
		},
		[]string{"surface", "method", "route", "status"},
	)

	// httpLat omits status to keep the histogram small.
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "notifybot",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency. Bot turns include the outbound connector calls.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		},
		[]string{"surface", "method", "route"},
	)

	// httpInflight is per surface only.
	httpInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "notifybot",
			Subsystem: "http",
			Name:      "requests_inflight",
			Help:      "In-flight HTTP requests by surface.",
		},
		[]string{"surface"},
	)

	// httpReplays counts responses served from an idempotency record.
	httpReplays = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "notifybot",
			Subsystem: "http",
			Name:      "idempotent_replays_total",
			Help:      "Requests answered from an idempotency record instead of being re-sent.",
		},
		[]string{"route"},
	)
)

// Registered on the default registry served at /metrics.
func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpReplays)
}

// Metrics records request counts, latency, in-flight requests and idempotent
// replays. Each request is attributed to the surface with the longest
// matching prefix; routes are labelled by pattern so notification ids never
// become label values.
func Metrics(surfaces ...Surface) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		surface := surfaceOf(surfaces, c.Request.URL.Path)
		inflight := httpInflight.WithLabelValues(surface)
		inflight.Inc()
		defer inflight.Dec()

		c.Next()

		// the route is known only after routing
		route := c.FullPath()
		if route == "" {
			route = routeUnmatched
		}
		method := c.Request.Method
		httpReqs.WithLabelValues(surface, method, route, strconv.Itoa(c.Writer.Status())).Inc()
		httpLat.WithLabelValues(surface, method, route).Observe(time.Since(start).Seconds())
		if IsReplay(c) {
			httpReplays.WithLabelValues(route).Inc()
		}
	}
}

// surfaceOf picks the surface with the longest prefix matching path on a
// segment boundary, so "/api" does not claim "/apidocs".
func surfaceOf(surfaces []Surface, path string) string {
	best, bestLen := surfaceOther, -1
	for _, s := range surfaces {
		if s.Prefix == "" || !strings.HasPrefix(path, s.Prefix) {
			continue
		}
		if rest := path[len(s.Prefix):]; rest != "" && rest[0] != '/' && !strings.HasSuffix(s.Prefix, "/") {
			continue
		}
		if len(s.Prefix) > bestLen {
			best, bestLen = s.Name, len(s.Prefix)
		}
	}
	return best
}
