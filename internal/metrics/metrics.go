// Package metrics exposes the service's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CompilationsTotal counts finished compile jobs by result.
	CompilationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "setzkasten_compilations_total",
		Help: "Finished compilation jobs by result.",
	}, []string{"result"})

	// CompileDuration observes wall-clock time of the full render pipeline.
	CompileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "setzkasten_compile_duration_seconds",
		Help:    "Duration of the render pipeline including all compiler passes.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	// SessionsLive tracks live sessions per status, refreshed by the status
	// endpoint pass.
	SessionsLive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "setzkasten_sessions_live",
		Help: "Live sessions held by this instance, by status.",
	}, []string{"status"})

	// SessionsSwept counts sessions reclaimed by the expiry sweep.
	SessionsSwept = promauto.NewCounter(prometheus.CounterOpts{
		Name: "setzkasten_sessions_swept_total",
		Help: "Sessions deleted by the expiry sweeper.",
	})
)

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
