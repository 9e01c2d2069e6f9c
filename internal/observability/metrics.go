// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the runtime.
type Metrics struct {
	// Evaluation metrics
	PassesEvaluated   *prometheus.CounterVec
	PointsCommitted   prometheus.Counter
	ProvisionalPasses prometheus.Counter
	Rollbacks         prometheus.Counter
	PassLatency       prometheus.Histogram

	// Calibration and capacity metrics
	CalibrationRestarts prometheus.Counter
	ReplayRestarts      prometheus.Counter
	BufferCapacity      *prometheus.GaugeVec
	Diagnostics         *prometheus.CounterVec

	// Run cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	// Feed metrics
	PointsReceived    *prometheus.CounterVec
	FeedReconnects    prometheus.Counter
	HighestIndexSeen  prometheus.Gauge
	OpenProvisionalAt prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "barlab"
	}

	return &Metrics{
		// Evaluation metrics
		PassesEvaluated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "passes_evaluated_total",
			Help:      "Total number of evaluator passes by kind (provisional/finalizing)",
		}, []string{"kind"}),
		PointsCommitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "points_committed_total",
			Help:      "Total number of finalized time points committed",
		}),
		ProvisionalPasses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "provisional_passes_total",
			Help:      "Total number of uncommitted passes over provisional time points",
		}),
		Rollbacks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "rollbacks_total",
			Help:      "Total number of pass frames discarded before re-evaluation",
		}),
		PassLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "pass_latency_seconds",
			Help:      "Evaluator pass duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Calibration and capacity metrics
		CalibrationRestarts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calibration",
			Name:      "restarts_total",
			Help:      "Total number of calibration attempts restarted to widen buffers",
		}),
		ReplayRestarts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "replay_restarts_total",
			Help:      "Total number of full replays restarted after a capacity overflow",
		}),
		BufferCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "buffer_capacity",
			Help:      "Effective history buffer capacity by expression",
		}, []string{"expr"}),
		Diagnostics: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "diagnostics_total",
			Help:      "Total number of warn-and-proceed diagnostics by kind",
		}, []string{"kind"}),

		// Run cache metrics
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runcache",
			Name:      "hits_total",
			Help:      "Total number of runs attached to a cached commit log",
		}),
		CacheMisses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runcache",
			Name:      "misses_total",
			Help:      "Total number of runs replayed from scratch",
		}),

		// Feed metrics
		PointsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "points_received_total",
			Help:      "Total number of time point deliveries by state (provisional/finalized)",
		}, []string{"state"}),
		FeedReconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total number of feed reconnect attempts",
		}),
		HighestIndexSeen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "highest_index_seen",
			Help:      "Highest time point index seen",
		}),
		OpenProvisionalAt: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "open_provisional_index",
			Help:      "Index of the currently open provisional time point, -1 when none",
		}),
	}
}

// Handler returns HTTP handler for /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
