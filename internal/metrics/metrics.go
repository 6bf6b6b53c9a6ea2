// Package metrics defines the service's Prometheus collectors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RPCErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fetchd",
			Name:      "aria2_rpc_errors_total",
			Help:      "Errors from aria2 JSON-RPC calls.",
		},
		[]string{"method"},
	)

	RPCLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fetchd",
			Name:      "aria2_rpc_latency_seconds",
			Help:      "Latency of aria2 JSON-RPC calls.",
		},
		[]string{"method"},
	)

	EngineRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fetchd",
			Name:      "engine_restarts_total",
			Help:      "Engine restarts initiated by the health monitor.",
		},
	)

	ActiveTasks = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fetchd",
			Name:      "active_tasks",
			Help:      "Number of tasks bound by the download facade.",
		},
	)

	DownloadEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fetchd",
			Name:      "download_events_total",
			Help:      "Count of download events processed by the reconciler.",
		},
		[]string{"type"},
	)
)

// Register registers the fetchd metrics into the default registry.
func Register() {
	prometheus.MustRegister(RPCErrors, RPCLatency, EngineRestarts, ActiveTasks, DownloadEvents)
}
