// Prometheus collectors shared across Engine/Transporter/Database,
// grounded on the pack's client_golang usage (cuemby-warren pkg/metrics).
// AtomicOperation's own counters live alongside its code in
// atomicoperation.go; this file holds the remaining engine-wide gauges.
package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	engineWritesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "engine_writes_total",
		Help: "Total Writes accepted by the Engine.",
	})
	engineBlockSyncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "engine_block_sync_duration_seconds",
		Help: "Duration of Database.triggerSync calls.",
	})
	bufferDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engine_buffer_depth",
		Help: "Number of Writes currently queued in the Engine's Buffer.",
	})
	engineCommitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "engine_commit_duration_seconds",
		Help: "Duration of AtomicOperation/Transaction Commit calls at the Engine root.",
	})
)

func init() {
	prometheus.MustRegister(engineWritesTotal, engineBlockSyncDuration, bufferDepth, engineCommitDuration)
}
