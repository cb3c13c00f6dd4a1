// Package metrics exposes the agent's own runtime state as Prometheus
// series on GET /metrics, mirroring etalazz-vsa's
// internal/ratelimiter/telemetry/churn pattern: a handful of package-level
// collectors registered once, updated from the components that own the
// numbers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edge_agent_ingest_queue_depth",
		Help: "Number of IngestItems currently buffered on the ingest queue.",
	})

	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "edge_agent_stage_calls_in_flight",
		Help: "Number of outstanding stage calls (estimate/detect/fine/remote).",
	})

	StageEWMAMillis = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "edge_agent_stage_ewma_ms",
		Help: "Exponentially-weighted moving average duration per stage, in milliseconds.",
	}, []string{"stage"})

	FineOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "edge_agent_fine_outcomes_total",
		Help: "Fine-stage dispatch outcomes, partitioned by placement and result.",
	}, []string{"placement", "result"})

	UploadBatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edge_agent_upload_batches_total",
		Help: "Batches successfully shipped to the collector.",
	})

	UploadFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "edge_agent_upload_failures_total",
		Help: "Batch upload attempts that the collector rejected or that failed in transit.",
	})
)
