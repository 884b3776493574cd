// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the indexer.
type Metrics struct {
	// Stream metrics
	BlocksReceived  prometheus.Counter
	SlotGapsTotal   prometheus.Counter
	RepairsTotal    *prometheus.CounterVec
	ReconnectsTotal prometheus.Counter
	HighestSlotSeen prometheus.Gauge

	// Parse metrics
	EventsParsed     *prometheus.CounterVec
	ParseErrors      *prometheus.CounterVec
	UnknownPrograms  prometheus.Counter
	WhitelistDropped prometheus.Counter

	// Commit metrics
	BatchesCommitted      prometheus.Counter
	EventsCommitted       *prometheus.CounterVec
	DuplicateEventsTotal  prometheus.Counter
	CommitRetriesTotal    prometheus.Counter
	CommitDuration        prometheus.Histogram
	CheckpointSlot        prometheus.Gauge
	NegativeBalancesTotal prometheus.Counter

	// State machine
	PipelineState *prometheus.GaugeVec

	// Fan-out metrics
	PublishErrors *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "indexer"
	}

	return &Metrics{
		// Stream metrics
		BlocksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "blocks_received_total",
			Help:      "Total number of blocks received from the stream",
		}),
		SlotGapsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "slot_gaps_total",
			Help:      "Total number of slot gaps detected",
		}),
		RepairsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "repairs_total",
			Help:      "Total number of gap repairs by outcome",
		}, []string{"outcome"}),
		ReconnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Total number of stream reconnects",
		}),
		HighestSlotSeen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "highest_slot_seen",
			Help:      "Highest Solana slot number seen",
		}),

		// Parse metrics
		EventsParsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "parse",
			Name:      "events_parsed_total",
			Help:      "Total number of events parsed by kind",
		}, []string{"kind"}),
		ParseErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "parse",
			Name:      "errors_total",
			Help:      "Total number of malformed instructions dropped by program",
		}, []string{"program"}),
		UnknownPrograms: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "parse",
			Name:      "unknown_programs_total",
			Help:      "Total number of instructions for untracked programs",
		}),
		WhitelistDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "parse",
			Name:      "whitelist_dropped_total",
			Help:      "Total number of events dropped by the mint whitelist",
		}),

		// Commit metrics
		BatchesCommitted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "batches_total",
			Help:      "Total number of batches committed",
		}),
		EventsCommitted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "events_total",
			Help:      "Total number of events committed by kind",
		}, []string{"kind"}),
		DuplicateEventsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "duplicate_events_total",
			Help:      "Total number of redelivered events dropped before commit",
		}),
		CommitRetriesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "retries_total",
			Help:      "Total number of commit retries",
		}),
		CommitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "duration_seconds",
			Help:      "Batch commit duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		CheckpointSlot: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "checkpoint_slot",
			Help:      "Last committed checkpoint slot",
		}),
		NegativeBalancesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "negative_balances_total",
			Help:      "Total number of balance applications that went negative",
		}),

		// State machine
		PipelineState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "state",
			Help:      "Current pipeline state (1 for active, 0 otherwise)",
		}, []string{"state"}),

		// Fan-out metrics
		PublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "eventbus",
			Name:      "publish_errors_total",
			Help:      "Total number of post-commit publish errors by sink",
		}, []string{"sink"}),
	}
}

// SetState marks one pipeline state active and the others inactive.
func (m *Metrics) SetState(state string) {
	for _, s := range []string{"backfilling", "live_tailing", "repairing"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		m.PipelineState.WithLabelValues(s).Set(v)
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
