package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// IngestMetrics records pipeline outcomes and latency.
type IngestMetrics struct {
	duration *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
	inFlight prometheus.Gauge
}

// NewIngestMetrics registers the ingest metrics on the provided registerer.
func NewIngestMetrics(reg prometheus.Registerer) *IngestMetrics {
	if reg == nil {
		return &IngestMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ingest_duration_seconds",
		Help:    "Duration of upload ingestion runs in seconds.",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"outcome"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingest_runs_total",
		Help: "Ingestion runs by terminal outcome and failing stage.",
	}, []string{"outcome", "stage"})
	inFlight := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "ingest_in_flight",
		Help: "Ingestion runs currently executing.",
	})
	reg.MustRegister(duration, outcomes, inFlight)
	return &IngestMetrics{duration: duration, outcomes: outcomes, inFlight: inFlight}
}

// Started marks a run as in flight.
func (m *IngestMetrics) Started() {
	if m == nil || m.inFlight == nil {
		return
	}
	m.inFlight.Inc()
}

// Finished records a terminal run. stage is the state the run failed in, or "" on success.
func (m *IngestMetrics) Finished(outcome, stage string, d time.Duration) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.inFlight.Dec()
	m.outcomes.WithLabelValues(normalizeLabel(outcome), stageLabel(stage)).Inc()
	m.duration.WithLabelValues(normalizeLabel(outcome)).Observe(d.Seconds())
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func stageLabel(v string) string {
	if v == "" {
		return "none"
	}
	return v
}
