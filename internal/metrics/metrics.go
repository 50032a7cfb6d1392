// Package metrics provides the Prometheus metrics of the ingestion pipeline.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the pipeline counters.  A nil *Metrics is valid and records
// nothing, so collaborators can be built without a registry in tests.
type Metrics struct {
	RecordsCreated        *prometheus.CounterVec
	TranscriptionFailures *prometheus.CounterVec
	ExtractionFailures    *prometheus.CounterVec
	ParseFailures         *prometheus.CounterVec
	StorageFailures       *prometheus.CounterVec
	ExtractionDuration    *prometheus.HistogramVec
}

// New creates the pipeline metrics and registers them on registry.
func New(registry *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		RecordsCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carejournal_records_created_total",
				Help: "Records persisted by the ingestion pipeline, by kind.",
			},
			[]string{"kind"},
		),
		TranscriptionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carejournal_transcription_failures_total",
				Help: "Speech transcription attempts that produced no text, by reason.",
			},
			[]string{"reason"},
		),
		ExtractionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carejournal_extraction_failures_total",
				Help: "Structured extraction calls that failed outright, by kind.",
			},
			[]string{"kind"},
		),
		ParseFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carejournal_parse_failures_total",
				Help: "Extraction responses that were not a JSON object, by kind.",
			},
			[]string{"kind"},
		),
		StorageFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "carejournal_storage_failures_total",
				Help: "Requests that failed because the store failed, by pipeline stage.",
			},
			[]string{"stage"},
		),
		ExtractionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "carejournal_extraction_duration_seconds",
				Help:    "Latency of structured extraction calls.",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
			},
			[]string{"kind"},
		),
	}
	for _, c := range []prometheus.Collector{
		m.RecordsCreated, m.TranscriptionFailures, m.ExtractionFailures,
		m.ParseFailures, m.StorageFailures, m.ExtractionDuration,
	} {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register pipeline metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) RecordCreated(kind string) {
	if m == nil {
		return
	}
	m.RecordsCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) TranscriptionFailed(reason string) {
	if m == nil {
		return
	}
	m.TranscriptionFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ExtractionFailed(kind string) {
	if m == nil {
		return
	}
	m.ExtractionFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) ParseFailed(kind string) {
	if m == nil {
		return
	}
	m.ParseFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) StorageFailed(stage string) {
	if m == nil {
		return
	}
	m.StorageFailures.WithLabelValues(stage).Inc()
}

func (m *Metrics) ObserveExtraction(kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.ExtractionDuration.WithLabelValues(kind).Observe(d.Seconds())
}
