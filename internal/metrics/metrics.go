// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Classification outcomes.
const (
	OutcomeFound    = "found"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// Metrics groups every collector. All methods are safe on a nil receiver so
// components built without metrics need no special casing.
type Metrics struct {
	registry *prometheus.Registry

	Classifications   *prometheus.CounterVec
	ClassifyDuration  prometheus.Histogram
	ChunksPerDocument prometheus.Histogram
	WinningScore      prometheus.Histogram
	EmbeddingDuration prometheus.Histogram
	EmbeddedTexts     prometheus.Counter
	IndexVectors      prometheus.Gauge
	Rebuilds          *prometheus.CounterVec
	BuildDocuments    *prometheus.CounterVec
}

// New registers the collectors on a fresh registry together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		Classifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lexclass_classifications_total",
			Help: "Classification requests by outcome.",
		}, []string{"outcome"}),
		ClassifyDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "lexclass_classify_duration_seconds",
			Help:    "Time from extracted text to ranked result.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		ChunksPerDocument: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "lexclass_chunks_per_document",
			Help:    "Chunks produced per classified document.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		WinningScore: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "lexclass_winning_vote_score",
			Help:    "Accumulated vote score of the top category.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		EmbeddingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "lexclass_embedding_duration_seconds",
			Help:    "Latency of one embedding batch.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}),
		EmbeddedTexts: f.NewCounter(prometheus.CounterOpts{
			Name: "lexclass_embedded_texts_total",
			Help: "Texts sent to the embedder.",
		}),
		IndexVectors: f.NewGauge(prometheus.GaugeOpts{
			Name: "lexclass_index_vectors",
			Help: "Vectors in the active index.",
		}),
		Rebuilds: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lexclass_index_rebuilds_total",
			Help: "Index rebuild jobs by final status.",
		}, []string{"status"}),
		BuildDocuments: f.NewCounterVec(prometheus.CounterOpts{
			Name: "lexclass_build_documents_total",
			Help: "Corpus documents seen by the index builder, by result.",
		}, []string{"result"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveClassification(outcome string, d time.Duration, chunks int, top float64) {
	if m == nil {
		return
	}
	m.Classifications.WithLabelValues(outcome).Inc()
	if outcome == OutcomeError {
		return
	}
	m.ClassifyDuration.Observe(d.Seconds())
	m.ChunksPerDocument.Observe(float64(chunks))
	if outcome == OutcomeFound {
		m.WinningScore.Observe(top)
	}
}

func (m *Metrics) ObserveEmbedding(d time.Duration, texts int) {
	if m == nil {
		return
	}
	m.EmbeddingDuration.Observe(d.Seconds())
	m.EmbeddedTexts.Add(float64(texts))
}

func (m *Metrics) SetIndexSize(n int) {
	if m == nil {
		return
	}
	m.IndexVectors.Set(float64(n))
}

func (m *Metrics) ObserveRebuild(status string) {
	if m == nil {
		return
	}
	m.Rebuilds.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveBuildDocument(result string) {
	if m == nil {
		return
	}
	m.BuildDocuments.WithLabelValues(result).Inc()
}
