// Package promsink wires metrics.Sink to github.com/prometheus/client_golang,
// the reference adapter kept outside the core's own dependency graph so
// the core module never forces a Prometheus dependency on callers who
// don't want one.
package promsink

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/liliang-cn/vectra/metrics"
)

// Sink implements metrics.Sink against a Prometheus registry, using the
// vectorizer_* namespace.
type Sink struct {
	collections    prometheus.Gauge
	vectors        *prometheus.GaugeVec
	searchDuration *prometheus.HistogramVec
	insertDuration *prometheus.HistogramVec
	memoryUsage    *prometheus.GaugeVec
}

// New registers every metric against reg and returns a Sink that reports
// to them.
func New(reg prometheus.Registerer) *Sink {
	s := &Sink{
		collections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vectorizer_collections_total",
			Help: "Number of collections currently registered.",
		}),
		vectors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vectorizer_vectors_total",
			Help: "Number of vectors stored per collection.",
		}, []string{"collection"}),
		searchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vectorizer_search_duration_seconds",
			Help:    "Search latency per collection.",
			Buckets: prometheus.DefBuckets,
		}, []string{"collection"}),
		insertDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vectorizer_insert_duration_seconds",
			Help:    "Insert latency per collection.",
			Buckets: prometheus.DefBuckets,
		}, []string{"collection"}),
		memoryUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vectorizer_memory_usage_bytes",
			Help: "Resident memory estimate per collection.",
		}, []string{"collection"}),
	}
	reg.MustRegister(s.collections, s.vectors, s.searchDuration, s.insertDuration, s.memoryUsage)
	return s
}

func (s *Sink) IncCollections(delta int) { s.collections.Add(float64(delta)) }

func (s *Sink) SetVectorCount(collection string, count int) {
	s.vectors.WithLabelValues(collection).Set(float64(count))
}

func (s *Sink) ObserveSearchDuration(collection string, d time.Duration) {
	s.searchDuration.WithLabelValues(collection).Observe(d.Seconds())
}

func (s *Sink) ObserveInsertDuration(collection string, d time.Duration) {
	s.insertDuration.WithLabelValues(collection).Observe(d.Seconds())
}

func (s *Sink) SetMemoryUsage(collection string, bytes int64) {
	s.memoryUsage.WithLabelValues(collection).Set(float64(bytes))
}

var _ metrics.Sink = (*Sink)(nil)
