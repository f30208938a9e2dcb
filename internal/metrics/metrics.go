// Package metrics exposes Prometheus counters for ingestion and scoring.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline counters. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	PostsSeen        *prometheus.CounterVec
	PostsInserted    *prometheus.CounterVec
	SentimentScored  *prometheus.CounterVec
	SentimentUpdates prometheus.Counter
	SourceFetches    *prometheus.CounterVec
}

// New registers the counters on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PostsSeen: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptosent_posts_seen_total",
			Help: "Posts handed to the store for saving",
		}, []string{"backend"}),
		PostsInserted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptosent_posts_inserted_total",
			Help: "Posts newly inserted (duplicates excluded)",
		}, []string{"backend"}),
		SentimentScored: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptosent_sentiment_scored_total",
			Help: "Posts scored by the sentiment model",
		}, []string{"model"}),
		SentimentUpdates: factory.NewCounter(prometheus.CounterOpts{
			Name: "cryptosent_sentiment_updates_total",
			Help: "Sentiment scores written back to storage",
		}),
		SourceFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cryptosent_source_fetches_total",
			Help: "Source fetches by outcome",
		}, []string{"source", "outcome"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSave counts one Save call.
func (m *Metrics) RecordSave(backend string, seen, inserted int) {
	if m == nil {
		return
	}
	m.PostsSeen.WithLabelValues(backend).Add(float64(seen))
	m.PostsInserted.WithLabelValues(backend).Add(float64(inserted))
}

// RecordScored counts posts passed through a model.
func (m *Metrics) RecordScored(model string, n int) {
	if m == nil {
		return
	}
	m.SentimentScored.WithLabelValues(model).Add(float64(n))
}

// RecordUpdates counts sentiment scores written back.
func (m *Metrics) RecordUpdates(n int) {
	if m == nil {
		return
	}
	m.SentimentUpdates.Add(float64(n))
}

// RecordFetch counts one source fetch. Empty results are counted apart from
// non-empty ones since adapters swallow their errors.
func (m *Metrics) RecordFetch(source string, n int) {
	if m == nil {
		return
	}
	outcome := "ok"
	if n == 0 {
		outcome = "empty"
	}
	m.SourceFetches.WithLabelValues(source, outcome).Inc()
}
