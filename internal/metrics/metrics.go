// Package metrics exposes Prometheus instrumentation for the ingestion and
// retrieval pipeline. All methods are safe on a nil receiver so components
// can run uninstrumented in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label values shared across counters.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeSkipped   = "skipped"
)

// Metrics holds the pipeline's Prometheus collectors.
type Metrics struct {
	pagesCrawled     *prometheus.CounterVec
	crawlJobs        *prometheus.CounterVec
	trainingJobs     *prometheus.CounterVec
	embeddingsStored prometheus.Counter
	queueAttempts    *prometheus.CounterVec
	retrievalMatches prometheus.Histogram
}

// New registers the pipeline collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		pagesCrawled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lorekeep_pages_crawled_total",
			Help: "Pages processed by the crawl engine, by outcome.",
		}, []string{"outcome"}),
		crawlJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lorekeep_crawl_jobs_total",
			Help: "Crawl jobs finished, by outcome.",
		}, []string{"outcome"}),
		trainingJobs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lorekeep_training_jobs_total",
			Help: "Training jobs processed, by source type and outcome.",
		}, []string{"source_type", "outcome"}),
		embeddingsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "lorekeep_embeddings_stored_total",
			Help: "Embedding vectors written to the vector store.",
		}),
		queueAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "lorekeep_queue_attempts_total",
			Help: "Job queue attempts, by queue and outcome.",
		}, []string{"queue", "outcome"}),
		retrievalMatches: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "lorekeep_retrieval_matches",
			Help:    "Context matches above the relevance floor per retrieval.",
			Buckets: prometheus.LinearBuckets(0, 1, 8),
		}),
	}
}

// ObservePage counts one processed page.
func (m *Metrics) ObservePage(outcome string) {
	if m == nil {
		return
	}
	m.pagesCrawled.WithLabelValues(outcome).Inc()
}

// ObserveCrawlJob counts one finished crawl job.
func (m *Metrics) ObserveCrawlJob(outcome string) {
	if m == nil {
		return
	}
	m.crawlJobs.WithLabelValues(outcome).Inc()
}

// ObserveTrainingJob counts one processed training job.
func (m *Metrics) ObserveTrainingJob(sourceType, outcome string) {
	if m == nil {
		return
	}
	m.trainingJobs.WithLabelValues(sourceType, outcome).Inc()
}

// AddEmbeddingsStored counts stored vectors.
func (m *Metrics) AddEmbeddingsStored(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.embeddingsStored.Add(float64(n))
}

// ObserveQueueAttempt counts one queue delivery attempt.
func (m *Metrics) ObserveQueueAttempt(queue, outcome string) {
	if m == nil {
		return
	}
	m.queueAttempts.WithLabelValues(queue, outcome).Inc()
}

// ObserveRetrieval records the number of contexts returned by a retrieval.
func (m *Metrics) ObserveRetrieval(matches int) {
	if m == nil {
		return
	}
	m.retrievalMatches.Observe(float64(matches))
}
