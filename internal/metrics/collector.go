// Package metrics exposes Prometheus instrumentation for the memory engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Collector records retrieval, reinforcement and maintenance metrics.
// A nil *Collector is valid and records nothing.
type Collector struct {
	retrievals        *prometheus.CounterVec
	retrievalDuration prometheus.Histogram
	retrievalResults  prometheus.Histogram
	indexFailures     *prometheus.CounterVec
	reinforcements    *prometheus.CounterVec
	decayed           prometheus.Counter
	archived          prometheus.Counter
	decayPasses       *prometheus.CounterVec
	decayDuration     prometheus.Histogram
	similarPairs      prometheus.Counter
	indexBacklog      prometheus.Gauge

	logger *zap.Logger
}

// NewCollector creates a collector and registers it with reg. A nil reg
// registers nothing, which keeps tests and one-shot CLI runs isolated.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.retrievals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrievals_total",
			Help:      "Total number of hybrid retrievals",
		},
		[]string{"mode"}, // hybrid, lexical, vector, empty
	)
	c.retrievalDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "retrieval_duration_seconds",
		Help:      "Hybrid retrieval duration in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	})
	c.retrievalResults = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "retrieval_results",
		Help:      "Number of results returned per retrieval",
		Buckets:   prometheus.LinearBuckets(0, 5, 11),
	})
	c.indexFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_failures_total",
			Help:      "Index query or write failures",
		},
		[]string{"index", "op"},
	)
	c.reinforcements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reinforcements_total",
			Help:      "Reinforcement calls by outcome",
		},
		[]string{"outcome"}, // applied, archived
	)
	c.decayed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "decayed_total",
		Help:      "Memories whose confidence was decayed",
	})
	c.archived = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "archived_total",
		Help:      "Memories archived by decay passes",
	})
	c.decayPasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decay_passes_total",
			Help:      "Decay passes by status",
		},
		[]string{"status"}, // ok, error, skipped
	)
	c.decayDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "decay_pass_duration_seconds",
		Help:      "Decay pass duration in seconds",
		Buckets:   prometheus.DefBuckets,
	})
	c.similarPairs = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "similar_pairs_total",
		Help:      "Near-duplicate pairs surfaced by consolidation scans",
	})
	c.indexBacklog = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "index_backlog",
		Help:      "Pending vector index writes awaiting reconciliation",
	})

	if reg != nil {
		reg.MustRegister(
			c.retrievals, c.retrievalDuration, c.retrievalResults, c.indexFailures,
			c.reinforcements, c.decayed, c.archived, c.decayPasses, c.decayDuration,
			c.similarPairs, c.indexBacklog,
		)
	}
	return c
}

// RecordRetrieval records one retrieval call.
func (c *Collector) RecordRetrieval(mode string, results int, d time.Duration) {
	if c == nil {
		return
	}
	c.retrievals.WithLabelValues(mode).Inc()
	c.retrievalResults.Observe(float64(results))
	c.retrievalDuration.Observe(d.Seconds())
}

// RecordIndexFailure records a failed index operation.
func (c *Collector) RecordIndexFailure(index, op string) {
	if c == nil {
		return
	}
	c.indexFailures.WithLabelValues(index, op).Inc()
}

// RecordReinforce records a reinforcement outcome.
func (c *Collector) RecordReinforce(applied bool) {
	if c == nil {
		return
	}
	outcome := "applied"
	if !applied {
		outcome = "archived"
	}
	c.reinforcements.WithLabelValues(outcome).Inc()
}

// RecordDecayPass records the outcome of one decay pass.
func (c *Collector) RecordDecayPass(status string, decayed, archived int64, d time.Duration) {
	if c == nil {
		return
	}
	c.decayPasses.WithLabelValues(status).Inc()
	c.decayed.Add(float64(decayed))
	c.archived.Add(float64(archived))
	c.decayDuration.Observe(d.Seconds())
	c.logger.Debug("decay pass recorded",
		zap.String("status", status),
		zap.Int64("decayed", decayed),
		zap.Int64("archived", archived))
}

// RecordSimilarPairs records pairs surfaced by a consolidation scan.
func (c *Collector) RecordSimilarPairs(n int) {
	if c == nil {
		return
	}
	c.similarPairs.Add(float64(n))
}

// SetIndexBacklog reports the current reconciliation backlog size.
func (c *Collector) SetIndexBacklog(n int) {
	if c == nil {
		return
	}
	c.indexBacklog.Set(float64(n))
}
