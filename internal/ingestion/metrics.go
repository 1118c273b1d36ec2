package ingestion

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the Prometheus metrics owned by the pipeline.
type metrics struct {
	// documents counts finished ingestions by outcome: "completed" or "failed".
	documents *prometheus.CounterVec

	// chunks counts chunks written to the index.
	chunks prometheus.Counter

	// duration records the wall-clock time of successful ingestions.
	duration prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)

	return &metrics{
		documents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "studyai",
			Subsystem: "ingestion",
			Name:      "documents_total",
			Help:      "Total number of document ingestions, partitioned by outcome.",
		}, []string{"outcome"}),

		chunks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "studyai",
			Subsystem: "ingestion",
			Name:      "chunks_total",
			Help:      "Total number of chunks embedded and written to the semantic index.",
		}),

		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "studyai",
			Subsystem: "ingestion",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of successful document ingestions.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}),
	}
}
