package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// jobsTotal counts finished jobs by final status.
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devistree_jobs_total",
		Help: "Extraction jobs by final status",
	}, []string{"status"})

	// chunkExtractions counts chunk extraction calls by result.
	chunkExtractions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "devistree_chunk_extractions_total",
		Help: "Chunk extraction calls by result",
	}, []string{"result"})

	// extractDuration tracks the wall time of one chunk extraction, retries included.
	extractDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "devistree_extract_duration_seconds",
		Help:    "Chunk extraction duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4min
	})

	// validationIssues tracks the number of price inconsistencies per quote.
	validationIssues = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "devistree_validation_issues",
		Help:    "Price inconsistencies found per extracted quote",
		Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
	})
)
