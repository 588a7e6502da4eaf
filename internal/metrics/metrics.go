// Package metrics exposes Prometheus instruments for the analysis
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	AnalysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wildscope_analyses_total",
		Help: "Total number of analysis runs, by outcome",
	}, []string{"status"})

	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wildscope_analysis_stage_duration_seconds",
		Help:    "Duration of each analysis pipeline stage",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
	}, []string{"stage"})

	FramesExtractedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wildscope_frames_extracted_total",
		Help: "Total number of frames decoded from uploaded videos",
	})

	FramesAnalyzedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wildscope_frames_analyzed_total",
		Help: "Total number of sampled frames sent to the model",
	})

	AnalysisRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wildscope_analysis_retries_total",
		Help: "Total number of analysis calls retried after an empty model answer",
	})

	ActiveAnalyses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wildscope_active_analyses",
		Help: "Number of analysis calls currently in flight",
	})
)
