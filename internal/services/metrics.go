package services

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	importRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xc_import_rows_total",
		Help: "Rows processed by the importer, by entity and outcome",
	}, []string{"entity", "outcome"})

	importDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "xc_import_duration_seconds",
		Help:    "Duration of import runs",
		Buckets: prometheus.DefBuckets,
	})

	scrapeJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xc_scrape_jobs_total",
		Help: "Scrape jobs finished, by outcome",
	}, []string{"outcome"})

	analysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "xc_anomaly_analysis_duration_seconds",
		Help:    "Duration of course anomaly analyses",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	flaggedCourses = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xc_anomaly_flagged_courses",
		Help: "Courses per suspicion level in the latest analysis",
	}, []string{"level"})

	ratingAdjustmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xc_rating_adjustments_total",
		Help: "Applied course rating adjustments",
	}, []string{"override"})
)
