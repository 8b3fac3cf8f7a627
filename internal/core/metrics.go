package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	addLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "timechain",
		Subsystem: "service",
		Name:      "add_duration_seconds",
		Help:      "Latency of Add calls.",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	}, []string{"status"})

	patchToDateLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "timechain",
		Subsystem: "service",
		Name:      "patch_to_date_duration_seconds",
		Help:      "Latency of PatchToDate calls.",
		Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	}, []string{"status"})

	skippedSlices = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "timechain",
		Subsystem: "service",
		Name:      "skipped_slices_total",
		Help:      "Total slices whose patch failed and was absorbed by a skip policy.",
	})

	archiveUploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timechain",
		Subsystem: "service",
		Name:      "archive_uploads_total",
		Help:      "Total timeline snapshots written to the archive blob store, by outcome.",
	}, []string{"status"})

	archiveLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "timechain",
		Subsystem: "service",
		Name:      "archive_lookups_total",
		Help:      "Total lookups of the latest archived snapshot for a timeline, by outcome.",
	}, []string{"status"})
)

func recordAdd(durationSeconds float64, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	addLatency.WithLabelValues(status).Observe(durationSeconds)
}

func recordPatchToDate(durationSeconds float64, skipped int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	patchToDateLatency.WithLabelValues(status).Observe(durationSeconds)
	if skipped > 0 {
		skippedSlices.Add(float64(skipped))
	}
}

func recordArchiveUpload(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	archiveUploads.WithLabelValues(status).Inc()
}

func recordArchiveLookup(err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	archiveLookups.WithLabelValues(status).Inc()
}
