// Package metrics holds the prometheus instruments of the lock profiler.
//
// Instruments are registered on the default registry at init through
// promauto. Embedding programs expose them with promhttp like any other
// collector; lockprof itself never starts an HTTP server.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Flush results.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	// AccessesRecorded counts critical sections closed by a Recorder.
	AccessesRecorded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lockprof_accesses_recorded_total",
		Help: "Total critical sections recorded",
	})

	// UnmatchedReleases counts releases without a recorded acquisition.
	UnmatchedReleases = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lockprof_unmatched_releases_total",
		Help: "Total lock releases with no matching acquisition",
	})

	// Flushes counts event log flushes by result.
	Flushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lockprof_flushes_total",
		Help: "Total event log flushes by result",
	}, []string{"result"})

	// FlushedRecords counts records appended to event logs.
	FlushedRecords = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lockprof_flushed_records_total",
		Help: "Total access records written to event logs",
	})

	// BuildDuration tracks report construction latency.
	BuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lockprof_report_build_duration_seconds",
		Help:    "Report build duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~800ms
	})

	// ReportSize tracks the number of records per built report.
	ReportSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "lockprof_report_records",
		Help:    "Number of access records per built report",
		Buckets: []float64{10, 100, 1000, 10000, 100000, 1000000},
	})
)

// ObserveBuild records one report construction.
func ObserveBuild(elapsed time.Duration, records int) {
	BuildDuration.Observe(elapsed.Seconds())
	ReportSize.Observe(float64(records))
}

// ObserveFlush records one flush attempt that wrote n records.
func ObserveFlush(n int, err error) {
	if err != nil {
		Flushes.WithLabelValues(ResultError).Inc()
		return
	}
	Flushes.WithLabelValues(ResultOK).Inc()
	FlushedRecords.Add(float64(n))
}
