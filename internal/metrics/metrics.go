package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "unzipq"

var (
	ArchivesDiscoveredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archives_discovered_total",
			Help:      "Total number of candidate archives found in target directories.",
		},
	)

	ArchiveOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_outcomes_total",
			Help:      "Final per-archive outcomes, labeled completed, failed or skipped.",
		},
		[]string{"outcome"},
	)

	StepRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "step_retries_total",
			Help:      "Retry attempts per workflow step, counted when a wait is scheduled.",
		},
		[]string{"step"},
	)

	DriveRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "drive_requests_total",
			Help:      "Drive API round trips, labeled by operation and result class.",
		},
		[]string{"op", "result"},
	)

	ExtractWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "extract_wait_seconds",
			Help:      "Time from extraction submit to a terminal remote status (seconds).",
			Buckets:   []float64{1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	RunDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of whole batch runs (seconds).",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600, 7200},
		},
	)
)

func init() {
	prometheus.MustRegister(
		ArchivesDiscoveredTotal,
		ArchiveOutcomesTotal,
		StepRetriesTotal,
		DriveRequestsTotal,
		ExtractWaitSeconds,
		RunDurationSeconds,
	)
}
