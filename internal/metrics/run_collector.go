package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// RunSnapshot is a point-in-time view of the batch currently executing.
type RunSnapshot struct {
	Discovered int
	Pending    int
	Running    int
	Completed  int
	Failed     int
}

// runCollector exposes the live state of a batch run as gauges. The snapshot
// function is supplied by the orchestrator; a nil return means no run is
// active and nothing is emitted.
type runCollector struct {
	snapshot func() *RunSnapshot

	archivesDesc *prometheus.Desc
}

func newRunCollector(snapshot func() *RunSnapshot) *runCollector {
	return &runCollector{
		snapshot: snapshot,
		archivesDesc: prometheus.NewDesc(
			"unzipq_run_archives",
			"Archives in the active run by workflow state.",
			[]string{"state"},
			nil,
		),
	}
}

func (c *runCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.archivesDesc
}

func (c *runCollector) Collect(ch chan<- prometheus.Metric) {
	if c.snapshot == nil {
		return
	}
	snap := c.snapshot()
	if snap == nil {
		return
	}
	emitGauge(ch, c.archivesDesc, float64(snap.Discovered), "discovered")
	emitGauge(ch, c.archivesDesc, float64(snap.Pending), "pending")
	emitGauge(ch, c.archivesDesc, float64(snap.Running), "running")
	emitGauge(ch, c.archivesDesc, float64(snap.Completed), "completed")
	emitGauge(ch, c.archivesDesc, float64(snap.Failed), "failed")
}

func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}

var registerRunCollectorOnce sync.Once

// RegisterRunCollector wires the orchestrator's snapshot into the default
// prometheus registry. Safe to call more than once; only the first snapshot
// function wins.
func RegisterRunCollector(snapshot func() *RunSnapshot) {
	registerRunCollectorOnce.Do(func() {
		prometheus.MustRegister(newRunCollector(snapshot))
	})
}
