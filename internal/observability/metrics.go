package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "plotherd"

// Admission outcomes used as the "outcome" label.
const (
	OutcomeStarted       = "started"
	OutcomeGlobalLimit   = "global_limit"
	OutcomeGlobalStagger = "global_stagger"
	OutcomeNoTmpDir      = "no_tmp_dir"
	OutcomeNoDstDir      = "no_dst_dir"
	OutcomeSpawnFailed   = "spawn_failed"
	OutcomeError         = "error"
)

// Metrics groups the supervisor's collectors.
type Metrics struct {
	Registry *prometheus.Registry

	admissions     *prometheus.CounterVec
	liveJobs       *prometheus.GaugeVec
	archiveMoves   *prometheus.CounterVec
	archiveBytes   prometheus.Counter
	archiveFails   prometheus.Counter
	archivePending prometheus.Gauge
	tickDuration   *prometheus.HistogramVec
}

// NewMetrics registers every collector on a fresh registry, along with the
// standard Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{Registry: reg}

	m.admissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "admission",
			Name:      "decisions_total",
			Help:      "Admission decisions by outcome",
		},
		[]string{"outcome"},
	)
	m.liveJobs = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs",
			Help:      "Live plot jobs by state",
		},
		[]string{"state"},
	)
	m.archiveMoves = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "archive",
			Name:      "transfers_total",
			Help:      "Plots archived, by transfer method",
		},
		[]string{"method"},
	)
	m.archiveBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "archive",
		Name:      "transferred_bytes_total",
		Help:      "Bytes moved to archive destinations",
	})
	m.archiveFails = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "archive",
		Name:      "failures_total",
		Help:      "Archive transfers that failed",
	})
	m.archivePending = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "archive",
		Name:      "pending_plots",
		Help:      "Finished plots waiting to be archived",
	})
	m.tickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of one polling iteration",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"loop"},
	)

	reg.MustRegister(
		m.admissions, m.liveJobs, m.archiveMoves, m.archiveBytes,
		m.archiveFails, m.archivePending, m.tickDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Admission counts one admission decision.
func (m *Metrics) Admission(outcome string) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(outcome).Inc()
}

// Jobs sets the live job gauges.
func (m *Metrics) Jobs(running, suspended int) {
	if m == nil {
		return
	}
	m.liveJobs.WithLabelValues("running").Set(float64(running))
	m.liveJobs.WithLabelValues("suspended").Set(float64(suspended))
}

// Archived counts one completed transfer.
func (m *Metrics) Archived(bytes int64, renamed bool) {
	if m == nil {
		return
	}
	method := "copy"
	if renamed {
		method = "rename"
	}
	m.archiveMoves.WithLabelValues(method).Inc()
	m.archiveBytes.Add(float64(bytes))
}

// ArchiveFailures adds n failed transfers.
func (m *Metrics) ArchiveFailures(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.archiveFails.Add(float64(n))
}

// ArchivePending sets the pending plot gauge.
func (m *Metrics) ArchivePending(n int) {
	if m == nil {
		return
	}
	m.archivePending.Set(float64(n))
}

// TickDuration records how long one loop iteration took.
func (m *Metrics) TickDuration(loop string, seconds float64) {
	if m == nil {
		return
	}
	m.tickDuration.WithLabelValues(loop).Observe(seconds)
}
