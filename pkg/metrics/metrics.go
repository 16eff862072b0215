// Package metrics exposes Prometheus instrumentation for jobs and workers.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles all collectors on a private registry. A nil *Metrics is
// valid and turns every method into a no-op, so tests can skip wiring it.
type Metrics struct {
	registry *prometheus.Registry

	chunksWritten *prometheus.CounterVec
	chunksRead    *prometheus.CounterVec
	bytesWritten  *prometheus.CounterVec
	bytesRead     *prometheus.CounterVec
	messagesIn    *prometheus.CounterVec
	messagesOut   *prometheus.CounterVec
	jobFailures   *prometheus.CounterVec
	jobsRunning   *prometheus.GaugeVec
}

// New creates a registry with all job collectors plus the standard Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry: reg,
		chunksWritten: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats3_chunks_written_total",
				Help: "Total number of chunks written to the object store",
			},
			[]string{"job_id", "kind"},
		),
		chunksRead: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats3_chunks_read_total",
				Help: "Total number of chunks read back from the object store",
			},
			[]string{"job_id", "kind"},
		),
		bytesWritten: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats3_bytes_written_total",
				Help: "Total compressed bytes written to the object store",
			},
			[]string{"job_id", "kind"},
		),
		bytesRead: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats3_bytes_read_total",
				Help: "Total compressed bytes read from the object store",
			},
			[]string{"job_id", "kind"},
		),
		messagesIn: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats3_messages_in_total",
				Help: "Total messages drained from the bus by store jobs",
			},
			[]string{"job_id", "kind"},
		),
		messagesOut: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats3_messages_out_total",
				Help: "Total messages published to the bus by load jobs",
			},
			[]string{"job_id", "kind"},
		),
		jobFailures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats3_job_failures_total",
				Help: "Total job failures by kind",
			},
			[]string{"job_id", "kind"},
		),
		jobsRunning: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nats3_jobs_running",
				Help: "Number of jobs currently running by kind",
			},
			[]string{"kind"},
		),
	}
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ChunkWritten records a flushed chunk.
func (m *Metrics) ChunkWritten(jobID, kind string, messages int, bytes int) {
	if m == nil {
		return
	}
	m.chunksWritten.WithLabelValues(jobID, kind).Inc()
	m.messagesIn.WithLabelValues(jobID, kind).Add(float64(messages))
	m.bytesWritten.WithLabelValues(jobID, kind).Add(float64(bytes))
}

// ChunkRead records a replayed chunk.
func (m *Metrics) ChunkRead(jobID, kind string, messages int, bytes int) {
	if m == nil {
		return
	}
	m.chunksRead.WithLabelValues(jobID, kind).Inc()
	m.messagesOut.WithLabelValues(jobID, kind).Add(float64(messages))
	m.bytesRead.WithLabelValues(jobID, kind).Add(float64(bytes))
}

// JobFailed records a job ending in Failure.
func (m *Metrics) JobFailed(jobID, kind string) {
	if m == nil {
		return
	}
	m.jobFailures.WithLabelValues(jobID, kind).Inc()
}

// JobStarted bumps the running gauge for kind.
func (m *Metrics) JobStarted(kind string) {
	if m == nil {
		return
	}
	m.jobsRunning.WithLabelValues(kind).Inc()
}

// JobStopped drops the running gauge for kind.
func (m *Metrics) JobStopped(kind string) {
	if m == nil {
		return
	}
	m.jobsRunning.WithLabelValues(kind).Dec()
}
