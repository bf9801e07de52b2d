// Package metrics exports sync events as Prometheus metrics. Each Metrics
// owns its registry, so several syncers in one process never collide.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/input-output-hk/catalyst-forge-libs/stagesync/stagetypes"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "stagesync"

// Metrics implements stagetypes.Observer.
type Metrics struct {
	registry *prometheus.Registry

	filesScanned   *prometheus.CounterVec
	bytesScanned   prometheus.Counter
	scanSkipped    *prometheus.CounterVec
	planned        *prometheus.CounterVec
	uploadAttempts prometheus.Counter
	uploads        *prometheus.CounterVec
	bytesUploaded  prometheus.Counter
	uploadDuration *prometheus.HistogramVec
	evicted        prometheus.Counter
}

var _ stagetypes.Observer = (*Metrics)(nil)

// Option configures New.
type Option func(*options)

type options struct {
	namespace      string
	registry       *prometheus.Registry
	processMetrics bool
}

// WithNamespace overrides DefaultNamespace.
func WithNamespace(ns string) Option {
	return func(o *options) {
		o.namespace = ns
	}
}

// WithRegistry registers the metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithProcessMetrics also registers the Go runtime and process collectors.
func WithProcessMetrics() Option {
	return func(o *options) {
		o.processMetrics = true
	}
}

// New creates Metrics on a fresh registry unless WithRegistry is given.
func New(opts ...Option) *Metrics {
	o := options{namespace: DefaultNamespace}
	for _, opt := range opts {
		opt(&o)
	}

	reg := o.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	if o.processMetrics {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		filesScanned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: o.namespace,
				Name:      "files_scanned_total",
				Help:      "Files classified for staging, by format",
			},
			[]string{"format"},
		),
		bytesScanned: factory.NewCounter(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "bytes_scanned_total",
			Help:      "Bytes fingerprinted while scanning",
		}),
		scanSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: o.namespace,
				Name:      "scan_skipped_total",
				Help:      "Paths the classifier did not yield, by reason",
			},
			[]string{"reason"},
		),
		planned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: o.namespace,
				Name:      "planned_total",
				Help:      "Plan entries by action",
			},
			[]string{"action"},
		),
		uploadAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "upload_attempts_total",
			Help:      "Upload attempts, retries included",
		}),
		uploads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: o.namespace,
				Name:      "uploads_total",
				Help:      "Finished uploads by terminal status",
			},
			[]string{"status"},
		),
		bytesUploaded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "bytes_uploaded_total",
			Help:      "Bytes staged successfully",
		}),
		uploadDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: o.namespace,
				Name:      "upload_duration_seconds",
				Help:      "Time from first attempt to terminal status",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),
		evicted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "evicted_total",
			Help:      "FAILED ledger records returned to PENDING",
		}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) FileScanned(format stagetypes.Format, size int64) {
	m.filesScanned.WithLabelValues(format.String()).Inc()
	m.bytesScanned.Add(float64(size))
}

func (m *Metrics) FileSkipped(reason string) {
	m.scanSkipped.WithLabelValues(reason).Inc()
}

func (m *Metrics) Planned(action stagetypes.Action) {
	m.planned.WithLabelValues(string(action)).Inc()
}

func (m *Metrics) UploadAttempt(int) {
	m.uploadAttempts.Inc()
}

func (m *Metrics) UploadFinished(status stagetypes.UploadStatus, bytes int64, d time.Duration) {
	label := string(status)
	if status == stagetypes.StatusInProgress {
		label = "ABORTED"
	}
	m.uploads.WithLabelValues(label).Inc()
	m.bytesUploaded.Add(float64(bytes))
	m.uploadDuration.WithLabelValues(label).Observe(d.Seconds())
}

func (m *Metrics) Evicted(n int) {
	m.evicted.Add(float64(n))
}
