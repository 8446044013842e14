// Package metrics exposes Prometheus collectors for batches, devices and
// frames. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "recsync"

// Metrics holds the agent's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	batchesTotal   *prometheus.CounterVec
	batchDuration  prometheus.Histogram
	devicesTotal   *prometheus.CounterVec
	deviceDuration prometheus.Histogram
	framesTotal    *prometheus.CounterVec
	runnerPaused   prometheus.Gauge
	queueDepth     prometheus.Gauge
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		batchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Finished alignment batches by final status.",
		}, []string{"status"}),
		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Wall time of a full alignment batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		devicesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "devices_total",
			Help:      "Device compositions by result.",
		}, []string{"result"}),
		deviceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "device_duration_seconds",
			Help:      "Wall time of one device composition.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
		framesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_written_total",
			Help:      "Frames written to output videos by kind.",
		}, []string{"kind"}),
		runnerPaused: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runner_paused",
			Help:      "1 while the batch runner is paused.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_batches",
			Help:      "Batches waiting to run.",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveBatch(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues(status).Inc()
	m.batchDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveDevice(ok bool, copied, synthesized int, d time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.devicesTotal.WithLabelValues(result).Inc()
	m.deviceDuration.Observe(d.Seconds())
	m.framesTotal.WithLabelValues("copied").Add(float64(copied))
	m.framesTotal.WithLabelValues("synthesized").Add(float64(synthesized))
}

func (m *Metrics) SetPaused(paused bool) {
	if m == nil {
		return
	}
	if paused {
		m.runnerPaused.Set(1)
	} else {
		m.runnerPaused.Set(0)
	}
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
