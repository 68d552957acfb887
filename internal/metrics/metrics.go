// Package metrics exposes Prometheus counters for the frame pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Manager owns the pipeline metrics. A nil *Manager is valid and records nothing.
type Manager struct {
	namespace string
	buckets   []float64
	registry  *prometheus.Registry

	framesRead      prometheus.Counter
	framesProcessed prometheus.Counter
	framesSkipped   prometheus.Counter
	facesDetected   prometheus.Counter
	embedErrors     prometheus.Counter
	stateUpdates    *prometheus.CounterVec
	embedLatency    prometheus.Histogram
	rankLatency     prometheus.Histogram
}

// NewManager creates a Manager with its own registry unless WithRegistry is given.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace: "facewatch",
		buckets:   prometheus.DefBuckets,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}

	auto := promauto.With(m.registry)
	counter := func(name, help string) prometheus.Counter {
		return auto.NewCounter(prometheus.CounterOpts{Namespace: m.namespace, Name: name, Help: help})
	}
	m.framesRead = counter("frames_read_total", "Frames pulled from the source")
	m.framesProcessed = counter("frames_processed_total", "Frames run through detection and ranking")
	m.framesSkipped = counter("frames_skipped_total", "Frames drawn with carried-forward matches")
	m.facesDetected = counter("faces_detected_total", "Faces found in processed frames")
	m.embedErrors = counter("embed_errors_total", "Frames the embedder failed on")
	m.stateUpdates = auto.NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace,
		Name:      "state_updates_total",
		Help:      "Top-match updates by outcome (accepted or stale)",
	}, []string{"outcome"})
	m.embedLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "embed_duration_seconds",
		Help:      "Time spent detecting and embedding faces per frame",
		Buckets:   m.buckets,
	})
	m.rankLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Name:      "rank_duration_seconds",
		Help:      "Time spent ranking one probe against the gallery",
		Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
	})
	return m
}

// Registry returns the registry holding the metrics.
func (m *Manager) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Manager) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Manager) FrameRead() {
	if m != nil {
		m.framesRead.Inc()
	}
}

func (m *Manager) FrameProcessed(faces int) {
	if m != nil {
		m.framesProcessed.Inc()
		m.facesDetected.Add(float64(faces))
	}
}

func (m *Manager) FrameSkipped() {
	if m != nil {
		m.framesSkipped.Inc()
	}
}

func (m *Manager) EmbedError() {
	if m != nil {
		m.embedErrors.Inc()
	}
}

// StateUpdate counts an accepted or dropped top-match write.
func (m *Manager) StateUpdate(accepted bool) {
	if m == nil {
		return
	}
	outcome := "stale"
	if accepted {
		outcome = "accepted"
	}
	m.stateUpdates.WithLabelValues(outcome).Inc()
}

func (m *Manager) ObserveEmbed(d time.Duration) {
	if m != nil {
		m.embedLatency.Observe(d.Seconds())
	}
}

func (m *Manager) ObserveRank(d time.Duration) {
	if m != nil {
		m.rankLatency.Observe(d.Seconds())
	}
}
