package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	registry        *prom.Registry
	rebuildDuration *prom.HistogramVec
	rebuilds        *prom.CounterVec
	droppedFiles    *prom.CounterVec
	clients         prom.Gauge
	notifications   *prom.CounterVec
}

// NewPrometheusRecorder constructs and registers the metrics on reg; nil
// creates a fresh registry.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		registry: reg,
		rebuildDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: "assetpipe",
			Name:      "rebuild_duration_seconds",
			Help:      "Duration of clean plus pipeline runs per category",
			Buckets:   prom.DefBuckets,
		}, []string{"category"}),
		rebuilds: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "assetpipe",
			Name:      "rebuilds_total",
			Help:      "Category rebuilds by outcome",
		}, []string{"category", "outcome"}),
		droppedFiles: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "assetpipe",
			Name:      "dropped_files_total",
			Help:      "Source files dropped from a run after a compile error",
		}, []string{"category"}),
		clients: prom.NewGauge(prom.GaugeOpts{
			Namespace: "assetpipe",
			Name:      "livereload_clients",
			Help:      "Connected live-reload browser sessions",
		}),
		notifications: prom.NewCounterVec(prom.CounterOpts{
			Namespace: "assetpipe",
			Name:      "livereload_notifications_total",
			Help:      "Messages broadcast to browser sessions by type",
		}, []string{"type"}),
	}
	reg.MustRegister(pr.rebuildDuration, pr.rebuilds, pr.droppedFiles, pr.clients, pr.notifications)
	return pr
}

func (p *PrometheusRecorder) ObserveRebuild(category string, d time.Duration, outcome Outcome) {
	if p == nil || p.rebuilds == nil {
		return
	}
	p.rebuildDuration.WithLabelValues(category).Observe(d.Seconds())
	p.rebuilds.WithLabelValues(category, string(outcome)).Inc()
}

func (p *PrometheusRecorder) AddDroppedFiles(category string, n int) {
	if p == nil || p.droppedFiles == nil || n <= 0 {
		return
	}
	p.droppedFiles.WithLabelValues(category).Add(float64(n))
}

func (p *PrometheusRecorder) SetClients(n int) {
	if p == nil || p.clients == nil {
		return
	}
	p.clients.Set(float64(n))
}

func (p *PrometheusRecorder) IncNotifications(kind string) {
	if p == nil || p.notifications == nil {
		return
	}
	p.notifications.WithLabelValues(kind).Inc()
}

// Handler serves the recorder's registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	if p == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
