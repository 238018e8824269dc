package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus implements Recorder on a private registry.
type Prometheus struct {
	registry *prom.Registry

	buildsStarted  *prom.CounterVec
	buildsFinished *prom.CounterVec
	buildDuration  *prom.HistogramVec
	stageDuration  *prom.HistogramVec
	queueDepth     prom.Gauge
	busyWorkers    prom.Gauge
	sweepDuration  prom.Histogram
	sweepEnqueues  prom.Counter
}

// NewPrometheus constructs and registers the daemon's metrics.
func NewPrometheus() *Prometheus {
	p := &Prometheus{registry: prom.NewRegistry()}
	p.buildsStarted = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "docfleet",
		Name:      "builds_started_total",
		Help:      "Builds dispatched to a worker, by trigger",
	}, []string{"trigger"})
	p.buildsFinished = prom.NewCounterVec(prom.CounterOpts{
		Namespace: "docfleet",
		Name:      "builds_finished_total",
		Help:      "Builds reaching a terminal state, by outcome",
	}, []string{"outcome"})
	p.buildDuration = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: "docfleet",
		Name:      "build_duration_seconds",
		Help:      "End-to-end build duration",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"outcome"})
	p.stageDuration = prom.NewHistogramVec(prom.HistogramOpts{
		Namespace: "docfleet",
		Name:      "stage_duration_seconds",
		Help:      "Duration of individual pipeline stages",
		Buckets:   prom.DefBuckets,
	}, []string{"stage"})
	p.queueDepth = prom.NewGauge(prom.GaugeOpts{
		Namespace: "docfleet",
		Name:      "queue_depth",
		Help:      "Builds currently queued",
	})
	p.busyWorkers = prom.NewGauge(prom.GaugeOpts{
		Namespace: "docfleet",
		Name:      "busy_workers",
		Help:      "Workers currently executing a build",
	})
	p.sweepDuration = prom.NewHistogram(prom.HistogramOpts{
		Namespace: "docfleet",
		Name:      "monitor_sweep_duration_seconds",
		Help:      "Duration of auto-build monitor sweeps",
		Buckets:   prom.DefBuckets,
	})
	p.sweepEnqueues = prom.NewCounter(prom.CounterOpts{
		Namespace: "docfleet",
		Name:      "monitor_enqueues_total",
		Help:      "Builds enqueued by the auto-build monitor",
	})
	p.registry.MustRegister(p.buildsStarted, p.buildsFinished, p.buildDuration,
		p.stageDuration, p.queueDepth, p.busyWorkers, p.sweepDuration, p.sweepEnqueues)
	return p
}

// Handler serves the registry for the HTTP /metrics endpoint.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

func (p *Prometheus) BuildStarted(trigger string) {
	p.buildsStarted.WithLabelValues(trigger).Inc()
}

func (p *Prometheus) BuildFinished(outcome string, d time.Duration) {
	p.buildsFinished.WithLabelValues(outcome).Inc()
	p.buildDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (p *Prometheus) ObserveStageDuration(stage string, d time.Duration) {
	p.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (p *Prometheus) SetQueueDepth(n int)  { p.queueDepth.Set(float64(n)) }
func (p *Prometheus) SetBusyWorkers(n int) { p.busyWorkers.Set(float64(n)) }

func (p *Prometheus) ObserveMonitorSweep(d time.Duration) {
	p.sweepDuration.Observe(d.Seconds())
}

func (p *Prometheus) IncMonitorEnqueue() { p.sweepEnqueues.Inc() }
