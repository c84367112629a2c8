// Package metrics defines the Prometheus metrics exported by the server.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "coderelay"

// Collector holds all metrics on a private registry. A nil *Collector is
// valid and records nothing.
type Collector struct {
	Registry *prometheus.Registry

	SessionsActive    prometheus.Gauge
	SessionsTotal     prometheus.Counter
	ProcessesRunning  prometheus.Gauge
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	LaunchFailures    *prometheus.CounterVec
	ClassifiedEvents  *prometheus.CounterVec
	InputPrompts      *prometheus.CounterVec
	RateLimitHits     prometheus.Counter
}

// NewCollector creates and registers all metrics.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,

		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Sessions currently registered.",
		}),
		SessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "created_total",
			Help:      "Sessions created since start.",
		}),
		ProcessesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "processes_running",
			Help:      "Sandbox processes currently running.",
		}),
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "executions_total",
			Help:      "Finished executions by language and outcome.",
		}, []string{"language", "outcome"}),
		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "execution_duration_seconds",
			Help:      "Wall-clock time from launch to exit.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 300, 900},
		}, []string{"language"}),
		LaunchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "launch_failures_total",
			Help:      "Launches rejected or failed, by reason.",
		}, []string{"reason"}),
		ClassifiedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "events_total",
			Help:      "Classified output events by kind.",
		}, []string{"kind"}),
		InputPrompts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "classifier",
			Name:      "input_prompts_total",
			Help:      "Detected input prompts by language.",
		}, []string{"language"}),
		RateLimitHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limit_hits_total",
			Help:      "Requests rejected by the rate limiter.",
		}),
	}

	reg.MustRegister(
		c.SessionsActive,
		c.SessionsTotal,
		c.ProcessesRunning,
		c.ExecutionsTotal,
		c.ExecutionDuration,
		c.LaunchFailures,
		c.ClassifiedEvents,
		c.InputPrompts,
		c.RateLimitHits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{})
}

func (c *Collector) SessionOpened() {
	if c == nil {
		return
	}
	c.SessionsActive.Inc()
	c.SessionsTotal.Inc()
}

func (c *Collector) SessionClosed() {
	if c == nil {
		return
	}
	c.SessionsActive.Dec()
}

func (c *Collector) ProcessStarted() {
	if c == nil {
		return
	}
	c.ProcessesRunning.Inc()
}

// ProcessFinished records an exit. outcome is "ok", "error" or "killed".
func (c *Collector) ProcessFinished(language, outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.ProcessesRunning.Dec()
	c.ExecutionsTotal.WithLabelValues(language, outcome).Inc()
	c.ExecutionDuration.WithLabelValues(language).Observe(d.Seconds())
}

func (c *Collector) LaunchFailed(reason string) {
	if c == nil {
		return
	}
	c.LaunchFailures.WithLabelValues(reason).Inc()
}

func (c *Collector) Classified(kind string) {
	if c == nil {
		return
	}
	c.ClassifiedEvents.WithLabelValues(kind).Inc()
}

func (c *Collector) PromptDetected(language string) {
	if c == nil {
		return
	}
	c.InputPrompts.WithLabelValues(language).Inc()
}

func (c *Collector) RateLimited() {
	if c == nil {
		return
	}
	c.RateLimitHits.Inc()
}
