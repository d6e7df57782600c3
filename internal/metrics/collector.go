package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector collects and exposes metrics
type Collector struct {
	objectsTotal    *prometheus.CounterVec
	containersTotal *prometheus.CounterVec
	inflightWorkers prometheus.Gauge
	queueDepth      prometheus.Gauge
	duration        prometheus.Histogram
}

// New creates a new metrics collector
func New() *Collector {
	c := &Collector{
		objectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sweep_objects_total",
				Help: "Total number of object deletions processed",
			},
			[]string{"status"},
		),
		containersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sweep_containers_total",
				Help: "Total number of container deletions processed",
			},
			[]string{"status"},
		),
		inflightWorkers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sweep_inflight_workers",
				Help: "Number of workers currently running",
			},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sweep_queue_depth",
				Help: "Number of deletion tasks waiting in the queue",
			},
		),
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sweep_delete_duration_seconds",
				Help:    "Object delete call duration",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	prometheus.MustRegister(c.objectsTotal)
	prometheus.MustRegister(c.containersTotal)
	prometheus.MustRegister(c.inflightWorkers)
	prometheus.MustRegister(c.queueDepth)
	prometheus.MustRegister(c.duration)

	return c
}

// IncDeleted increments the deleted object counter
func (c *Collector) IncDeleted() {
	c.objectsTotal.WithLabelValues("deleted").Inc()
}

// IncFailed increments the failed object counter
func (c *Collector) IncFailed() {
	c.objectsTotal.WithLabelValues("failed").Inc()
}

// IncContainerDeleted increments the deleted container counter
func (c *Collector) IncContainerDeleted() {
	c.containersTotal.WithLabelValues("deleted").Inc()
}

// IncContainerFailed increments the failed container counter
func (c *Collector) IncContainerFailed() {
	c.containersTotal.WithLabelValues("failed").Inc()
}

// WorkerStarted increments the inflight worker gauge
func (c *Collector) WorkerStarted() {
	c.inflightWorkers.Inc()
}

// WorkerStopped decrements the inflight worker gauge
func (c *Collector) WorkerStopped() {
	c.inflightWorkers.Dec()
}

// SetQueueDepth sets the queue depth gauge
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// ObserveDeleteDuration observes one delete call duration
func (c *Collector) ObserveDeleteDuration(duration time.Duration) {
	c.duration.Observe(duration.Seconds())
}

// StartServer starts the metrics HTTP server
func (c *Collector) StartServer(addr string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(addr, nil)
}
