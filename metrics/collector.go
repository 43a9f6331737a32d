// Package metrics exports node activity as Prometheus metrics.
//
// A Collector implements the metrics interfaces of the node, server and
// replication packages, so a single instance can be passed to
// redislite.WithMetrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "redislite"

// Collector records node activity in Prometheus metrics
type Collector struct {
	commands        *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	networkBytes    prometheus.Counter
	handshake       prometheus.Histogram
	replicas        prometheus.Gauge
	propagations    *prometheus.CounterVec
	queueDepth      prometheus.Gauge
	errors          *prometheus.CounterVec
}

// NewCollector creates a collector and registers its metrics with reg
func NewCollector(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands processed, by command name.",
		}, []string{"cmd"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command processing latency, by command name.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"cmd"}),
		networkBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "network_received_bytes_total",
			Help:      "Request bytes received from clients.",
		}),
		handshake: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "handshake_duration_seconds",
			Help:      "Duration of completed replica handshakes.",
			Buckets:   prometheus.DefBuckets,
		}),
		replicas: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "replicas",
			Help:      "Registered replicas.",
		}),
		propagations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "propagations_total",
			Help:      "Write deliveries to replicas, by result.",
		}, []string{"result"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "propagation_queue_depth",
			Help:      "Writes waiting to be propagated.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Errors, by type.",
		}, []string{"type"}),
	}

	for _, collector := range []prometheus.Collector{
		c.commands, c.commandDuration, c.networkBytes, c.handshake,
		c.replicas, c.propagations, c.queueDepth, c.errors,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// RecordCommandProcessed records a processed command with its duration
func (c *Collector) RecordCommandProcessed(cmd string, duration time.Duration) {
	c.commands.WithLabelValues(cmd).Inc()
	c.commandDuration.WithLabelValues(cmd).Observe(duration.Seconds())
}

// RecordNetworkBytes records request bytes received
func (c *Collector) RecordNetworkBytes(bytes int64) {
	c.networkBytes.Add(float64(bytes))
}

// RecordHandshake records a completed replica handshake
func (c *Collector) RecordHandshake(duration time.Duration) {
	c.handshake.Observe(duration.Seconds())
}

// RecordReplicaCount records the number of registered replicas
func (c *Collector) RecordReplicaCount(count int) {
	c.replicas.Set(float64(count))
}

// RecordPropagation records one delivery attempt
func (c *Collector) RecordPropagation(delivered bool) {
	result := "delivered"
	if !delivered {
		result = "failed"
	}
	c.propagations.WithLabelValues(result).Inc()
}

// RecordQueueDepth records the propagation backlog
func (c *Collector) RecordQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// RecordError records an error event
func (c *Collector) RecordError(errorType string) {
	c.errors.WithLabelValues(errorType).Inc()
}

// Handler serves the metrics gathered by g in the Prometheus text format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
