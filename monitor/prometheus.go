package monitor

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/glimte/msgline/session"
)

// PrometheusCollector exports session and handler metrics. It implements
// session.MetricsCollector and messaging.HandlerMetrics.
type PrometheusCollector struct {
	state        *prometheus.GaugeVec
	transitions  *prometheus.CounterVec
	frames       *prometheus.CounterVec
	bytes        *prometheus.CounterVec
	handshakes   *prometheus.CounterVec
	handshakeDur prometheus.Histogram
	handled      *prometheus.CounterVec
	handleDur    *prometheus.HistogramVec
	gatherer     prometheus.Gatherer
}

// PrometheusOption configures the PrometheusCollector
type PrometheusOption func(*prometheusConfig)

type prometheusConfig struct {
	namespace string
	registry  *prometheus.Registry
	labels    prometheus.Labels
}

// WithNamespace sets the metric namespace (default "msgline")
func WithNamespace(ns string) PrometheusOption {
	return func(c *prometheusConfig) {
		c.namespace = ns
	}
}

// WithRegistry registers metrics on reg instead of a fresh registry
func WithRegistry(reg *prometheus.Registry) PrometheusOption {
	return func(c *prometheusConfig) {
		c.registry = reg
	}
}

// WithConstLabels adds labels to every metric, e.g. the client id
func WithConstLabels(labels prometheus.Labels) PrometheusOption {
	return func(c *prometheusConfig) {
		c.labels = labels
	}
}

// NewPrometheusCollector creates and registers the collector's metrics
func NewPrometheusCollector(options ...PrometheusOption) (*PrometheusCollector, error) {
	cfg := &prometheusConfig{namespace: "msgline"}
	for _, opt := range options {
		opt(cfg)
	}
	if cfg.registry == nil {
		cfg.registry = prometheus.NewRegistry()
	}
	ns, labels := cfg.namespace, cfg.labels

	c := &PrometheusCollector{
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: ns, Subsystem: "session", Name: "state",
			Help: "1 for the current session state, 0 otherwise.", ConstLabels: labels,
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "session", Name: "transitions_total",
			Help: "Session state transitions.", ConstLabels: labels,
		}, []string{"from", "to"}),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "session", Name: "frames_total",
			Help: "Container frames sent and received.", ConstLabels: labels,
		}, []string{"direction", "message_type", "success"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "session", Name: "bytes_total",
			Help: "Encoded container bytes sent and received.", ConstLabels: labels,
		}, []string{"direction"}),
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "session", Name: "handshakes_total",
			Help: "Connection negotiations.", ConstLabels: labels,
		}, []string{"success"}),
		handshakeDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "session", Name: "handshake_duration_seconds",
			Help: "Connection negotiation duration in seconds.", ConstLabels: labels,
			Buckets: prometheus.DefBuckets,
		}),
		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Subsystem: "dispatch", Name: "handled_total",
			Help: "Containers handled by the dispatcher.", ConstLabels: labels,
		}, []string{"message_type", "success"}),
		handleDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns, Subsystem: "dispatch", Name: "handle_duration_seconds",
			Help: "Handler duration in seconds.", ConstLabels: labels,
			Buckets: prometheus.DefBuckets,
		}, []string{"message_type"}),
		gatherer: cfg.registry,
	}

	for _, col := range []prometheus.Collector{
		c.state, c.transitions, c.frames, c.bytes,
		c.handshakes, c.handshakeDur, c.handled, c.handleDur,
	} {
		if err := cfg.registry.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// RecordStateChange implements session.MetricsCollector
func (c *PrometheusCollector) RecordStateChange(from, to session.State) {
	c.transitions.WithLabelValues(from.String(), to.String()).Inc()
	c.state.WithLabelValues(from.String()).Set(0)
	c.state.WithLabelValues(to.String()).Set(1)
}

// RecordSend implements session.MetricsCollector
func (c *PrometheusCollector) RecordSend(messageType string, bytes int, success bool) {
	c.frames.WithLabelValues("out", messageType, strconv.FormatBool(success)).Inc()
	if success {
		c.bytes.WithLabelValues("out").Add(float64(bytes))
	}
}

// RecordReceive implements session.MetricsCollector
func (c *PrometheusCollector) RecordReceive(messageType string, bytes int) {
	c.frames.WithLabelValues("in", messageType, "true").Inc()
	c.bytes.WithLabelValues("in").Add(float64(bytes))
}

// RecordHandshake implements session.MetricsCollector
func (c *PrometheusCollector) RecordHandshake(duration time.Duration, success bool) {
	c.handshakes.WithLabelValues(strconv.FormatBool(success)).Inc()
	c.handshakeDur.Observe(duration.Seconds())
}

// RecordHandled implements messaging.HandlerMetrics
func (c *PrometheusCollector) RecordHandled(messageType string, duration time.Duration, success bool) {
	c.handled.WithLabelValues(messageType, strconv.FormatBool(success)).Inc()
	c.handleDur.WithLabelValues(messageType).Observe(duration.Seconds())
}

// Handler serves the collector's registry in the Prometheus text format
func (c *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(c.gatherer, promhttp.HandlerOpts{})
}
