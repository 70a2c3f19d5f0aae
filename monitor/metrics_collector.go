package monitor

import (
	"sort"
	"sync"
	"time"

	"github.com/glimte/msgline/session"
)

// SimpleMetricsCollector keeps session and handler metrics in memory. It
// implements session.MetricsCollector and messaging.HandlerMetrics.
type SimpleMetricsCollector struct {
	mu sync.RWMutex

	sent       map[string]int64
	sendErrors map[string]int64
	received   map[string]int64
	bytesOut   int64
	bytesIn    int64

	transitions map[string]int64
	handshakes  int64
	handshakeFailures int64

	handled map[string]*TimeStats
	handlerErrors map[string]int64
}

// TimeStats tracks timing statistics
type TimeStats struct {
	Count   int64
	TotalMs int64
	MinMs   int64
	MaxMs   int64
	samples []int64 // last 100 samples for percentiles
}

// NewSimpleMetricsCollector creates a new in-memory metrics collector
func NewSimpleMetricsCollector() *SimpleMetricsCollector {
	c := &SimpleMetricsCollector{}
	c.Reset()
	return c
}

// RecordStateChange implements session.MetricsCollector
func (c *SimpleMetricsCollector) RecordStateChange(from, to session.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transitions[from.String()+"->"+to.String()]++
}

// RecordSend implements session.MetricsCollector
func (c *SimpleMetricsCollector) RecordSend(messageType string, bytes int, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !success {
		c.sendErrors[messageType]++
		return
	}
	c.sent[messageType]++
	c.bytesOut += int64(bytes)
}

// RecordReceive implements session.MetricsCollector
func (c *SimpleMetricsCollector) RecordReceive(messageType string, bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received[messageType]++
	c.bytesIn += int64(bytes)
}

// RecordHandshake implements session.MetricsCollector
func (c *SimpleMetricsCollector) RecordHandshake(duration time.Duration, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handshakes++
	if !success {
		c.handshakeFailures++
	}
}

// RecordHandled implements messaging.HandlerMetrics
func (c *SimpleMetricsCollector) RecordHandled(messageType string, duration time.Duration, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !success {
		c.handlerErrors[messageType]++
	}

	durationMs := duration.Milliseconds()
	stats, exists := c.handled[messageType]
	if !exists {
		stats = &TimeStats{
			MinMs:   durationMs,
			MaxMs:   durationMs,
			samples: make([]int64, 0, 100),
		}
		c.handled[messageType] = stats
	}

	stats.Count++
	stats.TotalMs += durationMs
	if durationMs < stats.MinMs {
		stats.MinMs = durationMs
	}
	if durationMs > stats.MaxMs {
		stats.MaxMs = durationMs
	}

	if len(stats.samples) >= 100 {
		stats.samples = stats.samples[1:]
	}
	stats.samples = append(stats.samples, durationMs)
}

// GetMetricsSummary returns a snapshot of all collected metrics
func (c *SimpleMetricsCollector) GetMetricsSummary() MetricsSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summary := MetricsSummary{
		Sent:              copyCounts(c.sent),
		SendErrors:        copyCounts(c.sendErrors),
		Received:          copyCounts(c.received),
		BytesOut:          c.bytesOut,
		BytesIn:           c.bytesIn,
		Transitions:       copyCounts(c.transitions),
		Handshakes:        c.handshakes,
		HandshakeFailures: c.handshakeFailures,
		HandlerErrors:     copyCounts(c.handlerErrors),
		ProcessingStats:   make(map[string]ProcessingStats),
	}

	for msgType, stats := range c.handled {
		procStats := ProcessingStats{
			Count: stats.Count,
			MinMs: stats.MinMs,
			MaxMs: stats.MaxMs,
		}
		if stats.Count > 0 {
			procStats.AvgMs = stats.TotalMs / stats.Count
		}
		if len(stats.samples) > 0 {
			procStats.P50Ms = percentile(stats.samples, 0.50)
			procStats.P95Ms = percentile(stats.samples, 0.95)
			procStats.P99Ms = percentile(stats.samples, 0.99)
		}
		summary.ProcessingStats[msgType] = procStats
	}

	return summary
}

// Reset clears all collected metrics
func (c *SimpleMetricsCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sent = make(map[string]int64)
	c.sendErrors = make(map[string]int64)
	c.received = make(map[string]int64)
	c.bytesOut, c.bytesIn = 0, 0
	c.transitions = make(map[string]int64)
	c.handshakes, c.handshakeFailures = 0, 0
	c.handled = make(map[string]*TimeStats)
	c.handlerErrors = make(map[string]int64)
}

func copyCounts(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func percentile(samples []int64, p float64) int64 {
	sorted := append([]int64(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return sorted[int(float64(len(sorted)-1)*p)]
}

// MetricsSummary represents a snapshot of all metrics
type MetricsSummary struct {
	Sent              map[string]int64           `json:"sent"`
	SendErrors        map[string]int64           `json:"send_errors"`
	Received          map[string]int64           `json:"received"`
	BytesOut          int64                      `json:"bytes_out"`
	BytesIn           int64                      `json:"bytes_in"`
	Transitions       map[string]int64           `json:"transitions"`
	Handshakes        int64                      `json:"handshakes"`
	HandshakeFailures int64                      `json:"handshake_failures"`
	HandlerErrors     map[string]int64           `json:"handler_errors"`
	ProcessingStats   map[string]ProcessingStats `json:"processing_stats"`
}

// ProcessingStats represents handler time statistics for a message type
type ProcessingStats struct {
	Count int64 `json:"count"`
	AvgMs int64 `json:"avg_ms"`
	MinMs int64 `json:"min_ms"`
	MaxMs int64 `json:"max_ms"`
	P50Ms int64 `json:"p50_ms"`
	P95Ms int64 `json:"p95_ms"`
	P99Ms int64 `json:"p99_ms"`
}
