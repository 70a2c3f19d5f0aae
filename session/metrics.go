package session

import "time"

// MetricsCollector receives session events.
type MetricsCollector interface {
	// RecordStateChange records a lifecycle transition
	RecordStateChange(from, to State)

	// RecordSend records one outbound frame
	RecordSend(messageType string, bytes int, success bool)

	// RecordReceive records one inbound frame
	RecordReceive(messageType string, bytes int)

	// RecordHandshake records a completed or failed negotiation
	RecordHandshake(duration time.Duration, success bool)
}

// NoOpMetrics discards everything.
type NoOpMetrics struct{}

func (NoOpMetrics) RecordStateChange(from, to State)                       {}
func (NoOpMetrics) RecordSend(messageType string, bytes int, success bool) {}
func (NoOpMetrics) RecordReceive(messageType string, bytes int)            {}
func (NoOpMetrics) RecordHandshake(duration time.Duration, success bool)   {}
