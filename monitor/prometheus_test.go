package monitor

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/msgline/messaging"
	"github.com/glimte/msgline/session"
)

var (
	_ session.MetricsCollector = (*PrometheusCollector)(nil)
	_ messaging.HandlerMetrics = (*PrometheusCollector)(nil)
	_ session.MetricsCollector = (*SimpleMetricsCollector)(nil)
	_ messaging.HandlerMetrics = (*SimpleMetricsCollector)(nil)
)

func TestPrometheusCollector(t *testing.T) {
	t.Run("records session events", func(t *testing.T) {
		c, err := NewPrometheusCollector()
		require.NoError(t, err)

		c.RecordStateChange(session.Disconnected, session.Connecting)
		c.RecordStateChange(session.Connecting, session.Connected)
		c.RecordSend("echo_test", 100, true)
		c.RecordSend("echo_test", 100, false)
		c.RecordReceive("echo_test", 40)
		c.RecordHandshake(10*time.Millisecond, true)

		assert.Equal(t, 1.0, testutil.ToFloat64(c.state.WithLabelValues("connected")))
		assert.Equal(t, 0.0, testutil.ToFloat64(c.state.WithLabelValues("connecting")))
		assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("connecting", "connected")))
		assert.Equal(t, 1.0, testutil.ToFloat64(c.frames.WithLabelValues("out", "echo_test", "false")))
		assert.Equal(t, 100.0, testutil.ToFloat64(c.bytes.WithLabelValues("out")))
		assert.Equal(t, 40.0, testutil.ToFloat64(c.bytes.WithLabelValues("in")))
		assert.Equal(t, 1.0, testutil.ToFloat64(c.handshakes.WithLabelValues("true")))
	})

	t.Run("records handler outcomes", func(t *testing.T) {
		c, err := NewPrometheusCollector()
		require.NoError(t, err)

		c.RecordHandled("echo_test", time.Millisecond, true)
		c.RecordHandled("echo_test", time.Millisecond, false)

		assert.Equal(t, 1.0, testutil.ToFloat64(c.handled.WithLabelValues("echo_test", "false")))
		assert.Equal(t, 1, testutil.CollectAndCount(c.handleDur))
	})

	t.Run("duplicate registration fails", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		_, err := NewPrometheusCollector(WithRegistry(reg))
		require.NoError(t, err)

		_, err = NewPrometheusCollector(WithRegistry(reg))

		assert.Error(t, err)
	})

	t.Run("handler exposes metrics", func(t *testing.T) {
		c, err := NewPrometheusCollector(WithNamespace("test"), WithConstLabels(prometheus.Labels{"client": "echo"}))
		require.NoError(t, err)
		c.RecordReceive("echo_test", 1)

		rec := httptest.NewRecorder()
		c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

		body, _ := io.ReadAll(rec.Body)
		assert.Contains(t, string(body), `test_session_frames_total{client="echo",direction="in",message_type="echo_test",success="true"} 1`)
	})
}

func TestSimpleMetricsCollector(t *testing.T) {
	t.Run("NewSimpleMetricsCollector starts empty", func(t *testing.T) {
		summary := NewSimpleMetricsCollector().GetMetricsSummary()

		assert.Empty(t, summary.Sent)
		assert.Empty(t, summary.Transitions)
		assert.Empty(t, summary.ProcessingStats)
	})

	t.Run("tracks session events", func(t *testing.T) {
		c := NewSimpleMetricsCollector()

		c.RecordStateChange(session.Connecting, session.Negotiating)
		c.RecordSend("request_connection", 200, true)
		c.RecordSend("echo_test", 50, false)
		c.RecordReceive("echo_test", 60)
		c.RecordHandshake(time.Millisecond, false)

		s := c.GetMetricsSummary()
		assert.Equal(t, int64(1), s.Transitions["connecting->negotiating"])
		assert.Equal(t, int64(1), s.Sent["request_connection"])
		assert.Equal(t, int64(1), s.SendErrors["echo_test"])
		assert.Equal(t, int64(200), s.BytesOut)
		assert.Equal(t, int64(60), s.BytesIn)
		assert.Equal(t, int64(1), s.Handshakes)
		assert.Equal(t, int64(1), s.HandshakeFailures)
	})

	t.Run("tracks handler timing", func(t *testing.T) {
		c := NewSimpleMetricsCollector()

		c.RecordHandled("echo_test", 100*time.Millisecond, true)
		c.RecordHandled("echo_test", 300*time.Millisecond, false)

		stats := c.GetMetricsSummary().ProcessingStats["echo_test"]
		assert.Equal(t, int64(2), stats.Count)
		assert.Equal(t, int64(200), stats.AvgMs)
		assert.Equal(t, int64(100), stats.MinMs)
		assert.Equal(t, int64(300), stats.MaxMs)
		assert.Equal(t, int64(1), c.GetMetricsSummary().HandlerErrors["echo_test"])
	})

	t.Run("Reset clears", func(t *testing.T) {
		c := NewSimpleMetricsCollector()
		c.RecordReceive("x", 1)

		c.Reset()

		assert.Empty(t, c.GetMetricsSummary().Received)
	})
}
