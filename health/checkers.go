package health

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/glimte/msgline/session"
)

// StateSource reports a session state. *msgline.Client and
// *session.Session satisfy it.
type StateSource interface {
	State() session.State
}

// SessionChecker checks that a session can exchange containers
type SessionChecker struct {
	name   string
	source StateSource
}

// NewSessionChecker creates a session checker
func NewSessionChecker(name string, source StateSource) *SessionChecker {
	return &SessionChecker{name: name, source: source}
}

func (c *SessionChecker) Name() string {
	return c.name
}

func (c *SessionChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	state := c.source.State()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   map[string]interface{}{"state": state.String()},
	}

	switch state {
	case session.Connected:
		result.Status = StatusHealthy
		result.Message = "Session is connected"
	case session.Connecting, session.Negotiating:
		result.Status = StatusDegraded
		result.Message = "Session is starting"
	default:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("Session is %s", state)
	}

	result.Duration = time.Since(start)
	return result
}

// ConnectionStatus reports broker connectivity.
// *rabbitmq.ConnectionManager satisfies it.
type ConnectionStatus interface {
	IsConnected() bool
}

// BrokerChecker checks the AMQP connection used by the relay
type BrokerChecker struct {
	conn ConnectionStatus
}

// NewBrokerChecker creates a broker checker
func NewBrokerChecker(conn ConnectionStatus) *BrokerChecker {
	return &BrokerChecker{conn: conn}
}

func (c *BrokerChecker) Name() string {
	return "broker"
}

func (c *BrokerChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	connected := c.conn.IsConnected()
	result.Details["connection_open"] = connected
	if connected {
		result.Status = StatusHealthy
		result.Message = "Connection is healthy"
	} else {
		// The connection manager may still be re-dialing.
		result.Status = StatusDegraded
		result.Message = "Connection is down"
	}

	result.Duration = time.Since(start)
	return result
}

// RuntimeChecker flags goroutine leaks, e.g. sessions that never close
type RuntimeChecker struct {
	warnGoroutines     int
	criticalGoroutines int
}

// NewRuntimeChecker creates a runtime checker with goroutine thresholds
func NewRuntimeChecker(warn, critical int) *RuntimeChecker {
	return &RuntimeChecker{
		warnGoroutines:     warn,
		criticalGoroutines: critical,
	}
}

func (c *RuntimeChecker) Name() string {
	return "runtime"
}

func (c *RuntimeChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{
		Name:      c.Name(),
		Timestamp: start,
		Details:   make(map[string]interface{}),
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	goroutines := runtime.NumGoroutine()
	result.Details["memory_used_mb"] = float64(m.Sys) / 1024 / 1024
	result.Details["gc_runs"] = m.NumGC
	result.Details["goroutines"] = goroutines

	switch {
	case goroutines > c.criticalGoroutines:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("Too many goroutines: %d", goroutines)
	case goroutines > c.warnGoroutines:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("High goroutine count: %d", goroutines)
	default:
		result.Status = StatusHealthy
		result.Message = "Runtime is normal"
	}

	result.Duration = time.Since(start)
	return result
}
