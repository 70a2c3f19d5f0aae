package rabbitmq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/glimte/msgline/internal/reliability"
)

// connection is the part of *amqp.Connection the manager uses
type connection interface {
	NotifyClose(receiver chan *amqp.Error) chan *amqp.Error
	Channel() (*amqp.Channel, error)
	IsClosed() bool
	Close() error
}

// StateListener is told when the broker connection goes up or down. err is
// nil for a clean connect.
type StateListener func(connected bool, err error)

// ConnectionManager owns one AMQP connection and re-dials it with the
// configured retry policy after the broker closes it.
type ConnectionManager struct {
	url         string
	dialTimeout time.Duration
	policy      reliability.RetryPolicy
	logger      *slog.Logger
	dial        func() (connection, error)

	mu          sync.RWMutex
	conn        connection
	isConnected bool
	closed      bool
	done        chan struct{}

	listenersMu sync.RWMutex
	listeners   []StateListener
}

// ConnectionOption configures the ConnectionManager
type ConnectionOption func(*ConnectionManager)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.logger = logger
	}
}

// WithDialTimeout bounds a single dial attempt
func WithDialTimeout(timeout time.Duration) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.dialTimeout = timeout
	}
}

// WithReconnectPolicy sets the policy used by Connect and by reconnects
func WithReconnectPolicy(policy reliability.RetryPolicy) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.policy = policy
	}
}

// WithStateListener registers a listener at construction time
func WithStateListener(l StateListener) ConnectionOption {
	return func(cm *ConnectionManager) {
		cm.listeners = append(cm.listeners, l)
	}
}

// NewConnectionManager creates a manager for url; nothing is dialed until Connect
func NewConnectionManager(url string, options ...ConnectionOption) *ConnectionManager {
	cm := &ConnectionManager{
		url:         url,
		dialTimeout: 30 * time.Second,
		policy:      reliability.NewExponentialBackoff(500*time.Millisecond, 30*time.Second, 2.0, 5),
		logger:      slog.Default(),
		done:        make(chan struct{}),
	}
	cm.dial = cm.dialAMQP

	for _, opt := range options {
		opt(cm)
	}

	return cm
}

// Connect dials the broker, retrying with the manager's policy
func (cm *ConnectionManager) Connect(ctx context.Context) error {
	cm.mu.RLock()
	connected, closed := cm.isConnected, cm.closed
	cm.mu.RUnlock()
	if closed {
		return &ConnectionError{Op: "connect", URL: SanitizeURL(cm.url), Err: ErrConnectionClosed, Timestamp: time.Now()}
	}
	if connected {
		return nil
	}

	attempts := 0
	var conn connection
	err := reliability.Retry(ctx, "amqp connect", cm.policy, func() error {
		attempts++
		var err error
		conn, err = cm.dial()
		return err
	})
	if err != nil {
		return &ConnectionError{
			Op:        "connect",
			URL:       SanitizeURL(cm.url),
			Err:       err,
			Timestamp: time.Now(),
			Attempts:  attempts,
		}
	}

	if err := cm.attach(conn); err != nil {
		return &ConnectionError{Op: "connect", URL: SanitizeURL(cm.url), Err: err, Timestamp: time.Now(), Attempts: attempts}
	}
	cm.logger.Info("connected to broker", "url", SanitizeURL(cm.url), "attempts", attempts)
	return nil
}

func (cm *ConnectionManager) dialAMQP() (connection, error) {
	conn, err := amqp.DialConfig(cm.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(cm.dialTimeout),
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// attach installs conn and starts watching it. A manager closed since the
// dial started closes conn instead and returns ErrConnectionClosed.
func (cm *ConnectionManager) attach(conn connection) error {
	cm.mu.Lock()
	if cm.closed {
		cm.mu.Unlock()
		conn.Close()
		return ErrConnectionClosed
	}
	notify := conn.NotifyClose(make(chan *amqp.Error, 1))
	cm.conn = conn
	cm.isConnected = true
	cm.mu.Unlock()

	cm.notify(true, nil)
	go cm.handleReconnect(notify)
	return nil
}

func (cm *ConnectionManager) live() (connection, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	if !cm.isConnected || cm.conn == nil {
		return nil, ErrConnectionNotReady
	}
	if cm.conn.IsClosed() {
		return nil, ErrConnectionClosed
	}
	return cm.conn, nil
}

// Channel opens a new channel on the live connection
func (cm *ConnectionManager) Channel() (*amqp.Channel, error) {
	conn, err := cm.live()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, &ChannelError{Op: "open", Err: err, Timestamp: time.Now()}
	}
	return ch, nil
}

// IsConnected returns the connection status
func (cm *ConnectionManager) IsConnected() bool {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.isConnected
}

// Close stops reconnecting and closes the connection. It is idempotent.
func (cm *ConnectionManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.closed {
		return nil
	}
	cm.closed = true
	close(cm.done)
	cm.isConnected = false

	if cm.conn != nil {
		err := cm.conn.Close()
		cm.conn = nil
		if err != nil && !errors.Is(err, amqp.ErrClosed) {
			return err
		}
	}
	return nil
}

// AddStateListener adds a connection state listener. Listeners run on their
// own goroutine for every transition after they were added.
func (cm *ConnectionManager) AddStateListener(l StateListener) {
	cm.listenersMu.Lock()
	defer cm.listenersMu.Unlock()
	cm.listeners = append(cm.listeners, l)
}

func (cm *ConnectionManager) notify(connected bool, err error) {
	cm.listenersMu.RLock()
	defer cm.listenersMu.RUnlock()

	for _, l := range cm.listeners {
		go l(connected, err)
	}
}

func (cm *ConnectionManager) handleReconnect(notify <-chan *amqp.Error) {
	var closeErr *amqp.Error
	select {
	case closeErr = <-notify:
	case <-cm.done:
		return
	}

	cm.mu.Lock()
	if cm.closed {
		cm.mu.Unlock()
		return
	}
	cm.isConnected = false
	cm.conn = nil
	cm.mu.Unlock()

	var cause error
	if closeErr != nil {
		cause = closeErr
		cm.logger.Error("broker connection closed", "error", closeErr)
	}
	cm.notify(false, cause)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-cm.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	start := time.Now()
	attempts := 0
	var conn connection
	err := reliability.Retry(ctx, "amqp reconnect", cm.policy, func() error {
		attempts++
		cm.logger.Info("attempting to reconnect", "attempt", attempts)
		var err error
		conn, err = cm.dial()
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		cm.logger.Error("reconnect failed", "attempts", attempts, "duration", time.Since(start), "error", err)
		cm.notify(false, &ConnectionError{
			Op:        "reconnect",
			URL:       SanitizeURL(cm.url),
			Err:       err,
			Timestamp: time.Now(),
			Attempts:  attempts,
		})
		return
	}

	if err := cm.attach(conn); err != nil {
		cm.logger.Debug("dropping connection dialed during close")
		return
	}
	cm.logger.Info("reconnected to broker", "attempts", attempts, "duration", time.Since(start))
}
