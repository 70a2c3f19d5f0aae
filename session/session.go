package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/glimte/msgline/container"
)

// Dialer opens the byte stream a session runs on. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Session is one client connection to a server. Send may be called
// concurrently; Recv has a single reader.
type Session struct {
	localID    string
	localSubID string
	cfg        Config
	dialer     Dialer
	logger     *slog.Logger
	metrics    MetricsCollector

	// notifyMu orders transitions and listener calls.
	notifyMu sync.Mutex

	mu        sync.Mutex
	state     State
	id        string
	conn      net.Conn
	reader    *container.FrameReader
	stopping  bool
	echoStop  context.CancelFunc
	listeners []StateListener

	sendMu sync.Mutex
	recvMu sync.Mutex
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithConfig replaces the whole configuration
func WithConfig(cfg Config) Option {
	return func(s *Session) {
		s.cfg = cfg
	}
}

// WithConnectionParams enables negotiation with p
func WithConnectionParams(p ConnectionParams) Option {
	return func(s *Session) {
		s.cfg.Params = &p
	}
}

// WithHandshakeAck makes Start wait for the server's acknowledgement
func WithHandshakeAck(ack HandshakeAck) Option {
	return func(s *Session) {
		s.cfg.Ack = &ack
	}
}

// WithDialer sets the transport dialer
func WithDialer(d Dialer) Option {
	return func(s *Session) {
		s.dialer = d
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(m MetricsCollector) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithStateListener registers a transition listener
func WithStateListener(l StateListener) Option {
	return func(s *Session) {
		s.listeners = append(s.listeners, l)
	}
}

// New creates a disconnected session for the local identity.
func New(localID, localSubID string, opts ...Option) *Session {
	s := &Session{
		localID:    localID,
		localSubID: localSubID,
		cfg:        DefaultConfig(),
		logger:     slog.Default(),
		metrics:    NoOpMetrics{},
		state:      Disconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.dialer == nil {
		s.dialer = &net.Dialer{Timeout: s.cfg.ConnectTimeout}
	}
	if s.cfg.ServerID == "" {
		s.cfg.ServerID = "unknown"
	}
	return s
}

// OnStateChange registers a transition listener.
func (s *Session) OnStateChange(l StateListener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ID returns the id assigned by the last Start.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// LocalID returns the local source id and sub id.
func (s *Session) LocalID() (id, subID string) {
	return s.localID, s.localSubID
}

// Config returns the session configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// transition moves to `to` if the current state is one of allowed (any
// state when allowed is empty) and notifies listeners.
func (s *Session) transition(op string, to State, allowed ...State) (State, error) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	from := s.state
	if len(allowed) > 0 && !slices.Contains(allowed, from) {
		s.mu.Unlock()
		return from, &StateError{Op: op, State: from}
	}
	s.state = to
	listeners := slices.Clone(s.listeners)
	id := s.id
	s.mu.Unlock()

	if from == to {
		return from, nil
	}
	s.logger.Debug("session state changed", "session", id, "from", from.String(), "to", to.String())
	s.metrics.RecordStateChange(from, to)
	for _, l := range listeners {
		l(from, to)
	}
	return from, nil
}

// Start dials addr and, when connection params are configured, negotiates
// them. It is valid from Disconnected or Closed.
func (s *Session) Start(ctx context.Context, addr Address) error {
	if _, err := s.transition("start", Connecting, Disconnected, Closed); err != nil {
		return err
	}

	id := uuid.NewString()
	s.mu.Lock()
	s.id = id
	s.stopping = false
	s.mu.Unlock()
	logger := s.logger.With("session", id, "addr", addr.String())

	dialCtx := ctx
	if s.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, s.cfg.ConnectTimeout)
		defer cancel()
	}
	conn, err := s.dialer.DialContext(dialCtx, "tcp", addr.String())
	if err != nil {
		s.transition("start", Closed, Connecting)
		logger.Warn("failed to connect", "error", err)
		return &ConnectionError{Op: "dial", Addr: addr.String(), Err: err, Timestamp: time.Now()}
	}

	s.mu.Lock()
	if s.state != Connecting {
		s.mu.Unlock()
		conn.Close()
		return fmt.Errorf("session: start: %w", ErrCancelled)
	}
	s.conn = conn
	s.reader = container.NewFrameReader(conn, s.cfg.Limits)
	s.mu.Unlock()

	if s.cfg.Params == nil {
		if _, err := s.transition("start", Connected, Connecting); err != nil {
			return fmt.Errorf("session: start: %w", ErrCancelled)
		}
		logger.Info("session connected")
		return nil
	}

	if _, err := s.transition("start", Negotiating, Connecting); err != nil {
		return fmt.Errorf("session: start: %w", ErrCancelled)
	}
	began := time.Now()
	err = s.negotiate(ctx, addr)
	s.metrics.RecordHandshake(time.Since(began), err == nil)
	if err != nil {
		logger.Warn("handshake failed", "error", err)
		s.teardown(false)
		return err
	}
	if _, err := s.transition("start", Connected, Negotiating); err != nil {
		return fmt.Errorf("session: start: %w", ErrCancelled)
	}

	p := s.cfg.Params
	logger.Info("session connected",
		"connectionKey", p.ConnectionKey,
		"autoEcho", p.AutoEcho,
		"bridgeMode", p.BridgeMode)
	if p.AutoEcho {
		s.startEcho(addr, s.echoInterval())
	}
	return nil
}

// Send writes one container. It is valid while Negotiating or Connected.
func (s *Session) Send(ctx context.Context, c *container.Container) error {
	if c == nil {
		return errors.New("session: send: nil container")
	}
	if cc := s.cfg.Compression; cc != nil {
		var err error
		if c, err = cc.Compress(c); err != nil {
			return fmt.Errorf("session: send: %w", err)
		}
	}
	frame := container.Encode(c)

	s.mu.Lock()
	state, conn := s.state, s.conn
	s.mu.Unlock()
	if !state.canExchange() || conn == nil {
		return &StateError{Op: "send", State: state}
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	var deadline time.Time
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	} else if s.cfg.WriteTimeout > 0 {
		deadline = time.Now().Add(s.cfg.WriteTimeout)
	}
	conn.SetWriteDeadline(deadline)
	stop := interruptOnDone(ctx, conn.SetWriteDeadline)
	_, err := conn.Write(frame)
	stop()

	s.metrics.RecordSend(c.MessageType(), len(frame), err == nil)
	if err != nil {
		// A partial write leaves the stream unusable.
		cause := s.lost(err)
		s.teardown(false)
		if ctxErr := ctx.Err(); ctxErr != nil && isTimeout(err) {
			return fmt.Errorf("%w: %w", cause, ctxErr)
		}
		return cause
	}
	return nil
}

// Recv blocks until one container arrives. Context cancellation returns
// ctx.Err() and keeps any partially read frame for the next call.
func (s *Session) Recv(ctx context.Context) (*container.Container, error) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	s.mu.Lock()
	state, conn, reader := s.state, s.conn, s.reader
	s.mu.Unlock()
	if !state.canExchange() || conn == nil {
		return nil, &StateError{Op: "recv", State: state}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	conn.SetReadDeadline(time.Time{})
	stop := interruptOnDone(ctx, conn.SetReadDeadline)
	frame, err := reader.ReadFrame()
	stop()

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && isTimeout(err) {
			return nil, ctxErr
		}
		if errors.Is(err, container.ErrFraming) || errors.Is(err, container.ErrFrameTooLarge) {
			s.teardown(false)
			return nil, err
		}
		cause := s.lost(err)
		s.teardown(false)
		return nil, cause
	}

	c, err := container.Decode(frame)
	if err == nil {
		c, err = container.Decompress(c, s.cfg.Limits)
	}
	if err != nil {
		s.teardown(false)
		return nil, err
	}
	s.metrics.RecordReceive(c.MessageType(), len(frame))
	return c, nil
}

// Stop closes the transport and moves to Closed. It is safe to call from
// any goroutine and any number of times; a blocked Recv returns an error
// matching both ErrConnectionLost and ErrCancelled.
func (s *Session) Stop() error {
	return s.teardown(true)
}

func (s *Session) teardown(stopping bool) error {
	if _, err := s.transition("stop", Closing,
		Disconnected, Connecting, Negotiating, Connected); err != nil {
		return nil
	}

	s.mu.Lock()
	if stopping {
		s.stopping = true
	}
	conn := s.conn
	s.conn = nil
	echoStop := s.echoStop
	s.echoStop = nil
	id := s.id
	s.mu.Unlock()

	if echoStop != nil {
		echoStop()
	}
	var err error
	if conn != nil {
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = fmt.Errorf("session: close transport: %w", cerr)
		}
	}
	s.transition("stop", Closed)
	s.logger.Info("session closed", "session", id, "stopped", stopping)
	return err
}

// lost maps a transport failure to ErrConnectionLost, marking failures
// caused by Stop as cancelled.
func (s *Session) lost(err error) error {
	s.mu.Lock()
	stopping := s.stopping
	s.mu.Unlock()
	if stopping {
		return fmt.Errorf("%w: %w", ErrConnectionLost, ErrCancelled)
	}
	return fmt.Errorf("%w: %w", ErrConnectionLost, err)
}

var aLongTimeAgo = time.Unix(1, 0)

// interruptOnDone pushes the deadline into the past when ctx is done. The
// returned func must be called once the I/O finished; it waits for a running
// interrupt and clears the deadline it set.
func interruptOnDone(ctx context.Context, setDeadline func(time.Time) error) func() {
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		setDeadline(aLongTimeAgo)
		close(fired)
	})
	return func() {
		if !stop() {
			<-fired
			setDeadline(time.Time{})
		}
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
