// Package echopeer is a minimal msgline server: it accepts sessions, reads
// their negotiation parameters and echoes every other container back to its
// sender.
package echopeer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/glimte/msgline/container"
	"github.com/glimte/msgline/messaging"
	"github.com/glimte/msgline/session"
)

// Server echoes containers back to connected clients.
type Server struct {
	id        string
	subID     string
	logger    *slog.Logger
	ack       *session.HandshakeAck
	confirm   bool
	replyType string
	limits    container.Limits
	compress  *container.Compression
	metrics   messaging.HandlerMetrics

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup

	sessions chan session.ConnectionParams
}

// Option configures the Server
type Option func(*Server)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithServerID sets the identity used on acknowledgements
func WithServerID(id, subID string) Option {
	return func(s *Server) {
		s.id, s.subID = id, subID
	}
}

// WithAck answers request_connection with ack, confirming or refusing it
func WithAck(ack session.HandshakeAck, confirm bool) Option {
	return func(s *Server) {
		s.ack = &ack
		s.confirm = confirm
	}
}

// WithReplyType replaces the message type of echoed containers
func WithReplyType(messageType string) Option {
	return func(s *Server) {
		s.replyType = messageType
	}
}

// WithLimits bounds inbound frames
func WithLimits(l container.Limits) Option {
	return func(s *Server) {
		s.limits = l
	}
}

// WithCompression deflates the data sections of outgoing containers
func WithCompression(cc container.Compression) Option {
	return func(s *Server) {
		s.compress = &cc
	}
}

// WithMetrics records every handled container
func WithMetrics(m messaging.HandlerMetrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// New creates an echo server
func New(options ...Option) *Server {
	s := &Server{
		id:       "echo_server",
		logger:   slog.Default(),
		limits:   container.DefaultLimits(),
		conns:    make(map[net.Conn]struct{}),
		sessions: make(chan session.ConnectionParams, 16),
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Listen binds addr and serves in the background
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go s.Serve(ln)
	return nil
}

// Serve accepts connections until Close
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return net.ErrClosed
	}
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("echo server listening", "addr", ln.Addr().String())
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warn("failed to accept connection", "error", err)
			return err
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go func(conn net.Conn) {
			defer s.wg.Done()
			s.handleConnection(conn)
		}(conn)
	}
}

// Addr returns the listening address, nil before Serve
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Negotiated delivers the parameters of every accepted handshake. Values are
// dropped when nobody reads them.
func (s *Server) Negotiated() <-chan session.ConnectionParams {
	return s.sessions
}

// Close stops accepting, closes every connection and waits for handlers
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	ln := s.listener
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	var err error
	if ln != nil {
		err = ln.Close()
	}
	s.wg.Wait()
	return err
}

// connSender writes containers to one connection.
type connSender struct {
	mu       sync.Mutex
	conn     net.Conn
	compress *container.Compression
}

func (c *connSender) Send(ctx context.Context, msg *container.Container) error {
	if c.compress != nil {
		var err error
		if msg, err = c.compress.Compress(msg); err != nil {
			return err
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.conn.Write(container.Encode(msg))
	return err
}

func (s *Server) handleConnection(conn net.Conn) {
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
	}()

	logger := s.logger.With("peer", uuid.NewString(), "remote", conn.RemoteAddr().String())
	logger.Info("client connected")

	sender := &connSender{conn: conn, compress: s.compress}
	middleware := []messaging.MiddlewareFunc{messaging.RecoveryMiddleware(), messaging.LoggingMiddleware(logger)}
	if s.metrics != nil {
		middleware = append(middleware, messaging.MetricsMiddleware(s.metrics))
	}
	d := messaging.NewDispatcher(
		messaging.WithDispatcherLogger(logger),
		messaging.WithMiddleware(middleware...),
		messaging.WithFallback(messaging.EchoHandler(sender, s.replyType)),
	)
	d.RegisterFunc(session.MessageTypeRequestConnection, func(ctx context.Context, c *container.Container) error {
		return s.handleHandshake(ctx, logger, sender, c)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fr := container.NewFrameReader(conn, s.limits)
	for {
		msg, err := fr.Read()
		if err == nil {
			msg, err = container.Decompress(msg, s.limits)
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				logger.Info("client disconnected")
			} else {
				logger.Warn("closing connection", "error", err)
			}
			return
		}
		if err := d.Dispatch(ctx, msg); err != nil {
			logger.Warn("failed to handle message", "messageType", msg.MessageType(), "error", err)
			return
		}
	}
}

func (s *Server) handleHandshake(ctx context.Context, logger *slog.Logger, sender messaging.Sender, c *container.Container) error {
	params, err := session.ParseConnectionParams(c)
	if err != nil {
		return err
	}
	logger.Info("connection requested",
		"source", c.SourceID(),
		"connectionKey", params.ConnectionKey,
		"autoEcho", params.AutoEcho,
		"sessionType", params.SessionType,
		"bridgeMode", params.BridgeMode,
		"snippingTargets", params.SnippingTargets)

	select {
	case s.sessions <- params:
	default:
	}

	if s.ack == nil {
		return nil
	}
	reply := session.NewHandshakeAck(c, *s.ack, s.confirm)
	if s.id != "" {
		h := reply.Header()
		h.SourceID, h.SourceSubID = s.id, s.subID
		var err error
		if reply, err = container.FromHeader(h, reply.Data()...); err != nil {
			return err
		}
	}
	return sender.Send(ctx, reply)
}
