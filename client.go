// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package msgline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/glimte/msgline/container"
	"github.com/glimte/msgline/messaging"
	"github.com/glimte/msgline/session"
)

// ErrUnsupportedPacket is returned by SendPacket for packet types it cannot encode.
var ErrUnsupportedPacket = errors.New("msgline: unsupported packet type")

// Client provides the main entry point for msgline
type Client struct {
	sourceID    string
	sourceSubID string
	session     *session.Session
	logger      *slog.Logger
}

// NewClient creates a client for the given local identity
func NewClient(sourceID, sourceSubID string, options ...ClientOption) *Client {
	cfg := &clientConfig{
		logger:  slog.Default(),
		session: session.DefaultConfig(),
	}

	for _, opt := range options {
		opt(cfg)
	}

	sessionOpts := []session.Option{
		session.WithLogger(cfg.logger),
		session.WithConfig(cfg.session),
	}
	if cfg.params != nil {
		sessionOpts = append(sessionOpts, session.WithConnectionParams(*cfg.params))
	}
	if cfg.ack != nil {
		sessionOpts = append(sessionOpts, session.WithHandshakeAck(*cfg.ack))
	}
	if cfg.dialer != nil {
		sessionOpts = append(sessionOpts, session.WithDialer(cfg.dialer))
	}
	if cfg.metrics != nil {
		sessionOpts = append(sessionOpts, session.WithMetrics(cfg.metrics))
	}
	for _, l := range cfg.listeners {
		sessionOpts = append(sessionOpts, session.WithStateListener(l))
	}

	return &Client{
		sourceID:    sourceID,
		sourceSubID: sourceSubID,
		session:     session.New(sourceID, sourceSubID, sessionOpts...),
		logger:      cfg.logger.With("source", sourceID),
	}
}

// Start connects to the server and negotiates when connection params are set
func (c *Client) Start(ctx context.Context, addr session.Address) error {
	return c.session.Start(ctx, addr)
}

// SendPacket sends a container. Besides *container.Container and
// container.Container it accepts the wire text as string or []byte; text is
// parsed and sent in canonical form.
func (c *Client) SendPacket(ctx context.Context, packet any) error {
	var (
		msg *container.Container
		err error
	)
	switch p := packet.(type) {
	case *container.Container:
		msg = p
	case container.Container:
		msg = &p
	case string:
		msg, err = container.Parse(p)
	case []byte:
		msg, err = container.Decode(p)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedPacket, packet)
	}
	if err != nil {
		return fmt.Errorf("msgline: parse packet: %w", err)
	}
	if msg == nil {
		return fmt.Errorf("%w: nil container", ErrUnsupportedPacket)
	}
	return c.session.Send(ctx, msg)
}

// RecvPacket blocks until the next container arrives
func (c *Client) RecvPacket(ctx context.Context) (*container.Container, error) {
	return c.session.Recv(ctx)
}

// Serve receives containers and hands each to the dispatcher until ctx is
// done or the session fails. Handler errors are logged, not returned.
func (c *Client) Serve(ctx context.Context, d *messaging.Dispatcher) error {
	for {
		msg, err := c.session.Recv(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := d.Dispatch(ctx, msg); err != nil {
			c.logger.Warn("dispatch failed", "messageType", msg.MessageType(), "error", err)
		}
	}
}

// Stop closes the session. It is idempotent.
func (c *Client) Stop() error {
	return c.session.Stop()
}

// State returns the session state
func (c *Client) State() session.State {
	return c.session.State()
}

// OnStateChange registers a session transition listener
func (c *Client) OnStateChange(l session.StateListener) {
	c.session.OnStateChange(l)
}

// Session returns the underlying session
func (c *Client) Session() *session.Session {
	return c.session
}

// NewContainer builds a container whose source is this client
func (c *Client) NewContainer(targetID, targetSubID, messageType string, fields ...container.Field) *container.Container {
	return container.New(c.sourceID, c.sourceSubID, targetID, targetSubID, messageType, fields...)
}

// clientConfig holds client configuration
type clientConfig struct {
	logger    *slog.Logger
	session   session.Config
	params    *session.ConnectionParams
	ack       *session.HandshakeAck
	dialer    session.Dialer
	metrics   session.MetricsCollector
	listeners []session.StateListener
}

// ClientOption configures the client
type ClientOption func(*clientConfig)

// WithLogger sets the logger for all components
func WithLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithConnectionParams enables the request_connection handshake
func WithConnectionParams(p session.ConnectionParams) ClientOption {
	return func(cfg *clientConfig) {
		cfg.params = &p
	}
}

// WithHandshakeAck makes Start wait for the server's acknowledgement
func WithHandshakeAck(ack session.HandshakeAck) ClientOption {
	return func(cfg *clientConfig) {
		cfg.ack = &ack
	}
}

// WithDialer sets the transport dialer
func WithDialer(d session.Dialer) ClientOption {
	return func(cfg *clientConfig) {
		cfg.dialer = d
	}
}

// WithMetrics sets the session metrics collector
func WithMetrics(m session.MetricsCollector) ClientOption {
	return func(cfg *clientConfig) {
		cfg.metrics = m
	}
}

// WithSessionConfig replaces the session timeouts and limits
func WithSessionConfig(sc session.Config) ClientOption {
	return func(cfg *clientConfig) {
		params, ack := cfg.session.Params, cfg.session.Ack
		cfg.session = sc
		if sc.Params == nil {
			cfg.session.Params = params
		}
		if sc.Ack == nil {
			cfg.session.Ack = ack
		}
	}
}

// WithServerID sets the target id used for the handshake and auto echo
func WithServerID(id string) ClientOption {
	return func(cfg *clientConfig) {
		cfg.session.ServerID = id
	}
}

// WithStateListener registers a session transition listener
func WithStateListener(l session.StateListener) ClientOption {
	return func(cfg *clientConfig) {
		cfg.listeners = append(cfg.listeners, l)
	}
}
