package session

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/glimte/msgline/container"
)

// Control message types.
const (
	MessageTypeRequestConnection = "request_connection"
	MessageTypeConfirmConnection = "confirm_connection"
	MessageTypeEchoTest          = "echo_test"
)

// Negotiation field names, in wire order.
const (
	FieldConnectionKey    = "connection_key"
	FieldAutoEcho         = "auto_echo"
	FieldAutoEchoInterval = "auto_echo_interval_seconds"
	FieldSessionType      = "session_type"
	FieldBridgeMode       = "bridge_mode"
	FieldSnippingTargets  = "snipping_targets"
)

// NewHandshakeRequest builds the request_connection container a client sends
// to negotiate p.
func NewHandshakeRequest(sourceID, sourceSubID, serverID string, addr Address, p ConnectionParams) *container.Container {
	targets := make([]container.Value, 0, len(p.SnippingTargets))
	for _, t := range p.SnippingTargets {
		targets = append(targets, container.StringValue(t))
	}
	return container.New(sourceID, sourceSubID, serverID, addr.String(), MessageTypeRequestConnection,
		container.NewFieldString(FieldConnectionKey, p.ConnectionKey),
		container.NewFieldBool(FieldAutoEcho, p.AutoEcho),
		container.NewFieldUShort(FieldAutoEchoInterval, p.AutoEchoInterval),
		container.NewFieldShort(FieldSessionType, int16(p.SessionType)),
		container.NewFieldBool(FieldBridgeMode, p.BridgeMode),
		container.NewFieldArray(FieldSnippingTargets, targets...),
	)
}

// ParseConnectionParams reads negotiation fields from a request_connection
// container. Missing fields keep their zero value; a field with the wrong
// kind is an error.
func ParseConnectionParams(c *container.Container) (ConnectionParams, error) {
	var p ConnectionParams
	if c.MessageType() != MessageTypeRequestConnection {
		return p, fmt.Errorf("session: not a %s message: %q", MessageTypeRequestConnection, c.MessageType())
	}

	var err error
	lookup := func(name string) (container.Value, bool) {
		f, ok := c.LastField(name)
		return f.Value, ok
	}
	if v, ok := lookup(FieldConnectionKey); ok {
		if p.ConnectionKey, err = v.AsString(); err != nil {
			return p, fmt.Errorf("session: %s: %w", FieldConnectionKey, err)
		}
	}
	if v, ok := lookup(FieldAutoEcho); ok {
		if p.AutoEcho, err = v.AsBool(); err != nil {
			return p, fmt.Errorf("session: %s: %w", FieldAutoEcho, err)
		}
	}
	if v, ok := lookup(FieldAutoEchoInterval); ok {
		n, err := v.AsUint()
		if err != nil {
			return p, fmt.Errorf("session: %s: %w", FieldAutoEchoInterval, err)
		}
		if n > math.MaxUint16 {
			return p, fmt.Errorf("session: %s: %w: %d", FieldAutoEchoInterval, ErrParamOutOfRange, n)
		}
		p.AutoEchoInterval = uint16(n)
	}
	if v, ok := lookup(FieldSessionType); ok {
		n, err := v.AsInt()
		if err != nil {
			return p, fmt.Errorf("session: %s: %w", FieldSessionType, err)
		}
		if n < math.MinInt16 || n > math.MaxInt16 {
			return p, fmt.Errorf("session: %s: %w: %d", FieldSessionType, ErrParamOutOfRange, n)
		}
		p.SessionType = SessionType(n)
	}
	if v, ok := lookup(FieldBridgeMode); ok {
		if p.BridgeMode, err = v.AsBool(); err != nil {
			return p, fmt.Errorf("session: %s: %w", FieldBridgeMode, err)
		}
	}
	if v, ok := lookup(FieldSnippingTargets); ok {
		items, err := v.Items()
		if err != nil {
			return p, fmt.Errorf("session: %s: %w", FieldSnippingTargets, err)
		}
		for _, item := range items {
			s, err := item.Value.AsString()
			if err != nil {
				return p, fmt.Errorf("session: %s: %w", FieldSnippingTargets, err)
			}
			p.SnippingTargets = append(p.SnippingTargets, s)
		}
	}
	return p, nil
}

// NewHandshakeAck builds the reply a server sends to a request_connection.
func NewHandshakeAck(request *container.Container, ack HandshakeAck, confirm bool) *container.Container {
	reply := container.New(request.TargetID(), request.TargetSubID(), request.SourceID(), request.SourceSubID(), ack.MessageType)
	if ack.ConfirmField != "" {
		reply.Add(container.NewFieldBool(ack.ConfirmField, confirm))
	}
	return reply
}

// negotiate sends the handshake and, when acks are configured, waits for one.
func (s *Session) negotiate(ctx context.Context, addr Address) error {
	req := NewHandshakeRequest(s.localID, s.localSubID, s.cfg.ServerID, addr, *s.cfg.Params)
	if err := s.Send(ctx, req); err != nil {
		return fmt.Errorf("session: send handshake: %w", err)
	}
	if s.cfg.Ack == nil {
		return nil
	}

	waitCtx := ctx
	if s.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
		defer cancel()
	}
	reply, err := s.Recv(waitCtx)
	if err != nil {
		if errors.Is(err, ErrConnectionLost) {
			return err
		}
		return &HandshakeError{Reason: "no acknowledgement", Err: err}
	}
	return checkAck(reply, *s.cfg.Ack)
}

func checkAck(reply *container.Container, ack HandshakeAck) error {
	if reply.MessageType() != ack.MessageType {
		return &HandshakeError{MessageType: reply.MessageType(), Reason: "unexpected acknowledgement"}
	}
	if ack.ConfirmField == "" {
		return nil
	}
	f, ok := reply.LastField(ack.ConfirmField)
	if !ok {
		return nil
	}
	confirmed, err := f.Value.AsBool()
	if err != nil {
		return &HandshakeError{MessageType: reply.MessageType(), Reason: "invalid confirm field", Err: err}
	}
	if !confirmed {
		return &HandshakeError{MessageType: reply.MessageType(), Reason: "refused by server"}
	}
	return nil
}
