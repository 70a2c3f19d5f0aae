package session

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/glimte/msgline/container"
)

// SessionType selects the kind of line a session negotiates.
type SessionType int16

// MessageLine is the session type used for container exchange.
const MessageLine SessionType = 1

// ConnectionParams are the values negotiated by the request_connection
// handshake. A session without params skips negotiation.
type ConnectionParams struct {
	ConnectionKey    string
	AutoEcho         bool
	AutoEchoInterval uint16 // seconds
	SessionType      SessionType
	BridgeMode       bool
	SnippingTargets  []string
}

// DefaultConnectionParams returns params for a plain message line.
func DefaultConnectionParams(connectionKey string) ConnectionParams {
	return ConnectionParams{
		ConnectionKey:    connectionKey,
		AutoEchoInterval: 1,
		SessionType:      MessageLine,
	}
}

// HandshakeAck enables waiting for the server's answer to request_connection.
type HandshakeAck struct {
	// MessageType the answer must carry.
	MessageType string
	// ConfirmField is a bool field; false rejects the session. A missing
	// field accepts it.
	ConfirmField string
}

// DefaultHandshakeAck expects a confirm_connection reply with a confirm flag.
func DefaultHandshakeAck() HandshakeAck {
	return HandshakeAck{MessageType: MessageTypeConfirmConnection, ConfirmField: "confirm"}
}

// Config holds session timeouts and negotiation settings.
type Config struct {
	ConnectTimeout   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// EchoInterval overrides the negotiated auto echo interval when set.
	EchoInterval time.Duration
	// ServerID is the target id used for handshake and echo containers.
	ServerID string
	Params   *ConnectionParams
	Ack      *HandshakeAck
	Limits   container.Limits
	// Compression deflates outgoing data sections when set. Incoming
	// compressed containers are always inflated.
	Compression *container.Compression
}

// DefaultConfig returns the defaults used by New.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   5 * time.Second,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     15 * time.Second,
		ServerID:         "unknown",
		Limits:           container.DefaultLimits(),
	}
}

// Address is the (host, port) pair of a server.
type Address struct {
	Host string
	Port int
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// ParseAddress parses "host:port".
func ParseAddress(s string) (Address, error) {
	host, portText, err := net.SplitHostPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("session: parse address %q: %w", s, err)
	}
	port, err := strconv.Atoi(portText)
	if err != nil || port < 0 || port > 65535 {
		return Address{}, fmt.Errorf("session: parse address %q: invalid port", s)
	}
	return Address{Host: host, Port: port}, nil
}
