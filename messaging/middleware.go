package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/glimte/msgline/container"
)

// Sender writes a container to a peer. *session.Session satisfies it.
type Sender interface {
	Send(ctx context.Context, c *container.Container) error
}

// HandlerMetrics records handler outcomes.
type HandlerMetrics interface {
	RecordHandled(messageType string, duration time.Duration, success bool)
}

// LoggingMiddleware logs every handled container
func LoggingMiddleware(logger *slog.Logger) MiddlewareFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, c *container.Container, next MessageHandler) error {
		start := time.Now()
		err := next.Handle(ctx, c)
		if err != nil {
			logger.Error("message processing failed",
				"messageType", c.MessageType(),
				"source", c.SourceID(),
				"duration", time.Since(start),
				"error", err)
			return err
		}
		logger.Debug("message processed",
			"messageType", c.MessageType(),
			"source", c.SourceID(),
			"duration", time.Since(start))
		return nil
	}
}

// MetricsMiddleware reports handler duration and outcome
func MetricsMiddleware(m HandlerMetrics) MiddlewareFunc {
	return func(ctx context.Context, c *container.Container, next MessageHandler) error {
		start := time.Now()
		err := next.Handle(ctx, c)
		m.RecordHandled(c.MessageType(), time.Since(start), err == nil)
		return err
	}
}

// RecoveryMiddleware turns handler panics into errors
func RecoveryMiddleware() MiddlewareFunc {
	return func(ctx context.Context, c *container.Container, next MessageHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("messaging: handler panic for %q: %v", c.MessageType(), r)
			}
		}()
		return next.Handle(ctx, c)
	}
}

// EchoHandler replies to every container with a copy whose source and
// target are swapped. A non-empty replyType replaces the message type.
func EchoHandler(sender Sender, replyType string) MessageHandler {
	return MessageHandlerFunc(func(ctx context.Context, c *container.Container) error {
		reply, err := EchoReply(c, replyType)
		if err != nil {
			return err
		}
		return sender.Send(ctx, reply)
	})
}

// EchoReply builds the reply EchoHandler sends.
func EchoReply(c *container.Container, replyType string) (*container.Container, error) {
	if replyType == "" {
		reply := c.Copy(true)
		reply.SwapHeader()
		return reply, nil
	}
	h := c.Header()
	h.MessageType = replyType
	reply, err := container.FromHeader(h, c.Data()...)
	if err != nil {
		return nil, fmt.Errorf("messaging: echo reply: %w", err)
	}
	reply.SwapHeader()
	return reply, nil
}
