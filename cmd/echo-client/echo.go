package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	msgline "github.com/glimte/msgline"
	"github.com/glimte/msgline/container"
	"github.com/glimte/msgline/internal/reliability"
	"github.com/glimte/msgline/session"
)

// ErrUnexpectedReply is returned when the server answers an echo_test with
// another message type.
var ErrUnexpectedReply = errors.New("unexpected reply")

// startClient retries Start with exponential backoff. A rejected handshake
// is final.
func startClient(ctx context.Context, client *msgline.Client, addr session.Address, attempts int, logger *slog.Logger) error {
	policy := reliability.NewExponentialBackoff(200*time.Millisecond, 5*time.Second, 2.0, attempts-1)

	return reliability.Retry(ctx, "start", policy, func() error {
		err := client.Start(ctx, addr)
		switch {
		case err == nil:
			logger.Info("session started", "addr", addr.String(), "session", client.Session().ID())
			return nil
		case errors.Is(err, session.ErrHandshakeRejected):
			return reliability.Permanent(err)
		default:
			logger.Warn("start failed", "addr", addr.String(), "error", err)
			return err
		}
	})
}

// runEcho sends count echo_test containers (forever when count is 0) and
// prints every reply. A reply of another type stops the client.
func runEcho(ctx context.Context, client *msgline.Client, serverID string, count int, interval time.Duration, out io.Writer, logger *slog.Logger) error {
	const expected = session.MessageTypeEchoTest

	for i := 0; count == 0 || i < count; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}

		msg := client.NewContainer(serverID, "", expected, container.NewFieldInt("sequence", int32(i)))
		if err := client.SendPacket(ctx, msg); err != nil {
			return err
		}
		reply, err := client.RecvPacket(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, reply.String())

		if reply.MessageType() != expected {
			logger.Warn("unexpected reply, stopping", "messageType", reply.MessageType())
			if err := client.Stop(); err != nil {
				return err
			}
			return fmt.Errorf("%w: got %q, want %q", ErrUnexpectedReply, reply.MessageType(), expected)
		}
	}
	return nil
}
