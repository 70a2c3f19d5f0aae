// Package messaging routes received containers to handlers by message type.
//
// Handlers are registered per message type string on a Dispatcher; every
// handler for a type runs for each matching container, wrapped by the
// configured middleware. Unknown types go to the fallback handler when one
// is set and fail with ErrNoHandler otherwise.
//
//	d := messaging.NewDispatcher(messaging.WithMiddleware(messaging.LoggingMiddleware(logger)))
//	d.RegisterFunc("echo_test", func(ctx context.Context, c *container.Container) error {
//		reply, err := messaging.EchoReply(c, "")
//		if err != nil {
//			return err
//		}
//		return client.SendPacket(ctx, reply)
//	})
package messaging
