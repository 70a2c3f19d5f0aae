package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	msgline "github.com/glimte/msgline"
	"github.com/glimte/msgline/container"
	"github.com/glimte/msgline/internal/reliability"
	"github.com/glimte/msgline/messaging"
)

// ContentType marks an AMQP body as an encoded container
const ContentType = "text/x-msgline-container"

// AMQP header keys carrying the container routing header
const (
	HeaderTargetID    = "msgline-target-id"
	HeaderTargetSubID = "msgline-target-sub-id"
	HeaderSourceID    = "msgline-source-id"
	HeaderSourceSubID = "msgline-source-sub-id"
	HeaderMessageType = "msgline-message-type"
	HeaderVersion     = "msgline-version"
)

// ErrDeliveriesClosed is returned by Consume when the broker closes the
// delivery channel, usually because the AMQP channel died.
var ErrDeliveriesClosed = errors.New("bridge: delivery channel closed")

// Channel is the part of *amqp.Channel the relay needs
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
}

// Relay moves containers between a session and an exchange
type Relay struct {
	ch          Channel
	exchange    string
	policy      reliability.RetryPolicy
	logger      *slog.Logger
	appID       string
	consumerTag string
	persistent  bool
}

// Option configures a Relay
type Option func(*Relay)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

// WithRetryPolicy sets the policy used when a publish fails
func WithRetryPolicy(policy reliability.RetryPolicy) Option {
	return func(r *Relay) {
		r.policy = policy
	}
}

// WithAppID stamps published messages with an application id
func WithAppID(id string) Option {
	return func(r *Relay) {
		r.appID = id
	}
}

// WithConsumerTag sets the consumer tag used by Consume
func WithConsumerTag(tag string) Option {
	return func(r *Relay) {
		r.consumerTag = tag
	}
}

// WithPersistent publishes with persistent delivery mode
func WithPersistent(persistent bool) Option {
	return func(r *Relay) {
		r.persistent = persistent
	}
}

// NewRelay creates a relay publishing to exchange over ch
func NewRelay(ch Channel, exchange string, opts ...Option) *Relay {
	r := &Relay{
		ch:          ch,
		exchange:    exchange,
		policy:      reliability.NewExponentialBackoff(100*time.Millisecond, 5*time.Second, 2.0, 3),
		logger:      slog.Default(),
		consumerTag: "msgline-relay-" + uuid.NewString(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HeaderTable maps a container header onto AMQP headers
func HeaderTable(h container.Header) amqp.Table {
	return amqp.Table{
		HeaderTargetID:    h.TargetID,
		HeaderTargetSubID: h.TargetSubID,
		HeaderSourceID:    h.SourceID,
		HeaderSourceSubID: h.SourceSubID,
		HeaderMessageType: h.MessageType,
		HeaderVersion:     string(h.Version),
	}
}

// Forward publishes c to the exchange with its message type as routing key
func (r *Relay) Forward(ctx context.Context, c *container.Container) error {
	if c == nil {
		return fmt.Errorf("bridge: forward: nil container")
	}
	msg := amqp.Publishing{
		ContentType: ContentType,
		MessageId:   uuid.NewString(),
		Timestamp:   time.Now(),
		Type:        c.MessageType(),
		AppId:       r.appID,
		Headers:     HeaderTable(c.Header()),
		Body:        container.Encode(c),
	}
	if r.persistent {
		msg.DeliveryMode = amqp.Persistent
	}

	err := reliability.Retry(ctx, "publish", r.policy, func() error {
		return r.ch.PublishWithContext(ctx, r.exchange, c.MessageType(), false, false, msg)
	})
	if err != nil {
		return fmt.Errorf("bridge: forward %s to %s: %w", c.MessageType(), r.exchange, err)
	}

	r.logger.Debug("forwarded container",
		"exchange", r.exchange,
		"messageType", c.MessageType(),
		"messageId", msg.MessageId,
		"bytes", len(msg.Body))
	return nil
}

// Consume decodes deliveries from queue and hands them to handler until ctx
// is done. Undecodable bodies are dropped, handler failures are requeued.
func (r *Relay) Consume(ctx context.Context, queue string, handler messaging.MessageHandler) error {
	deliveries, err := r.ch.Consume(queue, r.consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("bridge: consume %s: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			r.handleDelivery(ctx, queue, d, handler)
		}
	}
}

func (r *Relay) handleDelivery(ctx context.Context, queue string, d amqp.Delivery, handler messaging.MessageHandler) {
	logger := r.logger.With("queue", queue, "messageId", d.MessageId)

	c, err := container.Decode(d.Body)
	if err != nil {
		logger.Warn("dropping undecodable delivery", "error", err)
		if err := d.Nack(false, false); err != nil {
			logger.Error("nack failed", "error", err)
		}
		return
	}

	if err := handler.Handle(ctx, c); err != nil {
		logger.Warn("handler failed, requeueing", "messageType", c.MessageType(), "error", err)
		if err := d.Nack(false, true); err != nil {
			logger.Error("nack failed", "error", err)
		}
		return
	}

	if err := d.Ack(false); err != nil {
		logger.Error("ack failed", "error", err)
	}
}

// Attach relays in both directions for client until ctx is done or either
// side fails: received containers are forwarded to the exchange and
// deliveries from queue are sent over the session. An empty queue relays
// outbound only. A publish on a closed channel ends Attach with an error
// matching amqp.ErrClosed.
func (r *Relay) Attach(ctx context.Context, client *msgline.Client, queue string) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	forward := messaging.MessageHandlerFunc(func(ctx context.Context, c *container.Container) error {
		err := r.Forward(ctx, c)
		if errors.Is(err, amqp.ErrClosed) {
			cancel(err)
		}
		return err
	})
	outbound := messaging.NewDispatcher(
		messaging.WithDispatcherLogger(r.logger),
		messaging.WithMiddleware(messaging.RecoveryMiddleware()),
		messaging.WithFallback(forward),
	)
	inbound := messaging.MessageHandlerFunc(func(ctx context.Context, c *container.Container) error {
		return client.SendPacket(ctx, c)
	})

	workers := 1
	errs := make(chan error, 2)
	go func() { errs <- client.Serve(ctx, outbound) }()
	if queue != "" {
		workers++
		go func() { errs <- r.Consume(ctx, queue, inbound) }()
	}

	results := []error{<-errs}
	cancel(nil)
	for i := 1; i < workers; i++ {
		results = append(results, <-errs)
	}
	if cause := context.Cause(ctx); errors.Is(cause, amqp.ErrClosed) {
		results = append(results, cause)
	}
	return errors.Join(results...)
}

// channelLost reports whether err means the AMQP channel under a relay died.
func channelLost(err error) bool {
	return errors.Is(err, ErrDeliveriesClosed) || errors.Is(err, amqp.ErrClosed)
}

// Reattach keeps client attached to the broker across reconnects. open
// builds a relay on a fresh channel; it runs once up front and again after
// each signal on up that follows a lost channel. Any other failure ends
// Reattach, and so does ctx.
func Reattach(ctx context.Context, client *msgline.Client, queue string, up <-chan struct{}, open func() (*Relay, error)) error {
	relay, err := open()
	if err != nil {
		return err
	}

	for {
		err := relay.Attach(ctx, client, queue)
		if ctx.Err() != nil {
			return nil
		}
		if !channelLost(err) {
			return err
		}
		relay.logger.Warn("broker channel lost, waiting for reconnect", "queue", queue, "error", err)

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-up:
			}
			next, err := open()
			if err == nil {
				relay = next
				break
			}
			relay.logger.Warn("failed to reopen relay", "error", err)
		}
		relay.logger.Info("relay reattached", "exchange", relay.exchange, "queue", queue)
	}
}
