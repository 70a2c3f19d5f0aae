package bridge

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	msgline "github.com/glimte/msgline"
	"github.com/glimte/msgline/container"
	"github.com/glimte/msgline/internal/echopeer"
	"github.com/glimte/msgline/internal/reliability"
	"github.com/glimte/msgline/messaging"
	"github.com/glimte/msgline/session"
)

type mockChannel struct {
	mock.Mock
}

func (m *mockChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return m.Called(exchange, key, msg).Error(0)
}

func (m *mockChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	a := m.Called(queue, autoAck)
	ch, _ := a.Get(0).(chan amqp.Delivery)
	return ch, a.Error(1)
}

type mockAcknowledger struct {
	mock.Mock
}

func (m *mockAcknowledger) Ack(tag uint64, multiple bool) error {
	return m.Called(tag, multiple).Error(0)
}

func (m *mockAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	return m.Called(tag, multiple, requeue).Error(0)
}

func (m *mockAcknowledger) Reject(tag uint64, requeue bool) error {
	return m.Called(tag, requeue).Error(0)
}

func fastRetry() Option {
	return WithRetryPolicy(reliability.NewFixedDelay(time.Millisecond, 2))
}

func TestRelayForward(t *testing.T) {
	t.Run("publishes encoded container", func(t *testing.T) {
		ch := &mockChannel{}
		var published amqp.Publishing
		ch.On("PublishWithContext", "msgline", "echo_test", mock.Anything).
			Run(func(args mock.Arguments) { published = args.Get(2).(amqp.Publishing) }).
			Return(nil)
		relay := NewRelay(ch, "msgline", WithAppID("echo"), WithPersistent(true))
		c := container.New("client", "c1", "server", "s1", "echo_test", container.NewFieldInt("n", 7))

		err := relay.Forward(context.Background(), c)

		require.NoError(t, err)
		ch.AssertExpectations(t)
		assert.Equal(t, ContentType, published.ContentType)
		assert.Equal(t, "echo_test", published.Type)
		assert.Equal(t, "echo", published.AppId)
		assert.Equal(t, amqp.Persistent, published.DeliveryMode)
		assert.NotEmpty(t, published.MessageId)
		assert.Equal(t, container.Encode(c), published.Body)
		assert.Equal(t, "server", published.Headers[HeaderTargetID])
		assert.Equal(t, "s1", published.Headers[HeaderTargetSubID])
		assert.Equal(t, "client", published.Headers[HeaderSourceID])
		assert.Equal(t, "c1", published.Headers[HeaderSourceSubID])
		assert.Equal(t, "echo_test", published.Headers[HeaderMessageType])
		assert.Equal(t, "1.0.0.0", published.Headers[HeaderVersion])
	})

	t.Run("retries failed publish", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("PublishWithContext", "msgline", "echo_test", mock.Anything).Return(errors.New("channel busy")).Once()
		ch.On("PublishWithContext", "msgline", "echo_test", mock.Anything).Return(nil).Once()
		relay := NewRelay(ch, "msgline", fastRetry())

		err := relay.Forward(context.Background(), container.New("a", "", "b", "", "echo_test"))

		assert.NoError(t, err)
		ch.AssertNumberOfCalls(t, "PublishWithContext", 2)
	})

	t.Run("gives up after policy", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("PublishWithContext", "msgline", "echo_test", mock.Anything).Return(amqp.ErrClosed)
		relay := NewRelay(ch, "msgline", fastRetry())

		err := relay.Forward(context.Background(), container.New("a", "", "b", "", "echo_test"))

		assert.ErrorIs(t, err, amqp.ErrClosed)
		assert.ErrorIs(t, err, reliability.ErrMaxRetriesExceeded)
		ch.AssertNumberOfCalls(t, "PublishWithContext", 3)
	})

	t.Run("nil container", func(t *testing.T) {
		relay := NewRelay(&mockChannel{}, "msgline")

		assert.Error(t, relay.Forward(context.Background(), nil))
	})
}

func TestRelayConsume(t *testing.T) {
	delivery := func(ack *mockAcknowledger, tag uint64, body []byte) amqp.Delivery {
		return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Body: body}
	}
	echo := container.Encode(container.New("a", "", "b", "", "echo_test"))

	t.Run("acks nacks and requeues", func(t *testing.T) {
		deliveries := make(chan amqp.Delivery, 3)
		ch := &mockChannel{}
		ch.On("Consume", "inbox", false).Return(deliveries, nil)
		ack := &mockAcknowledger{}
		ack.On("Ack", uint64(1), false).Return(nil)
		ack.On("Nack", uint64(2), false, false).Return(nil)
		ack.On("Nack", uint64(3), false, true).Return(nil)

		calls := 0
		handler := messaging.MessageHandlerFunc(func(ctx context.Context, c *container.Container) error {
			calls++
			if calls > 1 {
				return errors.New("downstream unavailable")
			}
			assert.Equal(t, "echo_test", c.MessageType())
			return nil
		})

		deliveries <- delivery(ack, 1, echo)
		deliveries <- delivery(ack, 2, []byte("@header={[9,x];};"))
		deliveries <- delivery(ack, 3, echo)
		close(deliveries)

		err := NewRelay(ch, "msgline").Consume(context.Background(), "inbox", handler)

		assert.ErrorIs(t, err, ErrDeliveriesClosed)
		assert.Equal(t, 2, calls)
		ack.AssertExpectations(t)
	})

	t.Run("stops on context", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("Consume", "inbox", false).Return(make(chan amqp.Delivery), nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := NewRelay(ch, "msgline").Consume(ctx, "inbox", messaging.MessageHandlerFunc(
			func(context.Context, *container.Container) error { return nil }))

		assert.NoError(t, err)
	})

	t.Run("consume failure", func(t *testing.T) {
		ch := &mockChannel{}
		ch.On("Consume", "inbox", false).Return(nil, errors.New("no queue"))

		err := NewRelay(ch, "msgline").Consume(context.Background(), "inbox", nil)

		assert.ErrorContains(t, err, "no queue")
	})
}

// startedClient returns a client connected to a fresh echo peer.
func startedClient(t *testing.T, ctx context.Context) *msgline.Client {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	peer := echopeer.New()
	go peer.Serve(ln)
	t.Cleanup(func() { peer.Close() })
	addr, err := session.ParseAddress(ln.Addr().String())
	require.NoError(t, err)

	client := msgline.NewClient("relay", "")
	require.NoError(t, client.Start(ctx, addr))
	t.Cleanup(func() { client.Stop() })
	return client
}

func TestRelayAttach(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := startedClient(t, ctx)

	deliveries := make(chan amqp.Delivery, 1)
	published := make(chan amqp.Publishing, 1)
	ch := &mockChannel{}
	ch.On("Consume", "inbox", false).Return(deliveries, nil)
	ch.On("PublishWithContext", "msgline", "echo_test", mock.Anything).
		Run(func(args mock.Arguments) { published <- args.Get(2).(amqp.Publishing) }).
		Return(nil)
	ack := &mockAcknowledger{}
	ack.On("Ack", uint64(1), false).Return(nil)

	attachCtx, stop := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- NewRelay(ch, "msgline").Attach(attachCtx, client, "inbox") }()

	out := container.New("relay", "", "echo_server", "", "echo_test", container.NewFieldString("k", "v"))
	deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: container.Encode(out)}

	select {
	case msg := <-published:
		back, err := container.Decode(msg.Body)
		require.NoError(t, err)
		assert.Equal(t, "relay", back.TargetID())
		assert.Equal(t, out.Data(), back.Data())
	case <-ctx.Done():
		t.Fatal("echo was never forwarded")
	}

	stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Attach did not return")
	}
	ack.AssertExpectations(t)
}

func TestRelayAttachOutboundOnly(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client := startedClient(t, ctx)

	ch := &mockChannel{}
	ch.On("PublishWithContext", "msgline", "echo_test", mock.Anything).Return(amqp.ErrClosed)
	done := make(chan error, 1)
	go func() { done <- NewRelay(ch, "msgline", fastRetry()).Attach(ctx, client, "") }()

	require.NoError(t, client.SendPacket(ctx, container.New("relay", "", "echo_server", "", "echo_test")))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, amqp.ErrClosed)
	case <-ctx.Done():
		t.Fatal("Attach kept running on a closed channel")
	}
	ch.AssertNotCalled(t, "Consume", mock.Anything, mock.Anything)
}

func TestReattach(t *testing.T) {
	t.Run("reopens after the channel is lost", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client := startedClient(t, ctx)

		dead := make(chan amqp.Delivery)
		close(dead)
		first := &mockChannel{}
		first.On("Consume", "inbox", false).Return(dead, nil)

		consuming := make(chan struct{})
		second := &mockChannel{}
		second.On("Consume", "inbox", false).
			Run(func(mock.Arguments) { close(consuming) }).
			Return(make(chan amqp.Delivery), nil)

		channels := []*mockChannel{first, second}
		opened := 0
		open := func() (*Relay, error) {
			ch := channels[opened]
			opened++
			return NewRelay(ch, "msgline"), nil
		}

		up := make(chan struct{}, 1)
		runCtx, stop := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() { done <- Reattach(runCtx, client, "inbox", up, open) }()

		up <- struct{}{}
		select {
		case <-consuming:
		case <-ctx.Done():
			t.Fatal("relay was not reopened")
		}

		stop()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("Reattach did not return")
		}
		assert.Equal(t, 2, opened)
	})

	t.Run("other failures are final", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client := startedClient(t, ctx)

		ch := &mockChannel{}
		ch.On("Consume", "inbox", false).Return(nil, errors.New("no queue"))
		opened := 0
		open := func() (*Relay, error) {
			opened++
			return NewRelay(ch, "msgline"), nil
		}

		err := Reattach(ctx, client, "inbox", make(chan struct{}), open)

		assert.ErrorContains(t, err, "no queue")
		assert.Equal(t, 1, opened)
	})

	t.Run("first open failure is returned", func(t *testing.T) {
		err := Reattach(context.Background(), nil, "inbox", nil, func() (*Relay, error) {
			return nil, errors.New("channel refused")
		})

		assert.ErrorContains(t, err, "channel refused")
	})
}
