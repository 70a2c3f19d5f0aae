package echopeer

import (
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glimte/msgline/container"
	"github.com/glimte/msgline/session"
)

func startServer(t *testing.T, opts ...Option) *Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := New(opts...)
	go s.Serve(ln)
	t.Cleanup(func() { s.Close() })
	require.Eventually(t, func() bool { return s.Addr() != nil }, time.Second, 5*time.Millisecond)
	return s
}

func dial(t *testing.T, s *Server) (net.Conn, *container.FrameReader) {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn, container.NewFrameReader(conn, container.DefaultLimits())
}

func TestServer(t *testing.T) {
	t.Run("echoes with swapped header", func(t *testing.T) {
		s := startServer(t)
		conn, fr := dial(t, s)
		msg := container.New("client", "c1", "echo_server", "", "echo_test", container.NewFieldString("k", "v"))

		_, err := conn.Write(container.Encode(msg))
		require.NoError(t, err)
		reply, err := fr.Read()

		require.NoError(t, err)
		assert.Equal(t, "echo_test", reply.MessageType())
		assert.Equal(t, "client", reply.TargetID())
		assert.Equal(t, "c1", reply.TargetSubID())
		assert.Equal(t, "echo_server", reply.SourceID())
		assert.Equal(t, msg.Data(), reply.Data())
	})

	t.Run("reply type override", func(t *testing.T) {
		s := startServer(t, WithReplyType("unexpected"))
		conn, fr := dial(t, s)

		_, err := conn.Write(container.Encode(container.New("client", "", "", "", "echo_test")))
		require.NoError(t, err)
		reply, err := fr.Read()

		require.NoError(t, err)
		assert.Equal(t, "unexpected", reply.MessageType())
	})

	t.Run("records negotiated params without ack", func(t *testing.T) {
		s := startServer(t)
		conn, fr := dial(t, s)
		params := session.DefaultConnectionParams("echo_network")
		params.SnippingTargets = []string{"alpha"}
		req := session.NewHandshakeRequest("client", "", "unknown", session.Address{Host: "127.0.0.1", Port: 1}, params)

		_, err := conn.Write(container.Encode(req))
		require.NoError(t, err)

		select {
		case got := <-s.Negotiated():
			assert.Equal(t, params, got)
		case <-time.After(2 * time.Second):
			t.Fatal("handshake not recorded")
		}

		// No ack: the next frame is the echo of a follow-up message.
		_, err = conn.Write(container.Encode(container.New("client", "", "", "", "echo_test")))
		require.NoError(t, err)
		reply, err := fr.Read()
		require.NoError(t, err)
		assert.Equal(t, "echo_test", reply.MessageType())
	})

	t.Run("acknowledges handshake", func(t *testing.T) {
		s := startServer(t, WithAck(session.DefaultHandshakeAck(), false), WithServerID("srv", "main"))
		conn, fr := dial(t, s)
		req := session.NewHandshakeRequest("client", "c1", "unknown", session.Address{Host: "127.0.0.1", Port: 1},
			session.DefaultConnectionParams("key"))

		_, err := conn.Write(container.Encode(req))
		require.NoError(t, err)
		ack, err := fr.Read()

		require.NoError(t, err)
		assert.Equal(t, session.MessageTypeConfirmConnection, ack.MessageType())
		assert.Equal(t, "srv", ack.SourceID())
		assert.Equal(t, "main", ack.SourceSubID())
		assert.Equal(t, "client", ack.TargetID())
		f, ok := ack.Field("confirm")
		require.True(t, ok)
		confirmed, err := f.Value.AsBool()
		require.NoError(t, err)
		assert.False(t, confirmed)
	})

	t.Run("inflates requests and deflates replies", func(t *testing.T) {
		cc := container.Compression{BlockSize: 32}
		s := startServer(t, WithCompression(cc))
		conn, fr := dial(t, s)
		msg := container.New("client", "", "echo_server", "", "echo_test",
			container.NewFieldString("k", strings.Repeat("v", 500)))
		packed, err := cc.Compress(msg)
		require.NoError(t, err)

		_, err = conn.Write(container.Encode(packed))
		require.NoError(t, err)
		reply, err := fr.Read()

		require.NoError(t, err)
		assert.True(t, container.IsCompressed(reply))
		plain, err := container.Decompress(reply, container.DefaultLimits())
		require.NoError(t, err)
		assert.Equal(t, msg.Data(), plain.Data())
		assert.Equal(t, "client", plain.TargetID())
	})

	t.Run("drops connection on malformed frame", func(t *testing.T) {
		s := startServer(t)
		conn, fr := dial(t, s)

		_, err := conn.Write([]byte("@header={[9,x];};@data={};"))
		require.NoError(t, err)

		_, err = fr.Read()
		assert.Error(t, err)
	})

	t.Run("records handler metrics", func(t *testing.T) {
		m := &handledLog{}
		s := startServer(t, WithMetrics(m))
		conn, fr := dial(t, s)

		_, err := conn.Write(container.Encode(container.New("client", "", "", "", "echo_test")))
		require.NoError(t, err)
		_, err = fr.Read()
		require.NoError(t, err)

		require.Eventually(t, func() bool { return len(m.types()) == 1 }, time.Second, 5*time.Millisecond)
		assert.Equal(t, []string{"echo_test"}, m.types())
	})

	t.Run("close is idempotent", func(t *testing.T) {
		s := startServer(t)
		dial(t, s)

		assert.NoError(t, s.Close())
		assert.NoError(t, s.Close())
	})
}

type handledLog struct {
	mu    sync.Mutex
	names []string
}

func (h *handledLog) RecordHandled(messageType string, _ time.Duration, _ bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.names = append(h.names, messageType)
}

func (h *handledLog) types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.names...)
}
