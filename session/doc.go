// Package session runs the msgline client session over a byte stream.
//
// A session moves through Disconnected, Connecting, Negotiating, Connected,
// Closing and Closed. Negotiation is optional: when ConnectionParams are
// configured, Start sends a request_connection container carrying them and
// the session is Connected once it is written, or once the server's
// acknowledgement arrives when a HandshakeAck is configured.
//
//	s := session.New("echo_client", "",
//		session.WithConnectionParams(session.DefaultConnectionParams("echo_network")))
//	if err := s.Start(ctx, session.Address{Host: "127.0.0.1", Port: 9876}); err != nil {
//		return err
//	}
//	defer s.Stop()
//
// Stop may be called from any goroutine and unblocks a pending Recv.
package session
