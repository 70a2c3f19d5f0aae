package session

import (
	"context"
	"time"

	"github.com/glimte/msgline/container"
)

func (s *Session) echoInterval() time.Duration {
	if s.cfg.EchoInterval > 0 {
		return s.cfg.EchoInterval
	}
	if s.cfg.Params != nil && s.cfg.Params.AutoEchoInterval > 0 {
		return time.Duration(s.cfg.Params.AutoEchoInterval) * time.Second
	}
	return time.Second
}

// startEcho sends echo_test to the server every interval until the session
// leaves Connected. Replies reach the caller through Recv.
func (s *Session) startEcho(addr Address, interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		cancel()
		return
	}
	s.echoStop = cancel
	id := s.id
	s.mu.Unlock()

	logger := s.logger.With("session", id)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			echo := container.New(s.localID, s.localSubID, s.cfg.ServerID, addr.String(), MessageTypeEchoTest)
			if err := s.Send(ctx, echo); err != nil {
				if ctx.Err() == nil {
					logger.Warn("auto echo stopped", "error", err)
				}
				return
			}
			logger.Debug("auto echo sent")
		}
	}()
}
