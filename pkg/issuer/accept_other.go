//go:build !linux

package issuer

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"
)

// acceptLoop is the non-Linux fallback: a plain net.Listener instead of a
// raw epoll set. Still honors the same "check ctx, join barrier between
// poll cycles" shape via a short accept deadline set with SetDeadline on
// the Unix listener.
func (s *Server) acceptLoop(ctx context.Context) error {
	_ = os.Remove(s.cfg.SocketPath)

	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("issuer: listen %q: %w", s.cfg.SocketPath, err)
	}
	defer ln.Close()
	_ = os.Chmod(s.cfg.SocketPath, 0o600)

	type deadliner interface{ SetDeadline(time.Time) error }

	lastBarrierCheck := time.Now()
	for {
		if s.shouldStop(ctx) {
			return nil
		}

		if time.Since(lastBarrierCheck) > pollTimeoutMs*time.Millisecond {
			s.participant.MaybeJoin(func() bool { return s.shouldStop(ctx) })
			lastBarrierCheck = time.Now()
		}

		if dl, ok := ln.(deadliner); ok {
			_ = dl.SetDeadline(time.Now().Add(pollTimeoutMs * time.Millisecond))
		}

		conn, err := ln.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("issuer: accept: %w", err)
		}

		select {
		case s.connCh <- conn:
		default:
			conn.Close()
		}
	}
}

const pollTimeoutMs = 200
