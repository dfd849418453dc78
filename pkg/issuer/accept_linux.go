//go:build linux

package issuer

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// pollTimeoutMs bounds each EpollWait so the accept thread can check
// ctx.Done() and join the day barrier between poll cycles, per spec §4.4
// ("participates in the day barrier on the accept thread: between poll
// cycles, check and, if needed, join").
const pollTimeoutMs = 200

// acceptLoop binds a non-blocking Unix domain socket at s.cfg.SocketPath
// and drives it with a single-fd epoll set, matching the edge-triggered
// accept pattern the spec calls for. Accepted connections are wrapped as
// net.Conn and handed to the handler pool via s.connCh.
func (s *Server) acceptLoop(ctx context.Context) error {
	_ = os.Remove(s.cfg.SocketPath)

	lfd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("issuer: socket: %w", err)
	}
	defer unix.Close(lfd)

	addr := &unix.SockaddrUnix{Name: s.cfg.SocketPath}
	if err := unix.Bind(lfd, addr); err != nil {
		return fmt.Errorf("issuer: bind %q: %w", s.cfg.SocketPath, err)
	}
	_ = os.Chmod(s.cfg.SocketPath, 0o600)

	if err := unix.Listen(lfd, s.cfg.PoolSize*4); err != nil {
		return fmt.Errorf("issuer: listen: %w", err)
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return fmt.Errorf("issuer: epoll_create1: %w", err)
	}
	defer unix.Close(epfd)

	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(lfd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, lfd, &ev); err != nil {
		return fmt.Errorf("issuer: epoll_ctl: %w", err)
	}

	events := make([]unix.EpollEvent, 16)
	lastBarrierCheck := time.Now()

	for {
		if s.shouldStop(ctx) {
			return nil
		}

		if time.Since(lastBarrierCheck) > pollTimeoutMs*time.Millisecond {
			s.participant.MaybeJoin(func() bool { return s.shouldStop(ctx) })
			lastBarrierCheck = time.Now()
		}

		n, err := unix.EpollWait(epfd, events, pollTimeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("issuer: epoll_wait: %w", err)
		}

		for i := 0; i < n; i++ {
			if int(events[i].Fd) != lfd {
				continue
			}
			s.drainAccepts(lfd)
		}
	}
}

// drainAccepts calls accept4 until EAGAIN, matching edge-triggered
// semantics (a single EPOLLIN notification may represent more than one
// pending connection).
func (s *Server) drainAccepts(lfd int) {
	for {
		nfd, _, err := unix.Accept4(lfd, unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			if err == unix.EINTR {
				continue
			}
			return
		}

		f := os.NewFile(uintptr(nfd), "issuer-conn")
		conn, err := net.FileConn(f)
		f.Close()
		if err != nil {
			unix.Close(nfd)
			continue
		}

		select {
		case s.connCh <- conn:
		default:
			// Handler pool and its backlog buffer are saturated; drop
			// rather than block the accept thread indefinitely.
			conn.Close()
		}
	}
}
