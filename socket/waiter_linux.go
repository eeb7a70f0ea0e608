//go:build linux

package socket

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// epollWaiter is the Linux platformWaiter: one epoll instance shared by every
// socket a worker owns, edge-triggered so a single readiness notification
// survives until the pending operation actually drains it.
type epollWaiter struct {
	epfd int

	// fds maps the raw descriptor back to its Socket, since EpollEvent only
	// carries an int32 back. Single-writer (the owning worker goroutine), so
	// no locking.
	fds map[int32]*Socket

	events [maxBatch]unix.EpollEvent
}

func newPlatformWaiter() (platformWaiter, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("socket: epoll_create1: %w", err)
	}
	return &epollWaiter{epfd: epfd, fds: make(map[int32]*Socket)}, nil
}

func (w *epollWaiter) register(s *Socket) error {
	ev := unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLOUT | unix.EPOLLET | unix.EPOLLRDHUP,
		Fd:     int32(s.fd),
	}
	if err := unix.EpollCtl(w.epfd, unix.EPOLL_CTL_ADD, s.fd, &ev); err != nil {
		return fmt.Errorf("socket: epoll_ctl(ADD, fd=%d): %w", s.fd, err)
	}
	w.fds[int32(s.fd)] = s
	s.armed = true
	return nil
}

// rearm is a no-op under edge-triggered epoll: the registration covers both
// directions for the socket's lifetime. Kept to satisfy platformWaiter so a
// level-triggered platform could implement it differently.
func (w *epollWaiter) rearm(s *Socket, wantRead, wantWrite bool) error { return nil }

func (w *epollWaiter) wait(timeoutMs int) ([]readyEvent, error) {
	n, err := unix.EpollWait(w.epfd, w.events[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("socket: epoll_wait: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	out := make([]readyEvent, 0, n)
	for i := 0; i < n; i++ {
		ev := w.events[i]
		s, ok := w.fds[ev.Fd]
		if !ok {
			continue
		}
		out = append(out, readyEvent{
			socket:   s,
			readable: ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			writable: ev.Events&(unix.EPOLLOUT|unix.EPOLLHUP|unix.EPOLLERR) != 0,
			hup:      ev.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0,
		})
	}
	return out, nil
}

func (w *epollWaiter) close() error {
	return unix.Close(w.epfd)
}

// unregister drops s from the epoll set; called from tcp_close before the fd
// itself is closed (closing the fd would do this implicitly, but the map
// entry must go too).
func (w *epollWaiter) unregister(s *Socket) {
	if !s.armed {
		return
	}
	_ = unix.EpollCtl(w.epfd, unix.EPOLL_CTL_DEL, s.fd, nil)
	delete(w.fds, int32(s.fd))
}
