//go:build linux

package socket

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// newRawSocket opens a non-blocking, close-on-exec stream socket for the
// given family. Every facade entry point that creates a descriptor goes
// through this.
func newRawSocket(af Family) (int, error) {
	fd, err := unix.Socket(int(af), unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return invalidFD, err
	}
	return fd, nil
}

// ListenerOpen binds and listens s (already Allocate'd as TypeListener) on
// local.
func ListenerOpen(s *Socket, local Endpoint, backlog int, flags ListenFlags) error {
	fd, err := newRawSocket(local.Family)
	if err != nil {
		return fmt.Errorf("socket: listener socket(): %w", err)
	}
	if flags&ListenReuseAddr != 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			unix.Close(fd)
			return fmt.Errorf("socket: SO_REUSEADDR: %w", err)
		}
	}
	if flags&ListenReusePort != 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			unix.Close(fd)
			return fmt.Errorf("socket: SO_REUSEPORT: %w", err)
		}
	}
	if err := unix.Bind(fd, local.sockaddr()); err != nil {
		unix.Close(fd)
		return fmt.Errorf("socket: bind(%s): %w", local, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return fmt.Errorf("socket: listen: %w", err)
	}
	s.fd = fd
	return nil
}

// Connect issues a non-blocking connect from s toward remote, optionally
// binding to local first. It returns StatusSuccess for the rare inline
// completion, StatusPending for the common case (caller awaits a "connect"
// Completion from the Waiter), or StatusFailure.
func Connect(s *Socket, local *Endpoint, remote Endpoint, flags ConnectFlags) (Status, error) {
	fd, err := newRawSocket(remote.Family)
	if err != nil {
		return StatusFailure, failureError("connect", err)
	}
	if flags&ConnectReuseAddr != 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			unix.Close(fd)
			return StatusFailure, failureError("connect", err)
		}
	}
	if local != nil {
		if local.Port == 0 {
			// Defer ephemeral port assignment to connect() instead of bind(),
			// so many concurrent outbound sockets sharing a local address
			// don't all reserve a port up front. See sockwiz.c's tcp_connect.
			_ = unix.SetsockoptInt(fd, unix.SOL_IP, unix.IP_BIND_ADDRESS_NO_PORT, 1)
		}
		if err := unix.Bind(fd, local.sockaddr()); err != nil {
			unix.Close(fd)
			return StatusFailure, failureError("connect", err)
		}
	}

	err = unix.Connect(fd, remote.sockaddr())
	s.fd = fd
	switch {
	case err == nil:
		return StatusSuccess, nil
	case errors.Is(err, unix.EINPROGRESS):
		s.connecting = true
		return StatusPending, pendingError("connect")
	case errors.Is(err, unix.EADDRNOTAVAIL):
		// Ephemeral port range momentarily exhausted; not a real failure.
		s.fd = invalidFD
		unix.Close(fd)
		return StatusFailure, &OpError{Status: StatusFailure, Op: "connect", Err: ErrPortBusy}
	default:
		s.fd = invalidFD
		unix.Close(fd)
		return StatusFailure, failureError("connect", err)
	}
}

// finishConnect resolves a pending connect after the waiter reports the
// socket writable, via SO_ERROR.
func finishConnect(s *Socket) error {
	errno, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}

// Accept tries to accept a new connection on listener into newSocket. The
// common case returns StatusPending; the Waiter later delivers an "accept"
// Completion once a peer is actually waiting.
func Accept(listener *Socket, newSocket *Socket, remoteOut *Endpoint) (Status, error) {
	fd, sa, err := unix.Accept4(listener.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err == nil {
		newSocket.fd = fd
		if remoteOut != nil {
			if ep, convErr := endpointFromSockaddr(sa); convErr == nil {
				*remoteOut = ep
			}
		}
		return StatusSuccess, nil
	}
	if errors.Is(err, unix.EAGAIN) {
		listener.pendingAccept = &acceptDesc{newSocket: newSocket, remoteOut: remoteOut}
		return StatusPending, pendingError("accept")
	}
	return StatusFailure, failureError("accept", err)
}

// Disconnect half-closes the write side, starting the clean FIN sequence
// without tearing down the descriptor.
func Disconnect(s *Socket) error {
	if err := unix.Shutdown(s.fd, unix.SHUT_WR); err != nil {
		return failureError("disconnect", err)
	}
	return nil
}

// GetInfo reads TCP_INFO and reports the two fields the recorder cares
// about: the SYN RTT in microseconds and the cumulative SYN retransmit
// count, both meaningful only immediately after connect/accept completes.
func GetInfo(s *Socket) (rttMicros int64, synRetransmits int, err error) {
	info, err := getTCPInfo(s.fd)
	if err != nil {
		return 0, 0, failureError("get_info", err)
	}
	return int64(info.RTT), int(info.TotalRetrans), nil
}

// SetKeepalive enables TCP keepalive with the given idle time; ncps uses
// this so idle pooled connections don't silently rot past a NAT's
// connection-tracking timeout between reuse cycles.
func SetKeepalive(s *Socket, idleSeconds int) error {
	if err := unix.SetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return failureError("set_keepalive", err)
	}
	if err := unix.SetsockoptInt(s.fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, idleSeconds); err != nil {
		return failureError("set_keepalive", err)
	}
	_ = unix.SetsockoptInt(s.fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, 1)
	_ = unix.SetsockoptInt(s.fd, unix.IPPROTO_TCP, unix.TCP_KEEPCNT, 10)
	return nil
}

// Close tears down s. If flags requests an abortive close, SO_LINGER(0) is
// set first so the kernel sends RST instead of going through FIN/TIME_WAIT --
// ncps needs this to avoid exhausting local ports with TIME_WAIT sockets at
// high connection rates. Any operations still pending on s are queued for
// synthetic cancellation before the descriptor is actually released.
func Close(s *Socket, flags CloseFlags) error {
	if flags&CloseAbortive != 0 {
		linger := unix.Linger{Onoff: 1, Linger: 0}
		_ = unix.SetsockoptLinger(s.fd, unix.SOL_SOCKET, unix.SO_LINGER, &linger)
	}
	if s.waiter != nil {
		if s.pendingCount() > 0 {
			s.closing = true
			s.waiter.enqueueClosing(s)
		}
		s.waiter.unregister(s)
	}
	fd := s.fd
	s.fd = invalidFD
	if err := unix.Close(fd); err != nil {
		return failureError("close", err)
	}
	return nil
}

// Read issues a non-blocking read into buf. remoteOut is only carried along
// into a pending read's Completion.Remote; it is never filled in, since
// read(2) reports no peer address.
func Read(s *Socket, buf []byte, remoteOut *Endpoint) (int, Status, error) {
	n, err := unix.Read(s.fd, buf)
	if err == nil {
		return n, StatusSuccess, nil
	}
	if errors.Is(err, unix.EAGAIN) {
		s.pendingRead = &ioDesc{buf: buf, remoteOut: remoteOut}
		return 0, StatusPending, pendingError("read")
	}
	return 0, StatusFailure, failureError("read", err)
}

// Write sends buf in full or not at all from the caller's perspective:
// partial kernel writes are retried inline until the buffer is exhausted or
// the socket would block, at which point the remainder is queued as a
// pending write and StatusPending is returned.
func Write(s *Socket, buf []byte) (Status, error) {
	sent := 0
	for sent < len(buf) {
		n, err := unix.Write(s.fd, buf[sent:])
		if err != nil {
			if errors.Is(err, unix.EAGAIN) {
				s.pendingWrite = &ioDesc{buf: buf, sent: sent}
				return StatusPending, pendingError("write")
			}
			return StatusFailure, failureError("write", err)
		}
		sent += n
	}
	return StatusSuccess, nil
}

// deliver turns one readiness event into zero or more Completions, replaying
// the inline syscall for whichever operations are actually pending on the
// socket -- this is where an edge-triggered readiness notification gets
// folded into the same Completion shape a completion-port platform would
// deliver directly.
func deliver(ev readyEvent) []Completion {
	s := ev.socket
	var out []Completion

	if s.connecting {
		err := finishConnect(s)
		s.connecting = false
		if err != nil {
			if errors.Is(err, unix.EADDRNOTAVAIL) {
				out = append(out, Completion{Socket: s, Op: "connect", Err: &OpError{Status: StatusFailure, Op: "connect", Err: ErrPortBusy}})
			} else {
				out = append(out, Completion{Socket: s, Op: "connect", Err: failureError("connect", err)})
			}
		} else {
			out = append(out, Completion{Socket: s, Op: "connect"})
		}
	}

	if s.pendingAccept != nil && ev.readable {
		desc := s.pendingAccept
		s.pendingAccept = nil
		status, err := Accept(s, desc.newSocket, desc.remoteOut)
		// Accept re-populates pendingAccept itself when it is still
		// StatusPending (no peer waiting yet), so nothing to do here.
		if status != StatusPending {
			out = append(out, Completion{Socket: s, Op: "accept", New: desc.newSocket, Remote: desc.remoteOut, Err: err})
		}
	}

	if s.pendingWrite != nil && ev.writable {
		desc := s.pendingWrite
		s.pendingWrite = nil
		status, err := Write(s, desc.buf[desc.sent:])
		if status != StatusPending {
			out = append(out, Completion{Socket: s, Op: "write", Err: err})
		}
	}

	if s.pendingRead != nil && ev.readable {
		desc := s.pendingRead
		s.pendingRead = nil
		n, status, err := Read(s, desc.buf, desc.remoteOut)
		if status != StatusPending {
			out = append(out, Completion{Socket: s, Op: "read", N: n, Remote: desc.remoteOut, Err: err})
		}
	}

	return out
}
