//go:build linux

package socket

// ConnID derives a diagnostic correlation id for fd from the kernel's
// SO_COOKIE, the same trick github.com/m-lab/uuid uses to name a net.Conn,
// generalized here to operate directly on a raw non-blocking fd (ncps never
// wraps its sockets in net.Conn, so there is no os.File to go through).
//
// The original m-lab/uuid salts the cookie with hostname+boottime to make it
// globally unique across machine reboots; ncps only needs process-local
// uniqueness for log correlation, so the salt is dropped and the cookie is
// reported bare.

import (
	"fmt"
	"syscall"
	"unsafe"
)

const syscallSoCookie = 57 // SO_COOKIE, asm-generic/socket.h; not in all syscall package versions

func ConnID(fd int) string {
	if fd < 0 {
		return "fd<none>"
	}
	var cookie uint64
	cookieLen := uint32(unsafe.Sizeof(cookie))
	_, _, errno := syscall.Syscall6(
		uintptr(syscall.SYS_GETSOCKOPT),
		uintptr(fd),
		uintptr(syscall.SOL_SOCKET),
		uintptr(syscallSoCookie),
		uintptr(unsafe.Pointer(&cookie)),
		uintptr(unsafe.Pointer(&cookieLen)),
		0)
	if errno != 0 {
		return fmt.Sprintf("fd%d", fd)
	}
	return fmt.Sprintf("c%x", cookie)
}
