//go:build linux

package socket

import (
	"syscall"
	"unsafe"

	"github.com/m-lab/ncps/tcp"
)

// getTCPInfo calls getsockopt(fd, IPPROTO_TCP, TCP_INFO, ...) directly into
// a tcp.LinuxTCPInfo, the same unsafe-cast-onto-a-matching-struct idiom the
// teacher uses throughout parse.go for netlink attributes, adapted here to
// read straight off a live fd instead of off a netlink attribute buffer.
func getTCPInfo(fd int) (*tcp.LinuxTCPInfo, error) {
	var info tcp.LinuxTCPInfo
	size := uint32(unsafe.Sizeof(info))
	_, _, errno := syscall.Syscall6(
		uintptr(syscall.SYS_GETSOCKOPT),
		uintptr(fd),
		uintptr(syscall.SOL_TCP),
		uintptr(syscall.TCP_INFO),
		uintptr(unsafe.Pointer(&info)),
		uintptr(unsafe.Pointer(&size)),
		0)
	if errno != 0 {
		return nil, errno
	}
	return &info, nil
}
