//go:build !linux

package socket

import "fmt"

// ConnID falls back to the bare fd number on platforms without SO_COOKIE.
func ConnID(fd int) string {
	return fmt.Sprintf("fd%d", fd)
}
