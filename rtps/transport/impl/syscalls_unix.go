//go:build unix

package impl

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// SyscallReuseAddr lets several participants on one host share the
// metatraffic multicast port.
func SyscallReuseAddr(network string, address string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		if opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); opErr != nil {
			return
		}
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}
