//go:build !windows

package rest

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reusePort marks the listening socket SO_REUSEPORT so zero-downtime
// restarts can bind the same port while the old process drains.
func reusePort(network, address string, c syscall.RawConn) error {
	var err error
	c.Control(func(fd uintptr) {
		err = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	return err
}
