//go:build windows

package rest

import "syscall"

// reusePort is a no-op on Windows, which has no SO_REUSEPORT.
func reusePort(network, address string, c syscall.RawConn) error {
	return nil
}
