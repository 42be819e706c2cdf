//go:build unix

package internal

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddrControl sets SO_REUSEADDR so a host can rebind its port straight
// after a previous game round closed it.
func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	return setSockopts(c, unix.SO_REUSEADDR)
}

// broadcastControl sets SO_REUSEADDR and SO_BROADCAST on datagram sockets.
func broadcastControl(_, _ string, c syscall.RawConn) error {
	return setSockopts(c, unix.SO_REUSEADDR, unix.SO_BROADCAST)
}

func setSockopts(c syscall.RawConn, opts ...int) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		for _, opt := range opts {
			if err := unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, opt, 1); err != nil {
				opErr = fmt.Errorf("failed to set socket option %d: %w", opt, err)
				return
			}
		}
	})
	if err != nil {
		return err
	}
	return opErr
}
