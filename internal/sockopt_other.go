//go:build !unix

package internal

import (
	"syscall"
)

func reuseAddrControl(_, _ string, _ syscall.RawConn) error {
	return nil
}

func broadcastControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
