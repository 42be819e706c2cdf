package internal

import (
	"fmt"

	multierror "github.com/hashicorp/go-multierror"
)

// Result is the outcome of sending a datagram to one destination.
type Result struct {
	// Addr is the destination attempted.
	Addr string
	// Len is the number of bytes in the datagram.
	Len int
	// Err is the cause of failure, or nil on success.
	Err error
}

func (r Result) OK() bool {
	return r.Err == nil
}

func (r Result) String() string {
	if r.OK() {
		return fmt.Sprintf("sent %d bytes to %s", r.Len, r.Addr)
	}
	return fmt.Sprintf("failed to send %d bytes to %s: %v", r.Len, r.Addr, r.Err)
}

// Results are aligned index-for-index with the destinations of a send.
type Results []Result

// Err returns the failures combined into a single error, or nil if every
// send succeeded.
func (rs Results) Err() error {
	var errs error
	for _, r := range rs {
		if !r.OK() {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", r.Addr, r.Err))
		}
	}
	return errs
}

func (rs Results) Failed() int {
	n := 0
	for _, r := range rs {
		if !r.OK() {
			n++
		}
	}
	return n
}
