package internal

import (
	"errors"
	"fmt"
)

var (
	// Protocol errors.
	ErrTruncated        = errors.New("buffer ends before declared length")
	ErrNegativeLength   = errors.New("negative length")
	ErrTrailingBytes    = errors.New("unexpected trailing bytes")
	ErrUnknownKind      = errors.New("unknown payload kind")
	ErrUnknownOpCode    = errors.New("unknown op code")
	ErrEmptyDisplayName = errors.New("identity display name is empty")
	ErrFrameSize        = errors.New("invalid frame length prefix")
	ErrDatagramSize     = errors.New("datagram exceeds maximum size")

	// Send errors.
	ErrNilPayload      = errors.New("nil payload")
	ErrKindMismatch    = errors.New("payload does not match kind")
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
	ErrNoDestination   = errors.New("no destination")
	ErrNotConnected    = errors.New("not connected")

	// Lifecycle errors.
	ErrNotStarted      = errors.New("transport not started")
	ErrTransportClosed = errors.New("transport closed")
	ErrConnClosed      = errors.New("connection closed")

	// Configuration errors.
	ErrInvalidPort   = errors.New("invalid port")
	ErrNoServerAddr  = errors.New("no server address")
	ErrInvalidConfig = errors.New("invalid config")
)

// FrameError is returned when a frame cannot be decoded.
type FrameError struct {
	// Offset is the position in the frame where decoding failed.
	Offset int
	Err    error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("failed to decode frame at offset %d: %v", e.Offset, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// EnvelopeError is returned when an envelope cannot be decoded.
type EnvelopeError struct {
	Offset int
	Err    error
}

func (e *EnvelopeError) Error() string {
	return fmt.Sprintf("failed to decode envelope at offset %d: %v", e.Offset, e.Err)
}

func (e *EnvelopeError) Unwrap() error {
	return e.Err
}

// IsProtocolError returns true if err is caused by malformed input from a
// peer rather than a local I/O failure.
func IsProtocolError(err error) bool {
	var fe *FrameError
	var ee *EnvelopeError
	return errors.As(err, &fe) ||
		errors.As(err, &ee) ||
		errors.Is(err, ErrFrameSize) ||
		errors.Is(err, ErrDatagramSize)
}
