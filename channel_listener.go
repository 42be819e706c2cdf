package peerlink

import (
	"time"

	"go.uber.org/atomic"
)

const DefaultChannelSize = 64

// SentMessage is a datagram send with its per destination results.
type SentMessage struct {
	Message *Message
	Results Results
}

// ChannelListener is a MessageListener and ErrorListener that passes
// callbacks onto buffered channels, so the application can consume them on
// its own goroutine.
//
// Callbacks never block: if a channel is full the callback is dropped and
// counted.
type ChannelListener struct {
	MessageCh chan *Message
	SentCh    chan SentMessage
	ErrorCh   chan error

	dropped *atomic.Uint64
}

// NewChannelListener returns a listener whose channels buffer size entries.
// If size is not positive defaults to DefaultChannelSize.
func NewChannelListener(size int) *ChannelListener {
	if size <= 0 {
		size = DefaultChannelSize
	}
	return &ChannelListener{
		MessageCh: make(chan *Message, size),
		SentCh:    make(chan SentMessage, size),
		ErrorCh:   make(chan error, size),
		dropped:   atomic.NewUint64(0),
	}
}

func (l *ChannelListener) OnMessage(m *Message) {
	select {
	case l.MessageCh <- m:
	default:
		l.dropped.Inc()
	}
}

func (l *ChannelListener) OnMessageSent(m *Message, results Results) {
	select {
	case l.SentCh <- SentMessage{Message: m, Results: results}:
	default:
		l.dropped.Inc()
	}
}

func (l *ChannelListener) OnError(description string) {
	l.pushError(&TransportError{Description: description})
}

func (l *ChannelListener) OnException(err error, context string) {
	l.pushError(&TransportError{Description: context, Err: err})
}

func (l *ChannelListener) pushError(err error) {
	select {
	case l.ErrorCh <- err:
	default:
		l.dropped.Inc()
	}
}

// Dropped returns the number of callbacks dropped since the channels were
// full.
func (l *ChannelListener) Dropped() uint64 {
	return l.dropped.Load()
}

func (l *ChannelListener) WaitMessageWithTimeout(t time.Duration) (*Message, bool) {
	select {
	case m := <-l.MessageCh:
		return m, true
	case <-time.After(t):
		return nil, false
	}
}

func (l *ChannelListener) WaitErrorWithTimeout(t time.Duration) (error, bool) {
	select {
	case err := <-l.ErrorCh:
		return err, true
	case <-time.After(t):
		return nil, false
	}
}

// TransportError is an error reported by a transport to its ErrorListener.
type TransportError struct {
	// Description describes the failure, or what was being attempted if
	// Err is set.
	Description string
	Err         error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return e.Description
	}
	return e.Description + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
