package internal

import (
	"fmt"

	"go.uber.org/zap"
)

// MessageListener receives messages from a transport.
//
// Methods are invoked on transport goroutines (connection read loops and the
// transport worker) so must not block.
type MessageListener interface {
	// OnMessage is invoked when a message is received and decoded.
	OnMessage(m *Message)

	// OnMessageSent is invoked once a datagram send completes, with one
	// result per destination. Stream transports never invoke this; absent
	// an error report, assume success.
	OnMessageSent(m *Message, results Results)
}

// ErrorListener receives errors from a transport. Errors are advisory: the
// transport keeps running.
type ErrorListener interface {
	// OnError reports a condition that isn't caused by a Go error, such as
	// a peer being unresponsive.
	OnError(description string)

	// OnException reports a failed operation, with a description of what
	// was being attempted.
	OnException(err error, context string)
}

// LogListener receives a human readable trace of transport activity.
type LogListener interface {
	OnLog(text string)
}

// listeners wraps the configured listeners so a panicking listener cannot
// kill a transport goroutine.
type listeners struct {
	message MessageListener
	errors  ErrorListener
	logger  *zap.Logger
}

func newListeners(message MessageListener, errors ErrorListener, logger *zap.Logger) *listeners {
	return &listeners{
		message: message,
		errors:  errors,
		logger:  logger,
	}
}

func (l *listeners) onMessage(m *Message) {
	if l.message == nil {
		return
	}
	defer l.recover("message")
	l.message.OnMessage(m)
}

func (l *listeners) onMessageSent(m *Message, results Results) {
	if l.message == nil {
		return
	}
	defer l.recover("message sent")
	l.message.OnMessageSent(m, results)
}

func (l *listeners) onError(description string) {
	l.logger.Warn(description)
	if l.errors == nil {
		return
	}
	defer l.recover("error")
	l.errors.OnError(description)
}

func (l *listeners) onException(err error, context string) {
	l.logger.Error(context, zap.Error(err))
	if l.errors == nil {
		return
	}
	defer l.recover("exception")
	l.errors.OnException(err, context)
}

func (l *listeners) recover(callback string) {
	if r := recover(); r != nil {
		l.logger.Error(
			"listener panicked",
			zap.String("callback", callback),
			zap.String("panic", fmt.Sprint(r)),
		)
	}
}
