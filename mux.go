package peerlink

import (
	"sync"

	"go.uber.org/zap"
)

// HandlerFunc handles an event message and its decoded envelope.
type HandlerFunc func(m *Message, env *Envelope)

// Mux is a MessageListener that routes event messages to a handler by op
// code. Other messages are passed to the fallback listener.
//
// This is thread safe.
type Mux struct {
	handlers map[OpCode]HandlerFunc
	// mu protects the above fields.
	mu sync.RWMutex

	fallback MessageListener
	logger   *zap.Logger
}

// NewMux returns a mux that passes non-event messages and send results to
// fallback. fallback may be nil.
func NewMux(fallback MessageListener, logger *zap.Logger) *Mux {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mux{
		handlers: make(map[OpCode]HandlerFunc),
		fallback: fallback,
		logger:   logger,
	}
}

// Handle registers the handler for op, replacing any existing handler.
func (mux *Mux) Handle(op OpCode, h HandlerFunc) {
	mux.mu.Lock()
	defer mux.mu.Unlock()

	mux.handlers[op] = h
}

func (mux *Mux) OnMessage(m *Message) {
	if !m.Kind.IsEvent() {
		if mux.fallback != nil {
			mux.fallback.OnMessage(m)
		}
		return
	}

	env, err := m.Envelope()
	if err != nil {
		mux.logger.Error(
			"invalid event",
			zap.String("addr", m.Addr),
			zap.Error(err),
		)
		return
	}

	mux.mu.RLock()
	h, ok := mux.handlers[env.Op]
	mux.mu.RUnlock()

	if !ok {
		mux.logger.Debug(
			"unrouted event",
			zap.String("addr", m.Addr),
			zap.String("op", env.Op.String()),
		)
		return
	}
	h(m, env)
}

func (mux *Mux) OnMessageSent(m *Message, results Results) {
	if mux.fallback != nil {
		mux.fallback.OnMessageSent(m, results)
	}
}
