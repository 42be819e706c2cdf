package internal

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"
)

const (
	transportAcceptor = "acceptor"
	transportDialer   = "dialer"
	transportDatagram = "datagram"

	// workerQueueSize bounds the number of queued sends before callers
	// block.
	workerQueueSize = 256
)

// Transport is the surface shared by the stream transports.
type Transport interface {
	// Start opens the transports sockets. Sends issued while Start is in
	// progress wait for it to complete.
	Start() error

	// Send queues the message. Returns an error only if the message is
	// invalid or the transport cannot send; delivery failures are reported
	// to the ErrorListener.
	Send(m *Message) error

	// LocalAddr returns the local address of the transport.
	LocalAddr() string
}

// StreamConfig configures the connection-oriented transports.
type StreamConfig struct {
	// Port is the port the acceptor listens on and the default port the
	// dialer connects to. An acceptor port of 0 lets the system choose.
	Port int

	MaxFrameSize int
	// WriteTimeout bounds a single frame write. A connection whose write
	// times out is closed.
	WriteTimeout time.Duration

	// KeepAlive is the interval between keepalive frames. Zero disables
	// keepalives and liveness tracking.
	KeepAlive time.Duration
	// ConvictionThreshold is the phi value above which a peer is reported
	// as unresponsive.
	ConvictionThreshold float64

	MessageListener MessageListener
	ErrorListener   ErrorListener
	Metrics         *Metrics
	Logger          *zap.Logger
}

func (c *StreamConfig) validate() error {
	if c.Port < 0 || c.Port > 0xffff {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	if c.MaxFrameSize <= 0 {
		c.MaxFrameSize = DefaultMaxFrameSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.KeepAlive < 0 {
		return fmt.Errorf("%w: negative keepalive interval", ErrInvalidConfig)
	}
	if c.ConvictionThreshold <= 0 {
		c.ConvictionThreshold = DefaultConvictionThreshold
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}

// withPort adds the port to addr unless addr already has one.
func withPort(addr string, port int) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, strconv.Itoa(port))
}

// hostIP returns the IP of a network address, without the port.
func hostIP(addr net.Addr) string {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP.String()
	case *net.UDPAddr:
		return a.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
