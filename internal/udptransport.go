package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	// DefaultMaxDatagramSize is the size of the receive buffer. A datagram
	// that fills the buffer may have been truncated so is dropped.
	DefaultMaxDatagramSize = 59 * 1024

	// minDatagramPort excludes the well known ports.
	minDatagramPort = 1024
)

// DatagramConfig configures the connectionless transport.
type DatagramConfig struct {
	// Port is both the port the transport receives on and the port
	// datagrams are sent to when a destination has no port.
	Port int

	MaxDatagramSize int

	// LocalAddr identifies datagrams sent by this device, which are
	// received back when broadcasting.
	LocalAddr *AddrCache

	// Identity tags the disconnect notification sent on Stop.
	Identity *Identity

	MessageListener MessageListener
	ErrorListener   ErrorListener
	Metrics         *Metrics
	Logger          *zap.Logger
}

func (c *DatagramConfig) validate() error {
	if c.Port <= minDatagramPort || c.Port > 0xffff {
		return fmt.Errorf("%w: datagram port must be in (%d, 65535]: %d", ErrInvalidPort, minDatagramPort, c.Port)
	}
	if c.MaxDatagramSize <= 0 {
		c.MaxDatagramSize = DefaultMaxDatagramSize
	}
	if c.LocalAddr == nil {
		c.LocalAddr = NewAddrCache(DefaultLocalAddrTTL)
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}

// DatagramTransport sends and receives messages over UDP. Each message is
// a single datagram with no length prefix. Delivery is not guaranteed.
type DatagramTransport struct {
	conf DatagramConfig

	// recvConn and sendConn are set on Start. sendConn is only used from
	// the worker.
	recvConn net.PacketConn
	sendConn net.PacketConn

	worker    *worker
	listeners *listeners

	started  *atomic.Bool
	shutdown *atomic.Bool
	// done is closed once the read loop exits.
	done chan struct{}

	logger *zap.Logger
}

func NewDatagramTransport(conf DatagramConfig) (*DatagramTransport, error) {
	if err := conf.validate(); err != nil {
		return nil, err
	}
	logger := conf.Logger.With(zap.String("transport", transportDatagram))
	return &DatagramTransport{
		conf:      conf,
		worker:    newWorker(workerQueueSize),
		listeners: newListeners(conf.MessageListener, conf.ErrorListener, logger),
		started:   atomic.NewBool(false),
		shutdown:  atomic.NewBool(false),
		done:      make(chan struct{}),
		logger:    logger,
	}, nil
}

// Start opens the receive and send sockets and starts the read loop.
// Calling Start more than once has no effect.
func (t *DatagramTransport) Start() error {
	if t.shutdown.Load() {
		return ErrTransportClosed
	}

	var err error
	if !t.worker.Do(func() {
		if t.shutdown.Load() {
			err = ErrTransportClosed
			return
		}
		if t.started.Load() {
			return
		}

		var recvConn, sendConn net.PacketConn
		recvConn, err = listenUDP(fmt.Sprintf(":%d", t.conf.Port))
		if err != nil {
			t.listeners.onException(err, "failed to open receive socket")
			return
		}
		sendConn, err = listenUDP(":0")
		if err != nil {
			recvConn.Close()
			t.listeners.onException(err, "failed to open send socket")
			return
		}
		t.start(recvConn, sendConn)
	}) {
		return ErrTransportClosed
	}
	return err
}

// start must be called from the worker.
func (t *DatagramTransport) start(recvConn, sendConn net.PacketConn) {
	t.recvConn = recvConn
	t.sendConn = sendConn
	t.started.Store(true)

	go t.readLoop(recvConn)

	t.logger.Info(
		"listening for datagrams",
		zap.String("addr", recvConn.LocalAddr().String()),
	)
}

// Send sends the message to each of its destinations, or to m.Addr if it
// has none. The send completes before returning, with one result per
// destination. Results are also passed to the MessageListener.
func (t *DatagramTransport) Send(m *Message) (Results, error) {
	dests := m.Destinations
	if len(dests) == 0 {
		if m.Addr == "" {
			return nil, ErrNoDestination
		}
		dests = []string{m.Addr}
	}

	b, err := EncodeMessage(m)
	if err != nil {
		return nil, err
	}
	if len(b) >= t.conf.MaxDatagramSize {
		return nil, fmt.Errorf(
			"%w: %d bytes, max %d", ErrMessageTooLarge, len(b), t.conf.MaxDatagramSize,
		)
	}

	if t.shutdown.Load() {
		return nil, ErrTransportClosed
	}
	if !t.started.Load() {
		return nil, ErrNotStarted
	}

	var results Results
	if !t.worker.Do(func() {
		results = t.sendDatagram(b, dests)
	}) {
		return nil, ErrTransportClosed
	}

	sent := m.Clone()
	sent.Direction = DirectionSent
	sent.Time = time.Now()
	t.listeners.onMessageSent(sent, results)
	t.conf.Metrics.ObserveResults(results)
	return results, nil
}

// SendPayload sends a message with the given payload to dests.
func (t *DatagramTransport) SendPayload(kind PayloadKind, payload []byte, dests ...string) (Results, error) {
	return t.Send(&Message{
		Kind:         kind,
		Payload:      payload,
		Destinations: dests,
	})
}

// sendDatagram must be called from the worker.
func (t *DatagramTransport) sendDatagram(b []byte, dests []string) Results {
	results := make(Results, 0, len(dests))
	for _, dest := range dests {
		result := Result{
			Addr: dest,
			Len:  len(b),
		}

		addr, err := net.ResolveUDPAddr("udp4", withPort(dest, t.conf.Port))
		if err != nil {
			result.Err = fmt.Errorf("failed to resolve %s: %w", dest, err)
		} else if t.sendConn == nil {
			// Stopped between the caller checking and the send running.
			result.Err = ErrTransportClosed
		} else if _, err := t.sendConn.WriteTo(b, addr); err != nil {
			result.Err = err
		} else {
			t.conf.Metrics.IncSent(transportDatagram)
		}

		if !result.OK() {
			t.logger.Debug(
				"failed to send datagram",
				zap.String("addr", dest),
				zap.Error(result.Err),
			)
		}
		results = append(results, result)
	}
	return results
}

// Stop closes the sockets. If notify is non-empty a disconnect event is
// first sent to those addresses, on a best effort basis. Safe to call
// multiple times.
func (t *DatagramTransport) Stop(notify ...string) error {
	if t.shutdown.Load() {
		return nil
	}

	if len(notify) > 0 && t.started.Load() {
		t.notifyDisconnect(notify)
	}

	var err error
	t.worker.Do(func() {
		if t.shutdown.Load() {
			return
		}
		// Avoids log spam from the read loop as the socket closes.
		t.shutdown.Store(true)

		// done is otherwise closed by the read loop.
		if !t.started.Load() {
			close(t.done)
		}

		if t.sendConn != nil {
			err = t.sendConn.Close()
			t.sendConn = nil
		}
		if t.recvConn != nil {
			if recvErr := t.recvConn.Close(); recvErr != nil && err == nil {
				err = recvErr
			}
			t.recvConn = nil
		}
	})
	t.worker.Stop()

	t.logger.Info("stopped")
	return err
}

func (t *DatagramTransport) notifyDisconnect(addrs []string) {
	m, err := NewEventMessage(NewEnvelope(OpDisconnect))
	if err != nil {
		t.listeners.onException(err, "failed to build disconnect notification")
		return
	}
	m.Destinations = addrs
	m.Identity = t.conf.Identity

	results, err := t.Send(m)
	if err != nil {
		t.listeners.onException(err, "failed to send disconnect notification")
		return
	}
	if err := results.Err(); err != nil {
		t.logger.Debug("failed to notify peers of disconnect", zap.Error(err))
	}
}

// Done is closed once the read loop has exited, or on Stop if the transport
// was never started.
func (t *DatagramTransport) Done() <-chan struct{} {
	return t.done
}

// LocalAddr returns this devices LAN address, which is the address peers
// see datagrams from.
func (t *DatagramTransport) LocalAddr() string {
	return t.conf.LocalAddr.Addr()
}

// readLoop is a long running goroutine that reads incoming datagrams until
// the transport is shut down.
func (t *DatagramTransport) readLoop(conn net.PacketConn) {
	defer close(t.done)

	buf := make([]byte, t.conf.MaxDatagramSize)
	for {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if t.shutdown.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			t.listeners.onException(err, "failed to read datagram")
			continue
		}
		t.handleDatagram(buf[:n], from)
	}
}

// handleDatagram decodes and delivers a single datagram. b is only valid for
// the duration of the call.
func (t *DatagramTransport) handleDatagram(b []byte, from net.Addr) {
	addr := hostIP(from)

	if len(b) >= t.conf.MaxDatagramSize {
		t.conf.Metrics.IncDecodeError(transportDatagram)
		t.listeners.onException(
			fmt.Errorf("%w: %d bytes from %s", ErrDatagramSize, len(b), addr),
			"dropped datagram",
		)
		return
	}

	// Broadcasts are received by the sender too.
	if t.conf.LocalAddr.Matches(addr) {
		return
	}

	m, err := DecodeMessage(addr, b)
	if err != nil {
		t.conf.Metrics.IncDecodeError(transportDatagram)
		t.listeners.onException(err, fmt.Sprintf("invalid datagram from %s", addr))
		return
	}
	t.conf.Metrics.IncReceived(transportDatagram)

	if m.Kind == KindNone {
		return
	}
	t.listeners.onMessage(m)
}

func listenUDP(addr string) (net.PacketConn, error) {
	lc := net.ListenConfig{
		Control: broadcastControl,
	}
	conn, err := lc.ListenPacket(context.Background(), "udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start UDP listener on %s: %w", addr, err)
	}
	return conn, nil
}
