package internal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	DefaultDialTimeout = 5 * time.Second

	// acceptBackoff is the delay after a failed accept, to avoid spinning
	// if accept keeps failing (such as running out of file descriptors).
	acceptBackoff = 50 * time.Millisecond
)

var (
	_ Transport = &Acceptor{}
	_ Transport = &Dialer{}
)

// streamTransport holds the state shared by the acceptor and dialer.
type streamTransport struct {
	name      string
	conf      StreamConfig
	worker    *worker
	liveness  *liveness
	listeners *listeners

	// started is set once Start is called, so sends queued behind an
	// in-progress Start wait for it rather than fail.
	started *atomic.Bool
	closed  *atomic.Bool

	logger *zap.Logger
}

func newStreamTransport(name string, conf StreamConfig) streamTransport {
	logger := conf.Logger.With(zap.String("transport", name))
	return streamTransport{
		name:      name,
		conf:      conf,
		worker:    newWorker(workerQueueSize),
		liveness:  newLiveness(conf.KeepAlive, conf.ConvictionThreshold),
		listeners: newListeners(conf.MessageListener, conf.ErrorListener, logger),
		started:   atomic.NewBool(false),
		closed:    atomic.NewBool(false),
		logger:    logger,
	}
}

func (s *streamTransport) connOptions(onClose func(c *Conn, err error)) connOptions {
	return connOptions{
		transport:    s.name,
		maxFrameSize: s.conf.MaxFrameSize,
		writeTimeout: s.conf.WriteTimeout,
		onFrame:      s.onFrame,
		onClose:      onClose,
		listeners:    s.listeners,
		metrics:      s.conf.Metrics,
		logger:       s.logger,
	}
}

func (s *streamTransport) onFrame(c *Conn, m *Message) {
	s.liveness.Arrived(c.Addr(), m.Time)
	// Keepalives only exist to prove liveness.
	if m.Kind == KindNone {
		return
	}
	s.listeners.onMessage(m)
}

// encode validates and encodes a message before it is queued, so invalid
// messages are rejected at call time.
func (s *streamTransport) encode(m *Message) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrTransportClosed
	}
	if !s.started.Load() {
		return nil, ErrNotStarted
	}
	b, err := EncodeMessage(m)
	if err != nil {
		return nil, err
	}
	if len(b) > s.conf.MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(b))
	}
	return b, nil
}

func (s *streamTransport) submit(fn func()) error {
	if !s.worker.Submit(fn) {
		return ErrTransportClosed
	}
	return nil
}

// Acceptor is the host side of the connection-oriented transport. It
// accepts connections from peers and keeps one connection per peer IP.
type Acceptor struct {
	streamTransport

	conns *connMap

	// listener is only accessed from the worker. It is kept open across
	// Stop(true) so the host can accept peers for the next round.
	listener   *net.TCPListener
	listenAddr *atomic.String
	accepting  *atomic.Bool
	acceptWG   sync.WaitGroup
}

func NewAcceptor(conf StreamConfig) (*Acceptor, error) {
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return &Acceptor{
		streamTransport: newStreamTransport(transportAcceptor, conf),
		conns:           newConnMap(),
		listenAddr:      atomic.NewString(""),
		accepting:       atomic.NewBool(false),
	}, nil
}

// Start starts listening and accepting connections. Calling Start while
// already accepting has no effect.
func (a *Acceptor) Start() error {
	if a.closed.Load() {
		return ErrTransportClosed
	}
	a.started.Store(true)

	var err error
	if !a.worker.Do(func() {
		err = a.start()
	}) {
		return ErrTransportClosed
	}
	return err
}

func (a *Acceptor) start() error {
	if a.accepting.Load() {
		return nil
	}

	if a.listener == nil {
		ln, err := listenTCP(a.conf.Port)
		if err != nil {
			a.listeners.onError(fmt.Sprintf("failed to listen on port %d", a.conf.Port))
			return err
		}
		a.listener = ln
		a.listenAddr.Store(ln.Addr().String())
	} else if err := a.listener.SetDeadline(time.Time{}); err != nil {
		return fmt.Errorf("failed to reset listener deadline: %w", err)
	}

	a.accepting.Store(true)
	a.acceptWG.Add(1)
	go a.acceptLoop(a.listener)

	a.liveness.Start(a.worker, a.keepAlive)

	a.logger.Info("accepting connections", zap.String("addr", a.listener.Addr().String()))
	return nil
}

// SendTo sends the message to the peer with the given address. If the peer
// isn't connected the message is dropped; callers are expected to only send
// to connected peers.
func (a *Acceptor) SendTo(addr string, m *Message) error {
	b, err := a.encode(m)
	if err != nil {
		return err
	}
	return a.submit(func() {
		c, ok := a.conns.Get(addr)
		if !ok {
			a.logger.Debug("send to unknown peer; dropping", zap.String("addr", addr))
			return
		}
		c.writeFrame(b)
	})
}

// SendToAll sends the message to the given addresses, skipping addresses
// that aren't connected. If no addresses are given the message is sent to
// every connected peer.
func (a *Acceptor) SendToAll(m *Message, addrs ...string) error {
	b, err := a.encode(m)
	if err != nil {
		return err
	}
	addrs = append([]string(nil), addrs...)
	return a.submit(func() {
		for _, c := range a.conns.Select(addrs) {
			c.writeFrame(b)
		}
	})
}

// Send sends to the messages destinations, or to every connected peer if
// it has none.
func (a *Acceptor) Send(m *Message) error {
	return a.SendToAll(m, m.Destinations...)
}

// Stop stops accepting connections and closes all connected peers. If
// keepListener is true the listening socket stays open and Start can be
// called again, otherwise the acceptor is shut down. Safe to call multiple
// times.
func (a *Acceptor) Stop(keepListener bool) error {
	if a.closed.Load() {
		return nil
	}

	// Close the connections before waiting on the worker, which may be
	// blocked writing to a peer that stopped reading.
	for _, c := range a.conns.Select(nil) {
		c.Close()
	}

	var err error
	if !a.worker.Do(func() {
		err = a.stop(keepListener)
	}) {
		return nil
	}

	if !keepListener && a.closed.CAS(false, true) {
		a.liveness.Stop()
		a.worker.Stop()
	}
	return err
}

func (a *Acceptor) stop(keepListener bool) error {
	var errs error

	if a.accepting.CAS(true, false) && a.listener != nil {
		// Unblock the pending accept so the loop sees accepting is unset.
		if err := a.listener.SetDeadline(time.Now()); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if !keepListener && a.listener != nil {
		if err := a.listener.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
		a.listener = nil
		a.listenAddr.Store("")
	}
	// Wait for the accept loop to exit so it can't add a connection after
	// the map is cleared.
	a.acceptWG.Wait()

	conns := a.conns.Clear()
	for _, c := range conns {
		if err := c.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
		a.liveness.Remove(c.Addr())
	}
	a.conf.Metrics.AddConnections(-float64(len(conns)))

	a.logger.Info(
		"stopped",
		zap.Int("closed-conns", len(conns)),
		zap.Bool("keep-listener", keepListener),
	)
	return errs
}

// Addrs returns the addresses of the connected peers.
func (a *Acceptor) Addrs() []string {
	return a.conns.Addrs()
}

func (a *Acceptor) PeerStatus(addr string) PeerStatus {
	return a.liveness.Status(addr)
}

// ListenAddr returns the address the listener is bound to, or an empty
// string if not listening.
func (a *Acceptor) ListenAddr() string {
	return a.listenAddr.Load()
}

func (a *Acceptor) LocalAddr() string {
	return a.ListenAddr()
}

// acceptLoop is a long running goroutine that accepts incoming connections
// until accepting is unset.
func (a *Acceptor) acceptLoop(ln *net.TCPListener) {
	defer a.acceptWG.Done()

	for {
		nc, err := ln.AcceptTCP()
		if !a.accepting.Load() {
			if err == nil {
				nc.Close()
			}
			return
		}
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			a.listeners.onException(err, "failed to accept connection")
			time.Sleep(acceptBackoff)
			continue
		}

		nc.SetNoDelay(true)
		a.addConn(hostIP(nc.RemoteAddr()), nc)
	}
}

// addConn registers a connection from the peer with the given address and
// starts reading from it.
func (a *Acceptor) addConn(addr string, nc net.Conn) *Conn {
	c := newConn(nc, addr, a.connOptions(a.onConnClosed))
	if old := a.conns.Put(c); old != nil {
		// The peer reconnected, so the old connection is dead.
		old.Close()
	} else {
		a.conf.Metrics.AddConnections(1)
	}
	c.start()

	a.logger.Info(
		"peer connected",
		zap.String("addr", addr),
		zap.String("conn-id", c.ID()),
	)
	return c
}

func (a *Acceptor) onConnClosed(c *Conn, err error) {
	a.worker.Submit(func() {
		if !a.conns.Remove(c) {
			return
		}
		a.liveness.Remove(c.Addr())
		a.conf.Metrics.AddConnections(-1)
		a.logger.Info(
			"peer disconnected",
			zap.String("addr", c.Addr()),
			zap.String("conn-id", c.ID()),
			zap.Error(err),
		)
	})
}

func (a *Acceptor) keepAlive() {
	for _, c := range a.conns.Select(nil) {
		c.writeFrame(keepAliveFrame)
	}
	for _, addr := range a.liveness.Convicted(time.Now()) {
		a.listeners.onError(fmt.Sprintf("peer %s unresponsive", addr))
	}
}

// Dialer is the joining side of the connection-oriented transport. It keeps
// a single connection to the host.
type Dialer struct {
	streamTransport

	dialTimeout time.Duration

	// serverAddr and conn are only accessed from the worker.
	serverAddr string
	conn       *Conn

	// connAddr and localAddr describe the current connection, or are
	// empty if not connected.
	connAddr  *atomic.String
	localAddr *atomic.String

	// live is the current connection, so Stop can close it without waiting
	// on the worker.
	live   *Conn
	liveMu sync.Mutex
}

func NewDialer(conf StreamConfig, serverAddr string, dialTimeout time.Duration) (*Dialer, error) {
	if serverAddr == "" {
		return nil, ErrNoServerAddr
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}
	return &Dialer{
		streamTransport: newStreamTransport(transportDialer, conf),
		dialTimeout:     dialTimeout,
		serverAddr:      serverAddr,
		connAddr:        atomic.NewString(""),
		localAddr:       atomic.NewString(""),
	}, nil
}

// SetServerAddr changes the host to connect to. Only takes effect on the
// next Start, such as when the host migrates.
func (d *Dialer) SetServerAddr(addr string) {
	d.worker.Do(func() {
		d.serverAddr = addr
	})
}

func (d *Dialer) ServerAddr() string {
	var addr string
	d.worker.Do(func() {
		addr = d.serverAddr
	})
	return addr
}

// Start connects to the server. Failing to connect is fatal: the dialer does
// not retry. Calling Start while connected has no effect.
func (d *Dialer) Start() error {
	if d.closed.Load() {
		return ErrTransportClosed
	}
	d.started.Store(true)

	var err error
	if !d.worker.Do(func() {
		err = d.start()
	}) {
		return ErrTransportClosed
	}
	return err
}

func (d *Dialer) start() error {
	if d.conn != nil && d.conn.IsOpen() {
		return nil
	}
	if d.conn != nil {
		// The previous connection closed but its close callback hasn't run
		// yet. Once replaced the callback ignores it, so account for it here.
		d.liveness.Remove(d.conn.Addr())
		d.setDisconnected()
		d.conf.Metrics.AddConnections(-1)
	}

	addr := withPort(d.serverAddr, d.conf.Port)
	dialer := &net.Dialer{
		Timeout: d.dialTimeout,
	}
	nc, err := dialer.DialContext(context.Background(), "tcp4", addr)
	if err != nil {
		err = fmt.Errorf("failed to connect to %s: %w", addr, err)
		d.listeners.onException(err, "failed to connect to server")
		return err
	}
	if tc, ok := nc.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}

	d.conn = newConn(nc, hostIP(nc.RemoteAddr()), d.connOptions(d.onConnClosed))
	d.setLive(d.conn)
	d.connAddr.Store(d.conn.Addr())
	d.localAddr.Store(nc.LocalAddr().String())
	d.conf.Metrics.AddConnections(1)
	d.conn.start()

	d.liveness.Start(d.worker, d.keepAlive)

	d.logger.Info(
		"connected to server",
		zap.String("addr", addr),
		zap.String("conn-id", d.conn.ID()),
	)
	return nil
}

// Send writes the message to the server.
func (d *Dialer) Send(m *Message) error {
	b, err := d.encode(m)
	if err != nil {
		return err
	}
	return d.submit(func() {
		if d.conn == nil {
			d.listeners.onException(ErrNotConnected, "failed to send to server")
			return
		}
		d.conn.writeFrame(b)
	})
}

// Stop closes the connection to the server and shuts down the dialer. Safe
// to call multiple times.
func (d *Dialer) Stop() error {
	if !d.closed.CAS(false, true) {
		return nil
	}

	d.liveMu.Lock()
	live := d.live
	d.liveMu.Unlock()
	var err error
	if live != nil {
		// Unblocks a write stuck on a server that stopped reading.
		err = live.Close()
	}

	d.worker.Do(func() {
		if d.conn == nil {
			return
		}
		if closeErr := d.conn.Close(); closeErr != nil {
			err = closeErr
		}
		d.liveness.Remove(d.conn.Addr())
		d.setDisconnected()
		d.conf.Metrics.AddConnections(-1)
	})
	d.liveness.Stop()
	d.worker.Stop()

	d.logger.Info("stopped")
	return err
}

// Addrs returns the server address if connected.
func (d *Dialer) Addrs() []string {
	if addr := d.connAddr.Load(); addr != "" {
		return []string{addr}
	}
	return nil
}

func (d *Dialer) PeerStatus(addr string) PeerStatus {
	return d.liveness.Status(addr)
}

func (d *Dialer) LocalAddr() string {
	return d.localAddr.Load()
}

// setDisconnected must be called from the worker.
func (d *Dialer) setDisconnected() {
	d.conn = nil
	d.setLive(nil)
	d.connAddr.Store("")
	d.localAddr.Store("")
}

func (d *Dialer) setLive(c *Conn) {
	d.liveMu.Lock()
	defer d.liveMu.Unlock()

	d.live = c
}

func (d *Dialer) onConnClosed(c *Conn, err error) {
	d.worker.Submit(func() {
		if d.conn != c {
			return
		}
		d.liveness.Remove(c.Addr())
		d.setDisconnected()
		d.conf.Metrics.AddConnections(-1)
		d.logger.Info(
			"disconnected from server",
			zap.String("addr", c.Addr()),
			zap.Error(err),
		)
	})
}

func (d *Dialer) keepAlive() {
	if d.conn == nil {
		return
	}
	d.conn.writeFrame(keepAliveFrame)
	for _, addr := range d.liveness.Convicted(time.Now()) {
		d.listeners.onError(fmt.Sprintf("server %s unresponsive", addr))
	}
}

func listenTCP(port int) (*net.TCPListener, error) {
	lc := net.ListenConfig{
		Control: reuseAddrControl,
	}
	ln, err := lc.Listen(context.Background(), "tcp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to start TCP listener on port %d: %w", port, err)
	}
	return ln.(*net.TCPListener), nil
}
