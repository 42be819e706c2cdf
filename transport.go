package peerlink

import (
	"fmt"

	"github.com/andydunstall/peerlink/internal"
	"go.uber.org/zap"
)

// Mode is the role of a transport, fixed when the transport is created.
type Mode int

const (
	// ModeAcceptor hosts a game, accepting stream connections from peers.
	ModeAcceptor Mode = iota
	// ModeDialer joins a game by connecting to the host.
	ModeDialer
	// ModeDatagram exchanges datagrams with any peer on the network.
	ModeDatagram
)

func (m Mode) String() string {
	switch m {
	case ModeAcceptor:
		return "acceptor"
	case ModeDialer:
		return "dialer"
	case ModeDatagram:
		return "datagram"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Transport moves messages between peers on the local network.
//
// Received messages, send results and errors are passed to the configured
// listeners. Listeners are invoked on transport goroutines so must not
// block, and must not call Start or Stop.
//
// This is thread safe.
type Transport interface {
	Mode() Mode

	// Start opens the transports sockets: the acceptor starts listening,
	// the dialer connects to the host and the datagram transport binds its
	// port.
	Start() error

	// Stop closes the transport. Safe to call multiple times.
	Stop(options ...StopOption) error

	// Send sends the message to its destinations. Stream transports
	// send asynchronously, and the acceptor sends to every connected peer
	// if the message has no destinations. Returns an error only if the
	// message cannot be sent at all, such as being too large.
	Send(m *Message) error

	// LocalAddr returns the local address of the transport.
	LocalAddr() string

	// Peers returns the addresses of the connected peers. Always empty for
	// the datagram transport.
	Peers() []string

	// PeerStatus returns whether the peer is responding to keepalives.
	PeerStatus(addr string) PeerStatus
}

type stopOptions struct {
	keepListener bool
	notify       []string
}

type StopOption func(*stopOptions)

// KeepListener keeps the acceptors listening socket open so Start can be
// called again for the next round. Ignored by the other modes.
func KeepListener() StopOption {
	return func(opts *stopOptions) {
		opts.keepListener = true
	}
}

// NotifyPeers sends a disconnect event to the given addresses before the
// datagram transport closes. Ignored by the other modes.
func NotifyPeers(addrs ...string) StopOption {
	return func(opts *stopOptions) {
		opts.notify = append(opts.notify, addrs...)
	}
}

// Create creates a transport on the given port. The mode is chosen from the
// options: WithDatagram selects the datagram transport, otherwise setting
// WithServerAddr joins the server and leaving it unset hosts.
//
// The transport does not open any sockets until Start is called.
func Create(port int, options ...Option) (Transport, error) {
	opts := defaultOptions()
	for _, opt := range options {
		opt(opts)
	}

	logger := internal.WithLogListener(opts.Logger, opts.LogListener, opts.LogWithTime)

	metrics, err := internal.NewMetrics(opts.MetricsRegisterer)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	if opts.Datagram {
		return newDatagramTransport(port, opts, metrics, logger)
	}

	conf := internal.StreamConfig{
		Port:                port,
		MaxFrameSize:        opts.MaxFrameSize,
		WriteTimeout:        opts.WriteTimeout,
		KeepAlive:           opts.KeepAlive,
		ConvictionThreshold: opts.ConvictionThreshold,
		MessageListener:     opts.MessageListener,
		ErrorListener:       opts.ErrorListener,
		Metrics:             metrics,
		Logger:              logger,
	}
	if opts.ServerAddr != "" {
		d, err := internal.NewDialer(conf, opts.ServerAddr, opts.DialTimeout)
		if err != nil {
			return nil, err
		}
		logger.Debug(
			"created transport",
			zap.String("mode", ModeDialer.String()),
			zap.String("server-addr", opts.ServerAddr),
			zap.Int("port", port),
		)
		return &dialerTransport{
			dialer:   d,
			identity: opts.Identity,
		}, nil
	}

	a, err := internal.NewAcceptor(conf)
	if err != nil {
		return nil, err
	}
	logger.Debug(
		"created transport",
		zap.String("mode", ModeAcceptor.String()),
		zap.Int("port", port),
	)
	return &acceptorTransport{
		acceptor: a,
		identity: opts.Identity,
	}, nil
}

func newDatagramTransport(port int, opts *Options, metrics *internal.Metrics, logger *zap.Logger) (Transport, error) {
	var localAddr *internal.AddrCache
	if opts.LocalAddr != "" {
		localAddr = internal.NewStaticAddrCache(opts.LocalAddr)
	} else {
		localAddr = internal.NewAddrCache(opts.LocalAddrTTL)
	}

	t, err := internal.NewDatagramTransport(internal.DatagramConfig{
		Port:            port,
		MaxDatagramSize: opts.MaxDatagramSize,
		LocalAddr:       localAddr,
		Identity:        opts.Identity,
		MessageListener: opts.MessageListener,
		ErrorListener:   opts.ErrorListener,
		Metrics:         metrics,
		Logger:          logger,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug(
		"created transport",
		zap.String("mode", ModeDatagram.String()),
		zap.Int("port", port),
	)
	return &datagramTransport{
		transport: t,
		identity:  opts.Identity,
	}, nil
}

// tag returns the message tagged with the identity, unless the message is
// already tagged. The callers message is not modified.
func tag(m *Message, identity *Identity) *Message {
	if identity == nil || m.Identity != nil {
		return m
	}
	tagged := *m
	tagged.Identity = identity
	return &tagged
}

type acceptorTransport struct {
	acceptor *internal.Acceptor
	identity *Identity
}

func (t *acceptorTransport) Mode() Mode {
	return ModeAcceptor
}

func (t *acceptorTransport) Start() error {
	return t.acceptor.Start()
}

func (t *acceptorTransport) Stop(options ...StopOption) error {
	opts := &stopOptions{}
	for _, opt := range options {
		opt(opts)
	}
	return t.acceptor.Stop(opts.keepListener)
}

func (t *acceptorTransport) Send(m *Message) error {
	return t.acceptor.Send(tag(m, t.identity))
}

func (t *acceptorTransport) LocalAddr() string {
	return t.acceptor.LocalAddr()
}

func (t *acceptorTransport) Peers() []string {
	return t.acceptor.Addrs()
}

func (t *acceptorTransport) PeerStatus(addr string) PeerStatus {
	return t.acceptor.PeerStatus(addr)
}

type dialerTransport struct {
	dialer   *internal.Dialer
	identity *Identity
}

func (t *dialerTransport) Mode() Mode {
	return ModeDialer
}

func (t *dialerTransport) Start() error {
	return t.dialer.Start()
}

func (t *dialerTransport) Stop(options ...StopOption) error {
	return t.dialer.Stop()
}

func (t *dialerTransport) Send(m *Message) error {
	return t.dialer.Send(tag(m, t.identity))
}

func (t *dialerTransport) LocalAddr() string {
	return t.dialer.LocalAddr()
}

func (t *dialerTransport) Peers() []string {
	return t.dialer.Addrs()
}

func (t *dialerTransport) PeerStatus(addr string) PeerStatus {
	return t.dialer.PeerStatus(addr)
}

type datagramTransport struct {
	transport *internal.DatagramTransport
	identity  *Identity
}

func (t *datagramTransport) Mode() Mode {
	return ModeDatagram
}

func (t *datagramTransport) Start() error {
	return t.transport.Start()
}

func (t *datagramTransport) Stop(options ...StopOption) error {
	opts := &stopOptions{}
	for _, opt := range options {
		opt(opts)
	}
	return t.transport.Stop(opts.notify...)
}

// Send sends the datagram and waits for the result. Per destination results
// are passed to the MessageListener.
func (t *datagramTransport) Send(m *Message) error {
	_, err := t.transport.Send(tag(m, t.identity))
	return err
}

func (t *datagramTransport) LocalAddr() string {
	return t.transport.LocalAddr()
}

func (t *datagramTransport) Peers() []string {
	return nil
}

func (t *datagramTransport) PeerStatus(addr string) PeerStatus {
	return PeerStatusUnknown
}
