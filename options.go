package peerlink

import (
	"time"

	"github.com/andydunstall/peerlink/internal"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	DefaultMaxDatagramSize     = internal.DefaultMaxDatagramSize
	DefaultMaxFrameSize        = internal.DefaultMaxFrameSize
	DefaultDialTimeout         = internal.DefaultDialTimeout
	DefaultWriteTimeout        = internal.DefaultWriteTimeout
	DefaultLocalAddrTTL        = internal.DefaultLocalAddrTTL
	DefaultConvictionThreshold = internal.DefaultConvictionThreshold
)

type Options struct {
	// ServerAddr is the address of the host to connect to. If set the
	// transport joins the host, otherwise it hosts. Ignored by the datagram
	// transport.
	ServerAddr string

	// Datagram selects the connectionless transport.
	Datagram bool

	MessageListener MessageListener
	ErrorListener   ErrorListener

	// LogListener receives every log line, such as to show a connection
	// trace in the UI.
	LogListener LogListener
	// LogWithTime prefixes lines passed to the LogListener with the time.
	LogWithTime bool

	// MaxDatagramSize is the largest datagram the datagram transport sends
	// or accepts. If not set defaults to 59 KiB.
	MaxDatagramSize int

	// MaxFrameSize is the largest frame accepted on a stream connection. If
	// not set defaults to 16 MiB.
	MaxFrameSize int

	// DialTimeout is the timeout connecting to the host. If not set
	// defaults to 5 seconds.
	DialTimeout time.Duration

	// WriteTimeout bounds a single frame write to a stream peer. A peer
	// that stops reading for longer is disconnected. If not set defaults to
	// 5 seconds.
	WriteTimeout time.Duration

	// LocalAddr pins this devices LAN address, used to ignore our own
	// broadcasts. If not set the address is looked up from the network
	// interfaces and cached for LocalAddrTTL.
	LocalAddr    string
	LocalAddrTTL time.Duration

	// Identity tags every sent message that isn't already tagged.
	Identity *Identity

	// KeepAlive is the interval between keepalives on stream connections.
	// Zero disables keepalives.
	KeepAlive time.Duration

	// ConvictionThreshold is the value of phi in the failure detector to
	// consider a peer unresponsive. If not set defaults to 8.0.
	ConvictionThreshold float64

	// MetricsRegisterer registers the transport metrics. If nil metrics
	// are not registered.
	MetricsRegisterer prometheus.Registerer

	Logger *zap.Logger
}

type Option func(*Options)

func WithServerAddr(addr string) Option {
	return func(opts *Options) {
		opts.ServerAddr = addr
	}
}

func WithDatagram(datagram bool) Option {
	return func(opts *Options) {
		opts.Datagram = datagram
	}
}

func WithMessageListener(listener MessageListener) Option {
	return func(opts *Options) {
		opts.MessageListener = listener
	}
}

func WithErrorListener(listener ErrorListener) Option {
	return func(opts *Options) {
		opts.ErrorListener = listener
	}
}

func WithLogListener(listener LogListener) Option {
	return func(opts *Options) {
		opts.LogListener = listener
	}
}

func WithLogWithTime(withTime bool) Option {
	return func(opts *Options) {
		opts.LogWithTime = withTime
	}
}

func WithMaxDatagramSize(size int) Option {
	return func(opts *Options) {
		opts.MaxDatagramSize = size
	}
}

func WithMaxFrameSize(size int) Option {
	return func(opts *Options) {
		opts.MaxFrameSize = size
	}
}

func WithDialTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.DialTimeout = timeout
	}
}

func WithWriteTimeout(timeout time.Duration) Option {
	return func(opts *Options) {
		opts.WriteTimeout = timeout
	}
}

func WithLocalAddr(addr string) Option {
	return func(opts *Options) {
		opts.LocalAddr = addr
	}
}

func WithLocalAddrTTL(ttl time.Duration) Option {
	return func(opts *Options) {
		opts.LocalAddrTTL = ttl
	}
}

func WithIdentity(identity *Identity) Option {
	return func(opts *Options) {
		opts.Identity = identity
	}
}

func WithKeepAlive(interval time.Duration) Option {
	return func(opts *Options) {
		opts.KeepAlive = interval
	}
}

func WithConvictionThreshold(convictionThreshold float64) Option {
	return func(opts *Options) {
		opts.ConvictionThreshold = convictionThreshold
	}
}

func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(opts *Options) {
		opts.MetricsRegisterer = reg
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

func defaultOptions() *Options {
	return &Options{
		MaxDatagramSize:     DefaultMaxDatagramSize,
		MaxFrameSize:        DefaultMaxFrameSize,
		DialTimeout:         DefaultDialTimeout,
		WriteTimeout:        DefaultWriteTimeout,
		LocalAddrTTL:        DefaultLocalAddrTTL,
		ConvictionThreshold: DefaultConvictionThreshold,
		Logger:              zap.NewNop(),
	}
}
