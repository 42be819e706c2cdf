package internal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const (
	// DefaultMaxFrameSize is the largest frame a connection will accept.
	DefaultMaxFrameSize = 16 << 20
	// DefaultWriteTimeout bounds how long a single frame write may block on
	// a peer that stopped reading.
	DefaultWriteTimeout = 5 * time.Second

	framePrefixLen = 4
)

type ConnState int32

const (
	ConnOpen ConnState = iota
	ConnClosing
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnOpen:
		return "open"
	case ConnClosing:
		return "closing"
	default:
		return "closed"
	}
}

type connOptions struct {
	// transport labels metrics.
	transport    string
	maxFrameSize int
	writeTimeout time.Duration

	// onFrame is invoked from the read loop for every decoded frame.
	onFrame func(c *Conn, m *Message)
	// onClose is invoked once when the read loop exits. err is nil if the
	// connection was closed locally or by the peer.
	onClose func(c *Conn, err error)

	listeners *listeners
	metrics   *Metrics
	logger    *zap.Logger
}

// Conn wraps a single stream connection to a peer. Frames are written with a
// 4 byte big-endian length prefix.
//
// A connection has exactly one reader goroutine. Writes may come from any
// goroutine and are serialised.
type Conn struct {
	id   string
	addr string

	conn   net.Conn
	reader *bufio.Reader
	writer *bufio.Writer
	// writeMu protects writer.
	writeMu sync.Mutex

	state *atomic.Int32
	done  chan struct{}

	opts   connOptions
	logger *zap.Logger
}

func newConn(nc net.Conn, addr string, opts connOptions) *Conn {
	if opts.maxFrameSize <= 0 {
		opts.maxFrameSize = DefaultMaxFrameSize
	}
	if opts.writeTimeout <= 0 {
		opts.writeTimeout = DefaultWriteTimeout
	}
	if opts.logger == nil {
		opts.logger = zap.NewNop()
	}
	if opts.listeners == nil {
		opts.listeners = newListeners(nil, nil, opts.logger)
	}
	id := uuid.New().String()[:8]
	return &Conn{
		id:     id,
		addr:   addr,
		conn:   nc,
		reader: bufio.NewReader(nc),
		writer: bufio.NewWriter(nc),
		state:  atomic.NewInt32(int32(ConnOpen)),
		done:   make(chan struct{}),
		opts:   opts,
		logger: opts.logger.With(
			zap.String("conn-id", id),
			zap.String("addr", addr),
		),
	}
}

func (c *Conn) ID() string {
	return c.id
}

// Addr returns the peer IP address.
func (c *Conn) Addr() string {
	return c.addr
}

func (c *Conn) State() ConnState {
	return ConnState(c.state.Load())
}

func (c *Conn) IsOpen() bool {
	return c.State() == ConnOpen
}

// Done is closed once the read loop has exited.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Write encodes and writes the message. A failed write is reported but does
// not close the connection, unless the write timed out.
func (c *Conn) Write(m *Message) error {
	b, err := EncodeMessage(m)
	if err != nil {
		return err
	}
	return c.writeFrame(b)
}

func (c *Conn) writeFrame(b []byte) error {
	if !c.IsOpen() {
		return ErrConnClosed
	}
	if len(b) > c.opts.maxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(b))
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.writeTimeout)); err != nil {
		return c.writeFailed(err)
	}

	var prefix [framePrefixLen]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(b)))
	if _, err := c.writer.Write(prefix[:]); err != nil {
		return c.writeFailed(err)
	}
	if _, err := c.writer.Write(b); err != nil {
		return c.writeFailed(err)
	}
	if err := c.writer.Flush(); err != nil {
		return c.writeFailed(err)
	}

	c.opts.metrics.IncSent(c.opts.transport)
	return nil
}

func (c *Conn) writeFailed(err error) error {
	// A partial write leaves the buffered writer in an error state, so
	// discard it. The peer will see a corrupt stream, but the caller decides
	// whether to close the connection.
	c.writer.Reset(c.conn)

	// Closed locally while the write was blocked.
	if !c.IsOpen() {
		return ErrConnClosed
	}

	err = fmt.Errorf("failed to write to %s: %w", c.addr, err)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		// The peer stopped reading, so later writes would block the same
		// way.
		c.opts.listeners.onException(err, "write timed out")
		c.Close()
		return err
	}
	c.opts.listeners.onException(err, "write failed")
	return err
}

// Close closes the connection, which unblocks and stops the read loop. It
// does not wait for the read loop to exit. Safe to call multiple times.
func (c *Conn) Close() error {
	if !c.state.CAS(int32(ConnOpen), int32(ConnClosing)) {
		return nil
	}
	err := c.conn.Close()
	c.state.Store(int32(ConnClosed))

	c.logger.Debug("connection closed")
	return err
}

func (c *Conn) start() {
	go c.readLoop()
}

func (c *Conn) readLoop() {
	defer close(c.done)

	c.logger.Debug("read loop started")

	var err error
	for c.IsOpen() {
		if err = c.readFrame(); err != nil {
			break
		}
	}

	// Closing locally causes the read to fail, which is expected.
	if !c.IsOpen() || errors.Is(err, io.EOF) {
		err = nil
	}
	c.Close()

	if c.opts.onClose != nil {
		c.opts.onClose(c, err)
	}
}

// readFrame reads and delivers a single frame. Returns an error only if the
// connection can no longer be read from.
func (c *Conn) readFrame() error {
	var prefix [framePrefixLen]byte
	if _, err := io.ReadFull(c.reader, prefix[:]); err != nil {
		return c.readFailed(err)
	}

	n := int32(binary.BigEndian.Uint32(prefix[:]))
	if n <= 0 || int(n) > c.opts.maxFrameSize {
		// We can't find the next frame boundary so the stream is unusable.
		err := fmt.Errorf("%w: %d from %s", ErrFrameSize, n, c.addr)
		c.opts.metrics.IncDecodeError(c.opts.transport)
		c.opts.listeners.onException(err, "protocol violation")
		return err
	}

	b := make([]byte, n)
	if _, err := io.ReadFull(c.reader, b); err != nil {
		return c.readFailed(err)
	}

	m, err := DecodeMessage(c.addr, b)
	if err != nil {
		// The length prefix was valid so the next frame can still be read.
		c.opts.metrics.IncDecodeError(c.opts.transport)
		c.opts.listeners.onException(err, fmt.Sprintf("invalid frame from %s", c.addr))
		return nil
	}

	c.opts.metrics.IncReceived(c.opts.transport)
	if c.opts.onFrame != nil {
		c.opts.onFrame(c, m)
	}
	return nil
}

func (c *Conn) readFailed(err error) error {
	if !c.IsOpen() {
		return err
	}
	if errors.Is(err, io.EOF) {
		c.opts.listeners.onError(fmt.Sprintf("connection to %s closed by peer", c.addr))
		return err
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = &FrameError{Err: ErrTruncated}
	}
	err = fmt.Errorf("failed to read from %s: %w", c.addr, err)
	c.opts.listeners.onException(err, "read failed")
	return err
}
