package internal

import (
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestAcceptor(t *testing.T, l *channelListener, keepAlive time.Duration) *Acceptor {
	return startAcceptor(t, StreamConfig{
		// Use a port of 0 to let the system assign a free port.
		Port:            0,
		KeepAlive:       keepAlive,
		MessageListener: l,
		ErrorListener:   l,
		Logger:          zap.NewNop(),
	})
}

func startAcceptor(t *testing.T, conf StreamConfig) *Acceptor {
	a, err := NewAcceptor(conf)
	require.NoError(t, err)
	require.NoError(t, a.Start())
	t.Cleanup(func() {
		a.Stop(false)
	})
	return a
}

// addPipePeer connects a peer to the acceptor over an in-memory pipe, so
// peers can have distinct addresses. Returns a listener receiving every
// frame the peer reads, including keepalives.
func addPipePeer(t *testing.T, a *Acceptor, addr string) (*Conn, *channelListener) {
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})

	l := newChannelListener()
	peer := newConn(client, "host", connOptions{
		onFrame: func(c *Conn, m *Message) {
			l.OnMessage(m)
		},
	})
	peer.start()

	a.addConn(addr, server)
	return peer, l
}

func waitText(t *testing.T, l *channelListener) string {
	m, ok := l.WaitMessageWithTimeout(time.Second)
	require.True(t, ok, "message not received")
	return m.Text()
}

func TestAcceptor_SendToAll(t *testing.T) {
	a := newTestAcceptor(t, newChannelListener(), 0)

	_, peer2 := addPipePeer(t, a, "10.0.0.2")
	_, peer3 := addPipePeer(t, a, "10.0.0.3")
	assert.Equal(t, []string{"10.0.0.2", "10.0.0.3"}, a.Addrs())

	require.NoError(t, a.SendToAll(NewTextMessage("all")))
	assert.Equal(t, "all", waitText(t, peer2))
	assert.Equal(t, "all", waitText(t, peer3))

	// Each peer receives exactly one frame.
	_, ok := peer2.WaitMessageWithTimeout(50 * time.Millisecond)
	assert.False(t, ok)
	_, ok = peer3.WaitMessageWithTimeout(50 * time.Millisecond)
	assert.False(t, ok)
}

func TestAcceptor_StalledPeerTimesOut(t *testing.T) {
	l := newChannelListener()
	a := startAcceptor(t, StreamConfig{
		WriteTimeout:  100 * time.Millisecond,
		ErrorListener: l,
	})

	// A peer that never reads.
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	a.addConn("10.0.0.9", server)
	_, peer2 := addPipePeer(t, a, "10.0.0.2")

	require.NoError(t, a.SendToAll(NewTextMessage("all")))
	require.NoError(t, a.SendToAll(NewTextMessage("next")))

	// Other peers keep receiving while the stalled peer is disconnected.
	assert.Equal(t, "all", waitText(t, peer2))
	assert.Equal(t, "next", waitText(t, peer2))

	e, ok := l.WaitExceptionWithTimeout(time.Second)
	require.True(t, ok)
	assert.Equal(t, "write timed out", e.Context)

	require.Eventually(t, func() bool {
		addrs := a.Addrs()
		return len(addrs) == 1 && addrs[0] == "10.0.0.2"
	}, time.Second, 10*time.Millisecond)
}

func TestAcceptor_StopUnblocksStalledWrite(t *testing.T) {
	a := startAcceptor(t, StreamConfig{
		WriteTimeout: time.Minute,
	})

	// A peer that never reads.
	server, client := net.Pipe()
	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	a.addConn("10.0.0.9", server)

	require.NoError(t, a.SendToAll(NewTextMessage("stalled")))
	// Give the worker time to block on the write.
	time.Sleep(50 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() {
		stopped <- a.Stop(false)
	}()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("stop blocked by a peer that stopped reading")
	}
	assert.Equal(t, 0, len(a.Addrs()))
}

func TestAcceptor_SendToAllFiltered(t *testing.T) {
	a := newTestAcceptor(t, newChannelListener(), 0)

	_, peer2 := addPipePeer(t, a, "10.0.0.2")
	_, peer3 := addPipePeer(t, a, "10.0.0.3")

	require.NoError(t, a.SendToAll(NewTextMessage("filtered"), "10.0.0.2"))
	// Sends are processed in order, so if 10.0.0.3 receives "end" first it
	// never received "filtered".
	require.NoError(t, a.SendToAll(NewTextMessage("end")))

	assert.Equal(t, "filtered", waitText(t, peer2))
	assert.Equal(t, "end", waitText(t, peer2))
	assert.Equal(t, "end", waitText(t, peer3))
}

func TestAcceptor_SendUsesDestinations(t *testing.T) {
	a := newTestAcceptor(t, newChannelListener(), 0)

	_, peer2 := addPipePeer(t, a, "10.0.0.2")
	_, peer3 := addPipePeer(t, a, "10.0.0.3")

	m := NewTextMessage("to-3")
	m.Destinations = []string{"10.0.0.3"}
	require.NoError(t, a.Send(m))
	require.NoError(t, a.SendTo("10.0.0.2", NewTextMessage("to-2")))

	assert.Equal(t, "to-3", waitText(t, peer3))
	assert.Equal(t, "to-2", waitText(t, peer2))
}

func TestAcceptor_SendToUnknownPeer(t *testing.T) {
	l := newChannelListener()
	a := newTestAcceptor(t, l, 0)

	assert.NoError(t, a.SendTo("10.0.0.9", NewTextMessage("foo")))

	_, ok := l.WaitExceptionWithTimeout(50 * time.Millisecond)
	assert.False(t, ok)
}

func TestAcceptor_SendInvalidMessage(t *testing.T) {
	a := newTestAcceptor(t, newChannelListener(), 0)

	assert.ErrorIs(t, a.SendToAll(&Message{Kind: KindImage}), ErrNilPayload)
	assert.Error(t, a.SendToAll(NewTextMessage("\xff")))
}

func TestAcceptor_SendBeforeStart(t *testing.T) {
	a, err := NewAcceptor(StreamConfig{})
	require.NoError(t, err)
	defer a.Stop(false)

	assert.ErrorIs(t, a.SendToAll(NewTextMessage("foo")), ErrNotStarted)
}

func TestAcceptor_ReconnectReplacesConn(t *testing.T) {
	a := newTestAcceptor(t, newChannelListener(), 0)

	server1, client1 := net.Pipe()
	defer client1.Close()
	server2, client2 := net.Pipe()
	defer client2.Close()

	c1 := a.addConn("10.0.0.2", server1)
	c2 := a.addConn("10.0.0.2", server2)

	<-c1.Done()
	assert.Equal(t, ConnClosed, c1.State())
	assert.True(t, c2.IsOpen())
	assert.Equal(t, []string{"10.0.0.2"}, a.Addrs())
}

func TestAcceptor_ReceivesFromPeer(t *testing.T) {
	l := newChannelListener()
	a := newTestAcceptor(t, l, 0)

	peer, _ := addPipePeer(t, a, "10.0.0.2")

	// Keepalives are not delivered.
	require.NoError(t, peer.Write(newKeepAliveMessage()))
	require.NoError(t, peer.Write(NewTextMessage("foo")))

	m, ok := l.WaitMessageWithTimeout(time.Second)
	require.True(t, ok)
	assert.Equal(t, "foo", m.Text())
	assert.Equal(t, "10.0.0.2", m.Addr)
}

func TestAcceptor_PeerDisconnectRemovesConn(t *testing.T) {
	l := newChannelListener()
	a := newTestAcceptor(t, l, 0)

	peer, _ := addPipePeer(t, a, "10.0.0.2")
	peer.Close()

	description, ok := l.WaitErrorWithTimeout(time.Second)
	require.True(t, ok)
	assert.Equal(t, "connection to 10.0.0.2 closed by peer", description)

	assert.Eventually(t, func() bool {
		return len(a.Addrs()) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestAcceptor_StopKeepListener(t *testing.T) {
	a := newTestAcceptor(t, newChannelListener(), 0)
	addr := a.ListenAddr()

	peer, _ := addPipePeer(t, a, "10.0.0.2")

	require.NoError(t, a.Stop(true))
	<-peer.Done()
	assert.Equal(t, 0, len(a.Addrs()))
	assert.Equal(t, addr, a.ListenAddr())

	// Stopping again has no effect.
	require.NoError(t, a.Stop(true))

	// Restarting reuses the listener.
	require.NoError(t, a.Start())
	assert.Equal(t, addr, a.ListenAddr())
}

func TestAcceptor_StopIdempotent(t *testing.T) {
	a := newTestAcceptor(t, newChannelListener(), 0)

	require.NoError(t, a.Stop(false))
	require.NoError(t, a.Stop(false))
	require.NoError(t, a.Stop(true))

	assert.ErrorIs(t, a.Start(), ErrTransportClosed)
	assert.ErrorIs(t, a.SendToAll(NewTextMessage("foo")), ErrTransportClosed)
	assert.Equal(t, "", a.ListenAddr())
}

func TestAcceptor_KeepAlive(t *testing.T) {
	a := newTestAcceptor(t, newChannelListener(), 20*time.Millisecond)

	peer, l := addPipePeer(t, a, "10.0.0.2")

	m, ok := l.WaitMessageWithTimeout(time.Second)
	require.True(t, ok)
	assert.Equal(t, KindNone, m.Kind)

	// Frames from the peer are tracked by the failure detector.
	require.NoError(t, peer.Write(newKeepAliveMessage()))
	assert.Eventually(t, func() bool {
		return a.PeerStatus("10.0.0.2") != PeerStatusUnknown
	}, time.Second, 10*time.Millisecond)
}

func listenPort(t *testing.T, a *Acceptor) int {
	_, portStr, err := net.SplitHostPort(a.ListenAddr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func TestDialer_SendReceive(t *testing.T) {
	acceptorListener := newChannelListener()
	a := newTestAcceptor(t, acceptorListener, 0)

	dialerListener := newChannelListener()
	d, err := NewDialer(StreamConfig{
		Port:            listenPort(t, a),
		MessageListener: dialerListener,
		ErrorListener:   dialerListener,
	}, "127.0.0.1", time.Second)
	require.NoError(t, err)
	defer d.Stop()

	require.NoError(t, d.Start())
	assert.Equal(t, []string{"127.0.0.1"}, d.Addrs())
	assert.NotEqual(t, "", d.LocalAddr())

	require.Eventually(t, func() bool {
		return len(a.Addrs()) == 1
	}, time.Second, 10*time.Millisecond)

	// Messages on the same connection arrive in order.
	require.NoError(t, d.Send(NewTextMessage("A")))
	require.NoError(t, d.Send(NewTextMessage("B")))

	m, ok := acceptorListener.WaitMessageWithTimeout(time.Second)
	require.True(t, ok)
	assert.Equal(t, "A", m.Text())
	assert.Equal(t, "127.0.0.1", m.Addr)
	assert.Equal(t, "B", waitText(t, acceptorListener))

	require.NoError(t, a.SendTo("127.0.0.1", NewTextMessage("reply")))
	assert.Equal(t, "reply", waitText(t, dialerListener))
}

func TestDialer_StopDisconnectsFromAcceptor(t *testing.T) {
	acceptorListener := newChannelListener()
	a := newTestAcceptor(t, acceptorListener, 0)

	d, err := NewDialer(StreamConfig{
		Port: listenPort(t, a),
	}, "127.0.0.1", time.Second)
	require.NoError(t, err)

	require.NoError(t, d.Start())
	require.Eventually(t, func() bool {
		return len(a.Addrs()) == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, d.Stop())
	// Stopping again has no effect.
	require.NoError(t, d.Stop())

	require.Eventually(t, func() bool {
		return len(a.Addrs()) == 0
	}, time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, d.Send(NewTextMessage("foo")), ErrTransportClosed)
	assert.ErrorIs(t, d.Start(), ErrTransportClosed)
}

func TestDialer_StopUnblocksStalledWrite(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	// A server that accepts but never reads.
	accepted := make(chan net.Conn, 1)
	go func() {
		if c, err := ln.Accept(); err == nil {
			accepted <- c
		}
	}()

	d, err := NewDialer(StreamConfig{
		Port:         ln.Addr().(*net.TCPAddr).Port,
		WriteTimeout: time.Minute,
	}, "127.0.0.1", time.Second)
	require.NoError(t, err)
	require.NoError(t, d.Start())

	select {
	case c := <-accepted:
		defer c.Close()
	case <-time.After(time.Second):
		t.Fatal("connection not accepted")
	}

	// Enough data to fill the socket buffers.
	image := NewImageMessage(make([]byte, 4<<20))
	for i := 0; i != 8; i++ {
		require.NoError(t, d.Send(image))
	}
	time.Sleep(100 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() {
		stopped <- d.Stop()
	}()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("stop blocked by a server that stopped reading")
	}
	assert.Equal(t, 0, len(d.Addrs()))
}

func TestDialer_ReconnectBeforeCloseCallback(t *testing.T) {
	a := newTestAcceptor(t, newChannelListener(), 0)

	metrics, err := NewMetrics(nil)
	require.NoError(t, err)
	d, err := NewDialer(StreamConfig{
		Port:    listenPort(t, a),
		Metrics: metrics,
	}, "127.0.0.1", time.Second)
	require.NoError(t, err)
	defer d.Stop()

	require.NoError(t, d.Start())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.connections))

	// Close and reconnect in a single worker task, so the old connection's
	// close callback is queued behind the reconnect.
	var startErr error
	d.worker.Do(func() {
		old := d.conn
		old.Close()
		<-old.Done()
		startErr = d.start()
	})
	require.NoError(t, startErr)

	// Wait for the queued close callback to run.
	d.worker.Do(func() {})

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.connections))
	assert.Equal(t, []string{"127.0.0.1"}, d.Addrs())
}

func TestDialer_ConnectFailure(t *testing.T) {
	// Find a port with nothing listening.
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	l := newChannelListener()
	d, err := NewDialer(StreamConfig{
		Port:          port,
		ErrorListener: l,
	}, "127.0.0.1", time.Second)
	require.NoError(t, err)
	defer d.Stop()

	assert.Error(t, d.Start())

	e, ok := l.WaitExceptionWithTimeout(time.Second)
	require.True(t, ok)
	assert.Equal(t, "failed to connect to server", e.Context)

	// Sends are accepted but report the dialer isn't connected.
	require.NoError(t, d.Send(NewTextMessage("foo")))
	e, ok = l.WaitExceptionWithTimeout(time.Second)
	require.True(t, ok)
	assert.ErrorIs(t, e.Err, ErrNotConnected)
}

func TestDialer_SetServerAddr(t *testing.T) {
	d, err := NewDialer(StreamConfig{Port: 9000}, "10.0.0.2", 0)
	require.NoError(t, err)
	defer d.Stop()

	d.SetServerAddr("10.0.0.3")
	assert.Equal(t, "10.0.0.3", d.ServerAddr())
}

func TestDialer_RequiresServerAddr(t *testing.T) {
	_, err := NewDialer(StreamConfig{Port: 9000}, "", 0)
	assert.ErrorIs(t, err, ErrNoServerAddr)
}

func TestStreamConfig_InvalidPort(t *testing.T) {
	_, err := NewAcceptor(StreamConfig{Port: 70000})
	assert.ErrorIs(t, err, ErrInvalidPort)

	_, err = NewAcceptor(StreamConfig{Port: -1})
	assert.ErrorIs(t, err, ErrInvalidPort)
}

func TestWithPort(t *testing.T) {
	assert.Equal(t, "10.0.0.2:9000", withPort("10.0.0.2", 9000))
	assert.Equal(t, "10.0.0.2:8000", withPort("10.0.0.2:8000", 9000))
}
