package peerlink

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingLogListener struct {
	lines []string
	mu    sync.Mutex
}

func (l *recordingLogListener) OnLog(text string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lines = append(l.lines, text)
}

func (l *recordingLogListener) Lines() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]string(nil), l.lines...)
}

func listenPort(t *testing.T, transport Transport) int {
	_, portStr, err := net.SplitHostPort(transport.LocalAddr())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

func TestCreate_Mode(t *testing.T) {
	acceptor, err := Create(0)
	require.NoError(t, err)
	defer acceptor.Stop()
	assert.Equal(t, ModeAcceptor, acceptor.Mode())

	dialer, err := Create(9000, WithServerAddr("10.0.0.2"))
	require.NoError(t, err)
	defer dialer.Stop()
	assert.Equal(t, ModeDialer, dialer.Mode())

	// The datagram switch takes priority over the server address.
	datagram, err := Create(47820, WithDatagram(true), WithServerAddr("10.0.0.2"))
	require.NoError(t, err)
	defer datagram.Stop()
	assert.Equal(t, ModeDatagram, datagram.Mode())
}

func TestCreate_InvalidPort(t *testing.T) {
	_, err := Create(70000)
	assert.ErrorIs(t, err, ErrInvalidPort)

	_, err = Create(1024, WithDatagram(true))
	assert.ErrorIs(t, err, ErrInvalidPort)
}

func TestCreate_MetricsRegisteredTwice(t *testing.T) {
	reg := prometheus.NewRegistry()

	transport, err := Create(0, WithMetricsRegisterer(reg))
	require.NoError(t, err)
	defer transport.Stop()

	_, err = Create(0, WithMetricsRegisterer(reg))
	assert.Error(t, err)
}

func TestTransport_SendBeforeStart(t *testing.T) {
	transport, err := Create(0)
	require.NoError(t, err)
	defer transport.Stop()

	assert.ErrorIs(t, transport.Send(NewTextMessage("foo")), ErrNotStarted)
}

func TestTransport_HostAndJoin(t *testing.T) {
	hostListener := NewChannelListener(0)
	host, err := Create(0, WithMessageListener(hostListener))
	require.NoError(t, err)
	require.NoError(t, host.Start())
	defer host.Stop()

	joinerListener := NewChannelListener(0)
	joiner, err := Create(
		listenPort(t, host),
		WithServerAddr("127.0.0.1"),
		WithIdentity(&Identity{Name: "bob"}),
		WithMessageListener(joinerListener),
		WithErrorListener(joinerListener),
	)
	require.NoError(t, err)
	require.NoError(t, joiner.Start())
	defer joiner.Stop()

	assert.Eventually(t, func() bool {
		return len(host.Peers()) == 1
	}, time.Second, 10*time.Millisecond)

	m := NewTextMessage("hello")
	require.NoError(t, joiner.Send(m))
	// The callers message is not tagged.
	assert.Nil(t, m.Identity)

	received, ok := hostListener.WaitMessageWithTimeout(time.Second)
	require.True(t, ok)
	assert.Equal(t, "hello", received.Text())
	assert.Equal(t, "127.0.0.1", received.Addr)
	require.NotNil(t, received.Identity)
	assert.Equal(t, "bob", received.Identity.Name)

	event, err := NewEventMessage(NewBytesEnvelope(OpStateReply, []byte{1, 2, 3}))
	require.NoError(t, err)
	require.NoError(t, host.Send(event))

	received, ok = joinerListener.WaitMessageWithTimeout(time.Second)
	require.True(t, ok)
	env, err := received.Envelope()
	require.NoError(t, err)
	assert.Equal(t, OpStateReply, env.Op)
	assert.Equal(t, []byte{1, 2, 3}, env.Data.Bytes)

	// Stopping the host for the next round disconnects the joiner but keeps
	// listening.
	require.NoError(t, host.Stop(KeepListener()))
	err, ok = joinerListener.WaitErrorWithTimeout(time.Second)
	require.True(t, ok)
	assert.Contains(t, err.Error(), "closed by peer")
	assert.Equal(t, 0, len(host.Peers()))

	require.NoError(t, host.Start())
}

func TestTransport_Datagram(t *testing.T) {
	receiverListener := NewChannelListener(0)
	receiver, err := Create(
		47831,
		WithDatagram(true),
		WithLocalAddr("203.0.113.1"),
		WithMessageListener(receiverListener),
	)
	require.NoError(t, err)
	require.NoError(t, receiver.Start())
	defer receiver.Stop()

	senderListener := NewChannelListener(0)
	sender, err := Create(
		47832,
		WithDatagram(true),
		WithLocalAddr("203.0.113.2"),
		WithIdentity(&Identity{Addr: "203.0.113.2", Name: "alice"}),
		WithMessageListener(senderListener),
	)
	require.NoError(t, err)
	require.NoError(t, sender.Start())
	defer sender.Stop()

	assert.Equal(t, "203.0.113.2", sender.LocalAddr())
	assert.Equal(t, 0, len(sender.Peers()))

	m := NewTextMessage("hello")
	m.Destinations = []string{"127.0.0.1:47831"}
	require.NoError(t, sender.Send(m))

	sent := <-senderListener.SentCh
	require.Equal(t, 1, len(sent.Results))
	assert.True(t, sent.Results[0].OK())

	received, ok := receiverListener.WaitMessageWithTimeout(time.Second)
	require.True(t, ok)
	assert.Equal(t, "hello", received.Text())
	assert.Equal(t, "alice", received.Identity.Name)

	require.NoError(t, sender.Stop(NotifyPeers("127.0.0.1:47831")))
	// Stopping again has no effect.
	require.NoError(t, sender.Stop(NotifyPeers("127.0.0.1:47831")))

	received, ok = receiverListener.WaitMessageWithTimeout(time.Second)
	require.True(t, ok)
	env, err := received.Envelope()
	require.NoError(t, err)
	assert.Equal(t, OpDisconnect, env.Op)
	assert.Equal(t, "alice", received.Identity.Name)
}

func TestTransport_LogListener(t *testing.T) {
	l := &recordingLogListener{}
	transport, err := Create(0, WithLogListener(l), WithLogWithTime(true))
	require.NoError(t, err)
	require.NoError(t, transport.Start())
	defer transport.Stop()

	found := false
	for _, line := range l.Lines() {
		if strings.Contains(line, "accepting connections") {
			found = true
			assert.Regexp(t, `^\d{2}:\d{2}:\d{2}\.\d{3} INFO `, line)
		}
	}
	assert.True(t, found)
}

func TestTransport_StopIdempotent(t *testing.T) {
	for _, options := range [][]Option{
		nil,
		{WithServerAddr("127.0.0.1")},
		{WithDatagram(true)},
	} {
		transport, err := Create(47840, options...)
		require.NoError(t, err)

		require.NoError(t, transport.Stop())
		require.NoError(t, transport.Stop())
	}
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "acceptor", ModeAcceptor.String())
	assert.Equal(t, "dialer", ModeDialer.String())
	assert.Equal(t, "datagram", ModeDatagram.String())
	assert.Equal(t, "mode(5)", Mode(5).String())
}
