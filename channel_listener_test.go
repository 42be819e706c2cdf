package peerlink

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelListener_DropsWhenFull(t *testing.T) {
	l := NewChannelListener(1)

	l.OnMessage(NewTextMessage("foo"))
	l.OnMessage(NewTextMessage("bar"))
	assert.Equal(t, uint64(1), l.Dropped())

	m, ok := l.WaitMessageWithTimeout(time.Second)
	require.True(t, ok)
	assert.Equal(t, "foo", m.Text())

	_, ok = l.WaitMessageWithTimeout(10 * time.Millisecond)
	assert.False(t, ok)
}

func TestChannelListener_Errors(t *testing.T) {
	l := NewChannelListener(0)

	l.OnError("peer 10.0.0.2 unresponsive")
	l.OnException(ErrTruncated, "invalid frame from 10.0.0.2")

	err, ok := l.WaitErrorWithTimeout(time.Second)
	require.True(t, ok)
	assert.Equal(t, "peer 10.0.0.2 unresponsive", err.Error())

	err, ok = l.WaitErrorWithTimeout(time.Second)
	require.True(t, ok)
	assert.True(t, errors.Is(err, ErrTruncated))
	assert.Equal(t, "invalid frame from 10.0.0.2: "+ErrTruncated.Error(), err.Error())

	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, "invalid frame from 10.0.0.2", transportErr.Description)
}
