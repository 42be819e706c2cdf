package internal

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
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

func TestWithLogListener(t *testing.T) {
	l := &recordingLogListener{}
	logger := WithLogListener(zap.NewNop(), l, false)

	logger.Info("peer connected", zap.String("addr", "10.0.0.2"))

	lines := l.Lines()
	require.Equal(t, 1, len(lines))
	assert.Regexp(t, `^INFO peer connected {"addr": "10.0.0.2"}$`, lines[0])
}

func TestWithLogListener_WithTime(t *testing.T) {
	l := &recordingLogListener{}
	logger := WithLogListener(zap.NewNop(), l, true)

	logger.With(zap.String("transport", "acceptor")).Warn("stopped")

	lines := l.Lines()
	require.Equal(t, 1, len(lines))
	assert.Regexp(t, `^\d{2}:\d{2}:\d{2}\.\d{3} WARN stopped {"transport": "acceptor"}$`, lines[0])
}

func TestWithLogListener_NilListener(t *testing.T) {
	logger := zap.NewNop()
	assert.Equal(t, logger, WithLogListener(logger, nil, false))
}
