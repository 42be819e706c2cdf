package internal

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const logTimeLayout = "15:04:05.000"

// WithLogListener returns a logger that writes to both the given logger and
// the listener. If withTime is set each line passed to the listener is
// prefixed with the entry time.
func WithLogListener(logger *zap.Logger, listener LogListener, withTime bool) *zap.Logger {
	if listener == nil {
		return logger
	}
	return logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, newListenerCore(listener, withTime))
	}))
}

// listenerCore is a zapcore.Core that formats entries as console lines and
// passes them to a LogListener.
type listenerCore struct {
	zapcore.LevelEnabler

	enc      zapcore.Encoder
	listener LogListener
	withTime bool
}

func newListenerCore(listener LogListener, withTime bool) *listenerCore {
	enc := zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		LevelKey:         "level",
		NameKey:          "logger",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		EncodeName:       zapcore.FullNameEncoder,
		ConsoleSeparator: " ",
	})
	return &listenerCore{
		LevelEnabler: zapcore.DebugLevel,
		enc:          enc,
		listener:     listener,
		withTime:     withTime,
	}
}

func (c *listenerCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.enc = c.enc.Clone()
	for i := range fields {
		fields[i].AddTo(clone.enc)
	}
	return &clone
}

func (c *listenerCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *listenerCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(ent, fields)
	if err != nil {
		return err
	}
	text := strings.TrimSuffix(buf.String(), "\n")
	buf.Free()

	if c.withTime {
		text = ent.Time.Format(logTimeLayout) + " " + text
	}

	defer func() {
		_ = recover()
	}()
	c.listener.OnLog(text)
	return nil
}

func (c *listenerCore) Sync() error {
	return nil
}
