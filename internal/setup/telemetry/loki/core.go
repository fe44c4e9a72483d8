package loki

import (
	"github.com/bytedance/sonic"
	"go.uber.org/zap/zapcore"
)

// Core implements zapcore.Core for Loki log shipping.
type Core struct {
	zapcore.LevelEnabler

	pusher *Pusher
	fields []zapcore.Field
}

// NewCore creates a new Loki Core with the provided pusher.
func NewCore(enabler zapcore.LevelEnabler, pusher *Pusher) *Core {
	return &Core{
		LevelEnabler: enabler,
		pusher:       pusher,
	}
}

// With returns a Core carrying the given context fields.
func (c *Core) With(fields []zapcore.Field) zapcore.Core {
	merged := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	merged = append(merged, c.fields...)
	merged = append(merged, fields...)

	return &Core{
		LevelEnabler: c.LevelEnabler,
		pusher:       c.pusher,
		fields:       merged,
	}
}

// Check determines whether the supplied Entry should be logged.
func (c *Core) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}

	return ce
}

// Write encodes the entry as JSON and queues it for the pusher.
func (c *Core) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	rec := record{
		Level:     ent.Level.String(),
		Timestamp: ent.Time.UnixMilli(),
		Logger:    ent.LoggerName,
		Message:   ent.Message,
		Stack:     ent.Stack,
	}
	if ent.Caller.Defined {
		rec.Caller = ent.Caller.TrimmedPath()
	}

	if len(c.fields)+len(fields) > 0 {
		enc := zapcore.NewMapObjectEncoder()
		for i := range c.fields {
			c.fields[i].AddTo(enc)
		}
		for i := range fields {
			fields[i].AddTo(enc)
		}
		rec.Fields = enc.Fields
	}

	raw, err := sonic.Marshal(rec)
	if err != nil {
		return err
	}

	c.pusher.Add(entry{timestamp: ent.Time.UnixNano(), line: string(raw)})

	return nil
}

// Sync is a no-op. The pusher flushes on its own schedule and on Stop.
func (c *Core) Sync() error {
	return nil
}
