package logger

import "context"

// LoggerContext accumulates attributes over the course of an operation so
// that later log lines carry everything learned so far.
type LoggerContext struct {
	base  *Logger
	attrs []any
}

// NewLoggerContext wraps l for incremental attribute collection.
func NewLoggerContext(l *Logger) *LoggerContext { return &LoggerContext{base: l} }

// Add appends key/value pairs that are emitted with every subsequent call.
func (lc *LoggerContext) Add(args ...any) { lc.attrs = append(lc.attrs, args...) }

func (lc *LoggerContext) args(extra []any) []any {
	out := make([]any, 0, len(lc.attrs)+len(extra))
	out = append(out, lc.attrs...)
	return append(out, extra...)
}

func (lc *LoggerContext) Debug(ctx context.Context, msg string, args ...any) {
	lc.base.Debugc(ctx, 4, msg, lc.args(args)...)
}

func (lc *LoggerContext) Info(ctx context.Context, msg string, args ...any) {
	lc.base.Infoc(ctx, 4, msg, lc.args(args)...)
}

func (lc *LoggerContext) Warn(ctx context.Context, msg string, args ...any) {
	lc.base.write(ctx, LevelWarn, 3, msg, lc.args(args)...)
}

func (lc *LoggerContext) Error(ctx context.Context, msg string, args ...any) {
	lc.base.write(ctx, LevelError, 3, msg, lc.args(args)...)
}
