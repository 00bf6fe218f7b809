package log

import (
	"context"
	"io"
	"log/slog"
	"runtime"
	"sync/atomic"
)

// Logger is a leveled slog logger where every record carries the tag
// of the component that emitted it.
type Logger struct {
	slog  *slog.Logger
	level atomic.Int64
}

// Tag is implemented by every long-lived component that logs.
type Tag interface {
	String() string
}

func NewText(w io.Writer) *Logger {
	return newLogger(slog.NewTextHandler(w, handlerOptions()))
}

func NewJson(w io.Writer) *Logger {
	return newLogger(slog.NewJSONHandler(w, handlerOptions()))
}

func newLogger(h slog.Handler) *Logger {
	l := &Logger{slog: slog.New(h)}
	l.level.Store(int64(LevelInfo))
	return l
}

func handlerOptions() *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level:       slog.Level(LevelTrace),
		ReplaceAttr: replaceAttr,
	}
}

// SetLevel sets the logging level and returns the previous level.
func (l *Logger) SetLevel(level Level) (prev Level) {
	return Level(l.level.Swap(int64(level)))
}

// Level returns the current logging level.
func (l *Logger) Level() Level {
	return Level(l.level.Load())
}

// Enabled reports whether messages at the level would be written.
func (l *Logger) Enabled(level Level) bool {
	return l.Level() <= level
}

func (l *Logger) log(t any, msg string, level Level, v ...any) {
	if !l.Enabled(level) {
		return
	}

	// Caller function name on debug builds of the log
	if l.Level() <= LevelDebug {
		if pc, _, _, ok := runtime.Caller(2); ok {
			if f := runtime.FuncForPC(pc); f != nil {
				v = append(v, slog.SourceKey, f.Name())
			}
		}
	}

	if t != nil {
		if tag, ok := t.(Tag); ok {
			v = append([]any{"tag", tag.String()}, v...)
		} else {
			v = append([]any{"tag", t}, v...)
		}
	}

	l.slog.Log(context.Background(), slog.Level(level), msg, v...)
}

func (l *Logger) Trace(t any, msg string, v ...any) { l.log(t, msg, LevelTrace, v...) }
func (l *Logger) Debug(t any, msg string, v ...any) { l.log(t, msg, LevelDebug, v...) }
func (l *Logger) Info(t any, msg string, v ...any)  { l.log(t, msg, LevelInfo, v...) }
func (l *Logger) Warn(t any, msg string, v ...any)  { l.log(t, msg, LevelWarn, v...) }
func (l *Logger) Error(t any, msg string, v ...any) { l.log(t, msg, LevelError, v...) }

// Fatal logs at the highest level. The caller decides whether to exit.
func (l *Logger) Fatal(t any, msg string, v ...any) { l.log(t, msg, LevelFatal, v...) }

func replaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if level, ok := a.Value.Any().(slog.Level); ok {
			a.Value = slog.StringValue(Level(level).String())
		}
	}
	return a
}
