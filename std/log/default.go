package log

import (
	"io"
	"os"
	"sync/atomic"
)

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(NewText(os.Stderr))
}

// Default returns the process-wide logger.
func Default() *Logger {
	return defaultLogger.Load()
}

// SetDefault replaces the process-wide logger.
func SetDefault(l *Logger) {
	defaultLogger.Store(l)
}

// Configure installs a text or json logger on w with the given level name.
func Configure(w io.Writer, format string, level string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	var l *Logger
	if format == "json" {
		l = NewJson(w)
	} else {
		l = NewText(w)
	}
	l.SetLevel(lvl)
	SetDefault(l)
	return nil
}

func Trace(t any, msg string, v ...any) { Default().log(t, msg, LevelTrace, v...) }
func Debug(t any, msg string, v ...any) { Default().log(t, msg, LevelDebug, v...) }
func Info(t any, msg string, v ...any)  { Default().log(t, msg, LevelInfo, v...) }
func Warn(t any, msg string, v ...any)  { Default().log(t, msg, LevelWarn, v...) }
func Error(t any, msg string, v ...any) { Default().log(t, msg, LevelError, v...) }
func Fatal(t any, msg string, v ...any) { Default().log(t, msg, LevelFatal, v...) }

// HasTrace returns if trace level is enabled.
func HasTrace() bool {
	return Default().Enabled(LevelTrace)
}
