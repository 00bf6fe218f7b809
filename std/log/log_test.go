package log_test

import (
	"bytes"
	"testing"

	"github.com/pinorobotics/rtpstalk/std/log"
	"github.com/stretchr/testify/require"
)

type tagged struct{}

func (tagged) String() string { return "component" }

func TestParseLevel(t *testing.T) {
	lvl, err := log.ParseLevel("debug")
	require.NoError(t, err)
	require.Equal(t, log.LevelDebug, lvl)

	lvl, err = log.ParseLevel(" TRACE ")
	require.NoError(t, err)
	require.Equal(t, log.LevelTrace, lvl)

	_, err = log.ParseLevel("verbose")
	require.Error(t, err)
}

func TestLoggerTagAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := log.NewText(&buf)

	l.Debug(tagged{}, "hidden")
	require.Empty(t, buf.String())

	prev := l.SetLevel(log.LevelWarn)
	require.Equal(t, log.LevelInfo, prev)

	l.Warn(tagged{}, "visible", "k", 1)
	out := buf.String()
	require.Contains(t, out, "tag=component")
	require.Contains(t, out, "level=WARN")
	require.Contains(t, out, "k=1")
}
