package cmd_test

import (
	"testing"

	"github.com/pinorobotics/rtpstalk/rtps/cmd"
	"github.com/pinorobotics/rtpstalk/rtps/config"
	tu "github.com/pinorobotics/rtpstalk/std/utils/testutils"
	"github.com/stretchr/testify/require"
)

func TestNewDaemonValidatesConfig(t *testing.T) {
	tu.SetT(t)

	cfg := config.DefaultConfig()
	cfg.Backpressure = "sometimes"
	tu.Err(cmd.NewDaemon(cfg))

	cfg = config.DefaultConfig()
	cfg.MetricsListen = "127.0.0.1:0"
	d := tu.NoErr(cmd.NewDaemon(cfg))
	require.Equal(t, "rtpstalk", d.String())
}

func TestRunRequiresConfigFile(t *testing.T) {
	require.Error(t, cmd.CmdRtps.Args(cmd.CmdRtps, nil))
	require.NoError(t, cmd.CmdRtps.Args(cmd.CmdRtps, []string{"rtpstalk.yml"}))
}
