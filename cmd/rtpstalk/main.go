package main

import (
	"os"

	"github.com/pinorobotics/rtpstalk/cmd"
)

func main() {
	if err := cmd.CmdRtpstalk.Execute(); err != nil {
		os.Exit(1)
	}
}
