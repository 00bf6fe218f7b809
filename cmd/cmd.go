package cmd

import (
	rtps "github.com/pinorobotics/rtpstalk/rtps/cmd"
	"github.com/pinorobotics/rtpstalk/std/utils"
	"github.com/pinorobotics/rtpstalk/tools"
	"github.com/spf13/cobra"
)

const banner = `
       _         _        _ _
  _ __| |_ _ __ | |_ __ _| | | __
 | '__| __| '_ \| __/ _' | | |/ /
 | |  | |_| |_) | || (_| | |   <
 |_|   \__| .__/ \__\__,_|_|_|\_\
          |_|

RTPS/DDS participant
`

var CmdRtpstalk = &cobra.Command{
	Use:     "rtpstalk",
	Short:   "RTPS/DDS participant",
	Long:    banner[1:],
	Version: utils.Version,
}

func init() {
	cobra.EnableCommandSorting = false
	CmdRtpstalk.Root().CompletionOptions.HiddenDefaultCmd = true
	CmdRtpstalk.PersistentFlags().BoolP("help", "h", false, "Print usage")
	CmdRtpstalk.PersistentFlags().Lookup("help").Hidden = true

	CmdRtpstalk.AddGroup(&cobra.Group{ID: "run", Title: "Participant"})
	rtps.CmdRtps.Use = "run CONFIG-FILE"
	rtps.CmdRtps.Short = "Start a participant from a configuration file"
	CmdRtpstalk.AddCommand(rtps.CmdRtps)

	CmdRtpstalk.AddGroup(&cobra.Group{ID: "tools", Title: "Debug Tools"})
	CmdRtpstalk.AddCommand(tools.CmdPub())
	CmdRtpstalk.AddCommand(tools.CmdSub())
}
