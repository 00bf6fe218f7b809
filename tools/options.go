package tools

import (
	"fmt"
	"os"

	"github.com/pinorobotics/rtpstalk/rtps/client"
	"github.com/pinorobotics/rtpstalk/rtps/config"
	"github.com/pinorobotics/rtpstalk/rtps/wire"
	"github.com/pinorobotics/rtpstalk/std/log"
	"github.com/pinorobotics/rtpstalk/std/utils/toolutils"
	"github.com/spf13/cobra"
)

// endpointFlags are shared by pub and sub.
type endpointFlags struct {
	configFile string
	typeName   string
	reliable   bool
	logLevel   string
}

func (f *endpointFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.configFile, "config", "", "Participant configuration file (YAML)")
	cmd.Flags().StringVarP(&f.typeName, "type", "t", "std_msgs::msg::dds_::String_", "Topic type name")
	cmd.Flags().BoolVarP(&f.reliable, "reliable", "r", true, "Use RELIABLE instead of BEST_EFFORT")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "WARN", "Log level")
}

func (f *endpointFlags) qos() wire.QosPolicy {
	if f.reliable {
		return wire.QosReliable
	}
	return wire.QosBestEffort
}

// start creates and starts a participant, exiting on failure.
func (f *endpointFlags) start(tag fmt.Stringer) *client.Client {
	cfg := config.DefaultConfig()
	if f.configFile != "" {
		toolutils.MustReadYaml(cfg, f.configFile)
	}
	if err := log.Configure(os.Stderr, "text", f.logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(3)
	}
	c, err := client.NewClient(cfg)
	if err == nil {
		err = c.Start()
	}
	if err != nil {
		log.Fatal(tag, "Unable to start participant", "err", err)
		os.Exit(2)
	}
	return c
}
