package tools

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/pinorobotics/rtpstalk/rtps/client"
	"github.com/pinorobotics/rtpstalk/std/log"
	"github.com/pinorobotics/rtpstalk/std/utils/toolutils"
	"github.com/spf13/cobra"
)

type Sub struct {
	endpointFlags
	verbose bool
	nRecv   atomic.Int64
}

func CmdSub() *cobra.Command {
	s := Sub{}

	cmd := &cobra.Command{
		GroupID: "tools",
		Use:     "sub TOPIC",
		Short:   "Print samples received on a topic",
		Args:    cobra.ExactArgs(1),
		Example: `  rtpstalk sub chatter`,
		Run:     s.run,
	}

	s.register(cmd)
	cmd.Flags().BoolVarP(&s.verbose, "verbose", "v", false, "Print writer and sequence number of each sample")
	return cmd
}

func (s *Sub) String() string {
	return "sub"
}

func (s *Sub) run(_ *cobra.Command, args []string) {
	c := s.start(s)
	defer c.Close()

	if _, err := c.Subscribe(args[0], s.typeName, s.qos(), s.onMessage); err != nil {
		log.Fatal(s, "Unable to subscribe", "topic", args[0], "err", err)
		return
	}
	fmt.Printf("SUB %s participant=%s\n", args[0], c.Prefix())
	defer s.stats(args[0])

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
	<-sigchan
}

func (s *Sub) onMessage(m client.Message) {
	s.nRecv.Add(1)
	if !s.verbose {
		fmt.Printf("%s\n", m.Data)
		return
	}
	p := toolutils.StatusPrinter{File: os.Stdout, Padding: 8}
	p.Print("writer", m.Writer)
	p.Print("sn", m.SequenceNumber)
	p.Print("time", m.Timestamp)
	for _, up := range m.UserParameters {
		p.Print(fmt.Sprintf("%#04x", uint16(up.Id)), up.Value)
	}
	p.Print("data", string(m.Data))
}

func (s *Sub) stats(topic string) {
	fmt.Printf("\n--- %s subscriber statistics ---\n", topic)
	fmt.Printf("%d samples received\n", s.nRecv.Load())
}
