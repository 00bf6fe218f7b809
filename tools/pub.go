package tools

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pinorobotics/rtpstalk/std/log"
	"github.com/spf13/cobra"
)

type Pub struct {
	endpointFlags
	interval int
	count    int
	message  string
	nSent    int
}

func CmdPub() *cobra.Command {
	p := Pub{}

	cmd := &cobra.Command{
		GroupID: "tools",
		Use:     "pub TOPIC",
		Short:   "Publish samples on a topic",
		Long: `Publish samples on a topic.
With --message the same sample is sent every interval, otherwise
each line of the standard input is sent as one sample.`,
		Args:    cobra.ExactArgs(1),
		Example: `  rtpstalk pub chatter -m hello -c 5`,
		Run:     p.run,
	}

	p.register(cmd)
	cmd.Flags().StringVarP(&p.message, "message", "m", "", "Sample payload")
	cmd.Flags().IntVarP(&p.interval, "interval", "i", 1000, "publish interval, in milliseconds")
	cmd.Flags().IntVarP(&p.count, "count", "c", 0, "number of samples to send")
	return cmd
}

func (p *Pub) String() string {
	return "pub"
}

func (p *Pub) run(_ *cobra.Command, args []string) {
	c := p.start(p)
	defer c.Close()

	pub, err := c.Publish(args[0], p.typeName, p.qos())
	if err != nil {
		log.Fatal(p, "Unable to create publisher", "topic", args[0], "err", err)
		return
	}
	defer pub.Close()
	fmt.Printf("PUB %s writer=%s\n", args[0], pub.Guid())
	defer p.stats(args[0])

	if p.message == "" {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			if err = pub.Write([]byte(scanner.Text())); err != nil {
				log.Error(p, "Unable to write sample", "err", err)
				return
			}
			p.nSent++
		}
		return
	}

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
	ticker := time.NewTicker(time.Duration(p.interval) * time.Millisecond)
	defer ticker.Stop()
	for p.count == 0 || p.nSent < p.count {
		select {
		case <-sigchan:
			return
		case <-ticker.C:
		}
		if err = pub.Write([]byte(p.message)); err != nil {
			log.Error(p, "Unable to write sample", "err", err)
			return
		}
		p.nSent++
	}
}

func (p *Pub) stats(topic string) {
	fmt.Printf("\n--- %s publisher statistics ---\n", topic)
	fmt.Printf("%d samples sent\n", p.nSent)
}
