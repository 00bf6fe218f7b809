package cmd

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pinorobotics/rtpstalk/rtps/client"
	"github.com/pinorobotics/rtpstalk/rtps/config"
	"github.com/pinorobotics/rtpstalk/std/log"
	"github.com/pinorobotics/rtpstalk/std/utils"
	"github.com/pinorobotics/rtpstalk/std/utils/toolutils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var cfg = config.DefaultConfig()

var CmdRtps = &cobra.Command{
	Use:     "rtpstalk CONFIG-FILE",
	Short:   "Run an RTPS participant",
	GroupID: "run",
	Version: utils.Version,
	Args:    cobra.ExactArgs(1),
	Run:     run,
}

func init() {
	CmdRtps.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (TRACE, DEBUG, INFO, WARN, ERROR)")
	CmdRtps.Flags().StringVar(&cfg.MetricsListen, "metrics-listen", "", "Serve Prometheus metrics on this address")
}

// Daemon is a participant with nothing attached to it except discovery,
// plus the optional metrics endpoint.
type Daemon struct {
	cfg     *config.Config
	client  *client.Client
	metrics *http.Server
}

func NewDaemon(cfg *config.Config) (*Daemon, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c, err := client.NewClient(cfg, client.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	d := &Daemon{cfg: cfg, client: c}
	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		d.metrics = &http.Server{
			Addr:              cfg.MetricsListen,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return d, nil
}

func (d *Daemon) String() string {
	return "rtpstalk"
}

// Start is non-blocking.
func (d *Daemon) Start() error {
	log.Info(d, "Starting RTPS participant", "version", utils.Version, "domain", d.cfg.DomainId)
	if err := d.client.Start(); err != nil {
		return err
	}
	if d.metrics != nil {
		go func() {
			err := d.metrics.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(d, "Metrics server failed", "addr", d.metrics.Addr, "err", err)
			}
		}()
		log.Info(d, "Serving metrics", "addr", d.metrics.Addr)
	}
	return nil
}

func (d *Daemon) Stop() error {
	if d.metrics != nil {
		d.metrics.Close()
	}
	return d.client.Close()
}

func run(cmd *cobra.Command, args []string) {
	toolutils.MustReadYaml(cfg, args[0])
	// Flags win over the file.
	if f := cmd.Flags().Lookup("log-level"); f.Changed {
		cfg.LogLevel = f.Value.String()
	}
	if f := cmd.Flags().Lookup("metrics-listen"); f.Changed {
		cfg.MetricsListen = f.Value.String()
	}
	if err := log.Configure(os.Stderr, "text", cfg.LogLevel); err != nil {
		log.Fatal(nil, "Invalid log level", "err", err)
		os.Exit(2)
	}

	d, err := NewDaemon(cfg)
	if err != nil {
		log.Fatal(nil, "Unable to create participant", "err", err)
		os.Exit(2)
	}
	if err = d.Start(); err != nil {
		log.Fatal(d, "Unable to start participant", "err", err)
		os.Exit(2)
	}

	sigChannel := make(chan os.Signal, 1)
	signal.Notify(sigChannel, os.Interrupt, syscall.SIGTERM)
	receivedSig := <-sigChannel
	log.Info(d, "Received signal - exit", "signal", receivedSig)

	if err = d.Stop(); err != nil {
		log.Error(d, "Participant did not close cleanly", "err", err)
		os.Exit(1)
	}
}
