// Package client is the public entry point: a participant that can
// subscribe to and publish on topics.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/pinorobotics/rtpstalk/rtps/behavior"
	"github.com/pinorobotics/rtpstalk/rtps/config"
	"github.com/pinorobotics/rtpstalk/rtps/discovery"
	"github.com/pinorobotics/rtpstalk/rtps/executor"
	"github.com/pinorobotics/rtpstalk/rtps/metrics"
	"github.com/pinorobotics/rtpstalk/rtps/topic"
	"github.com/pinorobotics/rtpstalk/rtps/transport"
	"github.com/pinorobotics/rtpstalk/rtps/wire"
	"github.com/pinorobotics/rtpstalk/std/log"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

type state int32

const (
	stateNew state = iota
	stateStarted
	stateClosed
)

// Client is one RTPS participant.
type Client struct {
	cfg        *config.Config
	factory    transport.Factory
	addrs      []netip.Addr
	clock      clock.Clock
	registerer prometheus.Registerer

	state   atomic.Int32
	metrics *metrics.Metrics
	pool    *executor.Pool
	cancel  context.CancelFunc

	participantId uint32
	ports         config.Ports
	data          *discovery.ParticipantData
	out           *behavior.Outbound
	metaRecv      *behavior.Receiver
	userRecv      *behavior.Receiver
	metaChannels  []transport.Receiver
	userChannels  []transport.Receiver

	sedp *discovery.Sedp
	spdp *discovery.Spdp
	pubs *topic.Manager[*topic.LocalWriter]
	subs *topic.Manager[*topic.LocalReader]

	mu            sync.Mutex
	nextReader    uint32
	nextWriter    uint32
	subscriptions map[wire.EntityId]*subscription
	publishers    map[wire.EntityId]*Publisher
}

// NewClient validates cfg. Nothing is bound until Start.
func NewClient(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Parse(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	c := &Client{
		cfg:           cfg,
		clock:         clock.New(),
		subscriptions: make(map[wire.EntityId]*subscription),
		publishers:    make(map[wire.EntityId]*Publisher),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) String() string {
	return "client (" + c.cfg.Prefix().String() + ")"
}

// Prefix is the guid prefix of the participant.
func (c *Client) Prefix() wire.GuidPrefix {
	return c.cfg.Prefix()
}

// ParticipantId is the id picked while binding, valid after Start.
func (c *Client) ParticipantId() uint32 {
	return c.participantId
}

// Participants lists the remote participants currently alive.
func (c *Client) Participants() []*discovery.ParticipantData {
	if state(c.state.Load()) != stateStarted {
		return nil
	}
	return c.spdp.Participants()
}

func (c *Client) behaviorOptions() behavior.Options {
	return behavior.Options{
		Clock:           c.clock,
		HeartbeatPeriod: c.cfg.HeartbeatPeriod(),
		AckPeriod:       c.cfg.AckPeriod(),
		HistorySize:     c.cfg.HistoryCacheMaxSize,
		Metrics:         c.metrics,
	}
}

// Start binds the channels and starts discovery.
func (c *Client) Start() (err error) {
	if !c.state.CompareAndSwap(int32(stateNew), int32(stateStarted)) {
		if state(c.state.Load()) == stateClosed {
			return ErrClosed
		}
		return ErrAlreadyStarted
	}
	defer func() {
		if err != nil {
			c.closeChannels()
			if c.cancel != nil {
				c.cancel()
			}
			c.metrics.Unregister(c.registerer)
			c.state.Store(int32(stateClosed))
		}
	}()

	if c.metrics, err = metrics.New(c.registerer); err != nil {
		return err
	}
	if err = c.setupTransport(); err != nil {
		return err
	}
	prefix := c.cfg.Prefix()
	c.out = behavior.NewOutbound(prefix, c.factory, c.metrics)
	c.metaRecv = behavior.NewReceiver(prefix, c.metrics)
	c.userRecv = behavior.NewReceiver(prefix, c.metrics)
	if err = c.bindChannels(); err != nil {
		return err
	}

	var poolOpts []executor.Option
	if c.registerer != nil {
		poolOpts = append(poolOpts, executor.WithMetrics(c.registerer, "rtpstalk_executor"))
	}
	if c.pool, err = executor.NewPool(c.cfg.Workers, c.cfg.QueueSize, poolOpts...); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	if err = c.pool.Start(ctx); err != nil {
		return err
	}

	c.data = c.participantData()
	opts := c.behaviorOptions()
	c.sedp = discovery.NewSedp(c.out, c.metaRecv, opts)
	c.spdp = discovery.NewSpdp(c.data, c.sedp, c.out, c.metaRecv, discovery.SpdpOptions{
		Clock:            c.clock,
		AnnouncePeriod:   c.cfg.SpdpAnnouncePeriod(),
		LeaseDuration:    c.cfg.LeaseDuration(),
		AnnounceLocators: c.data.MetatrafficMulticast,
		Metrics:          c.metrics,
	})
	c.pubs = topic.NewPublisherManager(c.sedp, c.spdp)
	c.subs = topic.NewSubscriberManager(c.sedp, c.spdp)

	c.sedp.Start()
	// Topic managers listen before SPDP can report anyone.
	c.pubs.Start()
	c.subs.Start()
	c.spdp.Start()

	log.Info(c, "Participant started", "participant_id", c.participantId,
		"metatraffic", c.data.MetatrafficUnicast, "user", c.data.DefaultUnicast)
	return nil
}

func (c *Client) setupTransport() error {
	if c.factory != nil {
		if len(c.addrs) == 0 {
			return ErrNoAddress
		}
		return nil
	}
	ifaces, err := transport.UsableInterfaces(c.cfg.NetworkInterface)
	if err != nil {
		return err
	}
	if len(ifaces) == 0 {
		return ErrNoAddress
	}
	for _, iface := range ifaces {
		c.addrs = append(c.addrs, iface.Addr)
	}
	c.factory = transport.NewUdpFactory(ifaces, c.cfg.PacketBufferSize)
	return nil
}

// bindChannels picks the first participant id whose unicast ports are
// free, then joins the multicast groups.
func (c *Client) bindChannels() error {
	fixed := c.cfg.BuiltinEndpointsPort != 0 && c.cfg.UserEndpointsPort != 0
	var errs error
	for pid := uint32(0); pid <= config.MaxParticipantId; pid++ {
		ports := c.cfg.PortsFor(pid)
		meta, err := c.bindUnicast(ports.MetatrafficUnicast, c.metaRecv)
		if err == nil {
			var user []transport.Receiver
			if user, err = c.bindUnicast(ports.UserUnicast, c.userRecv); err == nil {
				c.participantId = pid
				c.ports = ports
				c.metaChannels = meta
				c.userChannels = user
				return c.bindMulticast()
			}
			closeAll(meta)
		}
		errs = multierr.Append(errs, err)
		if fixed {
			break
		}
	}
	return fmt.Errorf("%w: %w", ErrNoParticipantId, errs)
}

func (c *Client) bindUnicast(port uint32, recv *behavior.Receiver) ([]transport.Receiver, error) {
	var out []transport.Receiver
	for _, addr := range c.addrs {
		r, err := c.factory.Bind(wire.NewUdpv4Locator(addr, port), recv.OnFrame)
		if err != nil {
			closeAll(out)
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (c *Client) bindMulticast() error {
	var (
		g          errgroup.Group
		meta, user transport.Receiver
	)
	g.Go(func() (err error) {
		meta, err = c.factory.Bind(wire.NewUdpv4Locator(config.DefaultMulticastAddress, c.ports.MetatrafficMulticast), c.metaRecv.OnFrame)
		return err
	})
	g.Go(func() (err error) {
		user, err = c.factory.Bind(wire.NewUdpv4Locator(config.DefaultMulticastAddress, c.ports.UserMulticast), c.userRecv.OnFrame)
		return err
	})
	err := g.Wait()
	if meta != nil {
		c.metaChannels = append(c.metaChannels, meta)
	}
	if user != nil {
		c.userChannels = append(c.userChannels, user)
	}
	return err
}

func (c *Client) participantData() *discovery.ParticipantData {
	locs := func(port uint32) []wire.Locator {
		out := make([]wire.Locator, 0, len(c.addrs))
		for _, addr := range c.addrs {
			out = append(out, wire.NewUdpv4Locator(addr, port))
		}
		return out
	}
	return &discovery.ParticipantData{
		ProtocolVersion:      wire.ProtocolVersion_2_3,
		VendorId:             wire.VendorIdRtpstalk,
		Guid:                 wire.NewGuid(c.cfg.Prefix(), wire.EntityIdParticipant),
		DefaultUnicast:       locs(c.ports.UserUnicast),
		DefaultMulticast:     []wire.Locator{wire.NewUdpv4Locator(config.DefaultMulticastAddress, c.ports.UserMulticast)},
		MetatrafficUnicast:   locs(c.ports.MetatrafficUnicast),
		MetatrafficMulticast: []wire.Locator{c.cfg.MetatrafficMulticastLocator()},
		LeaseDuration:        c.cfg.LeaseDuration(),
		BuiltinEndpoints:     discovery.DefaultBuiltinEndpoints,
		EntityName:           c.cfg.ParticipantName,
	}
}

func (c *Client) started() error {
	switch state(c.state.Load()) {
	case stateNew:
		return ErrNotStarted
	case stateClosed:
		return ErrClosed
	}
	return nil
}

func (c *Client) endpointData(topicName, typeName string, id wire.EntityId, qos wire.QosPolicy) *discovery.EndpointData {
	return &discovery.EndpointData{
		Topic:           discovery.TopicId{Name: topicName, Type: typeName},
		ParticipantGuid: c.data.Guid,
		EndpointGuid:    wire.NewGuid(c.cfg.Prefix(), id),
		UnicastLocators: c.data.DefaultUnicast,
		Qos:             qos,
		ProtocolVersion: wire.ProtocolVersion_2_3,
		VendorId:        wire.VendorIdRtpstalk,
	}
}

// Close tears the participant down: local endpoints are disposed over
// SEDP, the participant over SPDP, then discovery, channels and finally
// the callback executor stop.
func (c *Client) Close() error {
	prev := state(c.state.Swap(int32(stateClosed)))
	if prev != stateStarted {
		return nil
	}

	c.pubs.Close()
	c.subs.Close()
	c.spdp.Dispose()
	c.sedp.CloseWriters()
	c.sedp.CloseReaders()
	c.spdp.Close()

	c.mu.Lock()
	pubs := c.publishers
	subs := c.subscriptions
	c.publishers = make(map[wire.EntityId]*Publisher)
	c.subscriptions = make(map[wire.EntityId]*subscription)
	c.mu.Unlock()
	for _, p := range pubs {
		p.close()
	}
	for _, s := range subs {
		s.close()
	}

	errs := c.closeChannels()
	if err := c.pool.Stop(c.cfg.ShutdownTimeout()); err != nil {
		if errors.Is(err, executor.ErrStopTimeout) {
			log.Fatal(c, "Callbacks still running at shutdown", "timeout", c.cfg.ShutdownTimeout())
			err = ErrShutdownTimeout
		}
		errs = multierr.Append(errs, err)
	}
	c.cancel()
	c.metrics.Unregister(c.registerer)
	log.Info(c, "Participant closed")
	return errs
}

// closeChannels closes user channels before metatraffic ones.
func (c *Client) closeChannels() error {
	errs := multierr.Combine(closeAll(c.userChannels), closeAll(c.metaChannels))
	c.userChannels, c.metaChannels = nil, nil
	if c.out != nil {
		errs = multierr.Append(errs, c.out.Close())
	}
	return errs
}

func closeAll(rs []transport.Receiver) error {
	var errs error
	for _, r := range rs {
		errs = multierr.Append(errs, r.Close())
	}
	return errs
}
