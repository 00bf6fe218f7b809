package client

import (
	"net/netip"

	"github.com/benbjohnson/clock"
	"github.com/pinorobotics/rtpstalk/rtps/transport"
	"github.com/prometheus/client_golang/prometheus"
)

type Option func(*Client)

// WithTransport replaces the UDP transport. addrs are the local unicast
// addresses to bind and announce.
func WithTransport(factory transport.Factory, addrs ...netip.Addr) Option {
	return func(c *Client) {
		c.factory = factory
		c.addrs = addrs
	}
}

// WithClock drives every protocol timer from clk.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) {
		c.clock = clk
	}
}

// WithRegisterer registers the protocol metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) {
		c.registerer = reg
	}
}
