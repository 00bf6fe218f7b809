package behavior

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pinorobotics/rtpstalk/rtps/metrics"
	"github.com/pinorobotics/rtpstalk/rtps/transport"
	"github.com/pinorobotics/rtpstalk/rtps/wire"
	"go.uber.org/multierr"
)

var ErrNoLocator = errors.New("no usable locator")

// Outbound keeps one lazily connected channel per remote locator.
type Outbound struct {
	prefix  wire.GuidPrefix
	factory transport.Factory
	metrics *metrics.Metrics

	mu       sync.Mutex
	channels map[wire.Locator]transport.DataChannel
	closed   bool
}

func NewOutbound(prefix wire.GuidPrefix, factory transport.Factory, m *metrics.Metrics) *Outbound {
	return &Outbound{
		prefix:   prefix,
		factory:  factory,
		metrics:  m,
		channels: make(map[wire.Locator]transport.DataChannel),
	}
}

func (o *Outbound) String() string {
	return "outbound"
}

// Prefix is the guid prefix put in every message header.
func (o *Outbound) Prefix() wire.GuidPrefix {
	return o.prefix
}

func (o *Outbound) channel(loc wire.Locator) (transport.DataChannel, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, transport.ErrClosed
	}
	if ch, ok := o.channels[loc]; ok {
		return ch, nil
	}
	ch, err := o.factory.Connect(loc)
	if err != nil {
		return nil, err
	}
	o.channels[loc] = ch
	return ch, nil
}

// Send encodes msg and sends it to loc.
func (o *Outbound) Send(loc wire.Locator, msg *wire.Message) error {
	frame, err := msg.Encode()
	if err != nil {
		return err
	}
	ch, err := o.channel(loc)
	if err != nil {
		return err
	}
	if err = ch.Send(frame); err != nil {
		return fmt.Errorf("send to %s: %w", loc, err)
	}
	for _, s := range msg.Submessages {
		o.metrics.SubmessageSent(s.Kind().String())
	}
	return nil
}

// SendFirst sends msg to the first locator that accepts it.
func (o *Outbound) SendFirst(locs []wire.Locator, msg *wire.Message) error {
	var errs error
	for _, loc := range locs {
		if !loc.IsValid() {
			continue
		}
		err := o.Send(loc, msg)
		if err == nil {
			return nil
		}
		errs = multierr.Append(errs, err)
	}
	if errs == nil {
		return ErrNoLocator
	}
	return errs
}

// Close closes every channel opened so far.
func (o *Outbound) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	var errs error
	for loc, ch := range o.channels {
		errs = multierr.Append(errs, ch.Close())
		delete(o.channels, loc)
	}
	return errs
}
