package config

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/pinorobotics/rtpstalk/rtps/wire"
	"github.com/pinorobotics/rtpstalk/std/log"
	"github.com/pinorobotics/rtpstalk/std/utils"
)

// Well-known port mapping parameters.
const (
	PortBase        = 7400
	DomainGain      = 250
	ParticipantGain = 2
	OffsetD0        = 0
	OffsetD1        = 10
	OffsetD2        = 1
	OffsetD3        = 11
)

// MaxParticipantId bounds the search for a free participant id.
const MaxParticipantId = 119

var DefaultMulticastAddress = netip.MustParseAddr("239.255.0.1")

type Backpressure string

const (
	BackpressureBlock Backpressure = "block"
	BackpressureDrop  Backpressure = "drop"
)

type Config struct {
	// DDS domain, selects the port range.
	DomainId uint32 `json:"domain_id"`
	// Interface to announce and receive on. Empty means every usable one.
	NetworkInterface string `json:"network_interface"`
	// Metatraffic unicast port. Zero derives it from the domain.
	BuiltinEndpointsPort uint32 `json:"builtin_endpoints_port"`
	// User traffic unicast port. Zero derives it from the domain.
	UserEndpointsPort uint32 `json:"user_endpoints_port"`
	// Changes retained per writer.
	HistoryCacheMaxSize int `json:"history_cache_max_size"`
	// Samples buffered per subscription before backpressure applies.
	PublisherMaxBufferSize int `json:"publisher_max_buffer_size"`
	// What a full subscription buffer does: "block" or "drop".
	Backpressure Backpressure `json:"backpressure"`
	// Period of SPDP participant announcements.
	SpdpAnnouncePeriod_ms uint64 `json:"spdp_announce_period"`
	// Period of reliable writer heartbeats.
	HeartbeatPeriod_ms uint64 `json:"heartbeat_period"`
	// Period at which readers answer pending heartbeats.
	AckPeriod_ms uint64 `json:"ack_period"`
	// Fixed guid prefix (24 hex digits). Empty generates a random one.
	GuidPrefix string `json:"guid_prefix"`
	// How long a publisher waits for a remote participant to acknowledge
	// its announcement before sending data.
	ReaderAckTopicTimeout_ms uint64 `json:"reader_ack_topic_timeout"`
	// Lease announced to, and applied to, remote participants.
	LeaseDuration_ms uint64 `json:"lease_duration"`
	// Largest datagram sent or received.
	PacketBufferSize int `json:"packet_buffer_size"`
	// Callback worker count and per-worker queue size.
	Workers   int `json:"workers"`
	QueueSize int `json:"queue_size"`
	// Bound on waiting for callbacks to drain at close.
	ShutdownTimeout_ms uint64 `json:"shutdown_timeout"`
	// Wire byte order. Only "little" is supported.
	Endianness string `json:"endianness"`
	// Participant name announced in SPDP.
	ParticipantName string `json:"participant_name"`
	LogLevel        string `json:"log_level"`
	// Address for the Prometheus /metrics endpoint. Empty disables it.
	MetricsListen string `json:"metrics_listen"`

	guidPrefix wire.GuidPrefix
	ifaceAddr  netip.Addr
}

func DefaultConfig() *Config {
	return &Config{
		DomainId:                 0,
		HistoryCacheMaxSize:      100,
		PublisherMaxBufferSize:   32,
		Backpressure:             BackpressureBlock,
		SpdpAnnouncePeriod_ms:    5000,
		HeartbeatPeriod_ms:       1000,
		AckPeriod_ms:             100,
		ReaderAckTopicTimeout_ms: 2000,
		LeaseDuration_ms:         20000,
		PacketBufferSize:         65536,
		Workers:                  4,
		QueueSize:                256,
		ShutdownTimeout_ms:       3000,
		Endianness:               "little",
		ParticipantName:          "rtpstalk",
		LogLevel:                 "INFO",
	}
}

func (c *Config) Parse() (err error) {
	if c.Endianness != "little" {
		return fmt.Errorf("unsupported endianness %q, only little is supported", c.Endianness)
	}
	if c.Backpressure != BackpressureBlock && c.Backpressure != BackpressureDrop {
		return fmt.Errorf("backpressure must be %q or %q", BackpressureBlock, BackpressureDrop)
	}
	if c.HistoryCacheMaxSize <= 0 {
		return fmt.Errorf("history_cache_max_size must be positive")
	}
	if c.PublisherMaxBufferSize <= 0 {
		return fmt.Errorf("publisher_max_buffer_size must be positive")
	}
	if c.PacketBufferSize < wire.HeaderLen+64 || c.PacketBufferSize > 65536 {
		return fmt.Errorf("packet_buffer_size must be between %d and 65536", wire.HeaderLen+64)
	}
	if c.SpdpAnnouncePeriod() <= 0 || c.HeartbeatPeriod() <= 0 || c.AckPeriod() <= 0 {
		return fmt.Errorf("periods must be positive")
	}
	if c.LeaseDuration() < 2*c.SpdpAnnouncePeriod() {
		return fmt.Errorf("lease_duration must be at least 2*spdp_announce_period")
	}
	if c.DomainId > 232 {
		return fmt.Errorf("domain_id %d is out of range", c.DomainId)
	}
	if _, err = log.ParseLevel(c.LogLevel); err != nil {
		return err
	}

	if c.GuidPrefix != "" {
		if c.guidPrefix, err = wire.ParseGuidPrefix(c.GuidPrefix); err != nil {
			return err
		}
	} else {
		c.guidPrefix = wire.NewGuidPrefix(wire.VendorIdRtpstalk)
	}
	return nil
}

func (c *Config) Prefix() wire.GuidPrefix {
	return c.guidPrefix
}

func (c *Config) SpdpAnnouncePeriod() time.Duration {
	return utils.Millis(c.SpdpAnnouncePeriod_ms)
}

func (c *Config) HeartbeatPeriod() time.Duration {
	return utils.Millis(c.HeartbeatPeriod_ms)
}

func (c *Config) AckPeriod() time.Duration {
	return utils.Millis(c.AckPeriod_ms)
}

func (c *Config) ReaderAckTopicTimeout() time.Duration {
	return utils.Millis(c.ReaderAckTopicTimeout_ms)
}

func (c *Config) LeaseDuration() time.Duration {
	return utils.Millis(c.LeaseDuration_ms)
}

func (c *Config) ShutdownTimeout() time.Duration {
	return utils.Millis(c.ShutdownTimeout_ms)
}

// Ports are the well-known ports of one participant.
type Ports struct {
	MetatrafficMulticast uint32
	MetatrafficUnicast   uint32
	UserMulticast        uint32
	UserUnicast          uint32
}

// PortsFor applies the port mapping for a participant id, honouring any
// explicitly configured unicast ports.
func (c *Config) PortsFor(participantId uint32) Ports {
	base := PortBase + DomainGain*c.DomainId
	p := Ports{
		MetatrafficMulticast: base + OffsetD0,
		MetatrafficUnicast:   base + OffsetD1 + ParticipantGain*participantId,
		UserMulticast:        base + OffsetD2,
		UserUnicast:          base + OffsetD3 + ParticipantGain*participantId,
	}
	if c.BuiltinEndpointsPort != 0 {
		p.MetatrafficUnicast = c.BuiltinEndpointsPort
	}
	if c.UserEndpointsPort != 0 {
		p.UserUnicast = c.UserEndpointsPort
	}
	return p
}

// MetatrafficMulticastLocator is the SPDP group locator of the domain.
func (c *Config) MetatrafficMulticastLocator() wire.Locator {
	return wire.NewUdpv4Locator(DefaultMulticastAddress, c.PortsFor(0).MetatrafficMulticast)
}
