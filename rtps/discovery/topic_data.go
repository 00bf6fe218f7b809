package discovery

import (
	"fmt"

	"github.com/pinorobotics/rtpstalk/rtps/wire"
)

// TopicId names a topic and the type of its samples.
type TopicId struct {
	Name string
	Type string
}

func (t TopicId) String() string {
	return t.Name + ":" + t.Type
}

// EndpointData describes a publication or a subscription announced over SEDP.
type EndpointData struct {
	Topic           TopicId
	ParticipantGuid wire.Guid
	EndpointGuid    wire.Guid
	UnicastLocators []wire.Locator
	Qos             wire.QosPolicy
	ProtocolVersion wire.ProtocolVersion
	VendorId        wire.VendorId
}

func (e *EndpointData) String() string {
	return fmt.Sprintf("%s %s (%s)", e.Topic, e.EndpointGuid, e.Qos)
}

func (e *EndpointData) ToParameterList() *wire.ParameterList {
	pl := wire.NewParameterList().
		Add(wire.PidTopicName, e.Topic.Name).
		Add(wire.PidTypeName, e.Topic.Type).
		Add(wire.PidParticipantGuid, e.ParticipantGuid).
		Add(wire.PidEndpointGuid, e.EndpointGuid)
	for _, l := range e.UnicastLocators {
		pl.Add(wire.PidUnicastLocator, l)
	}
	return pl.
		Add(wire.PidReliability, wire.Reliability{Kind: e.Qos.Reliability}).
		Add(wire.PidDurability, wire.Durability{Kind: e.Qos.Durability}).
		Add(wire.PidProtocolVersion, e.ProtocolVersion).
		Add(wire.PidVendorId, e.VendorId)
}

// ParseEndpointData reads a SEDP announcement. Missing QoS takes the
// DDS defaults for the role.
func ParseEndpointData(pl *wire.ParameterList, role Role) (*EndpointData, error) {
	guid, ok := wire.GetAs[wire.Guid](pl, wire.PidEndpointGuid)
	if !ok {
		return nil, ErrMissingGuid
	}
	e := &EndpointData{
		EndpointGuid:    guid,
		ParticipantGuid: wire.NewGuid(guid.Prefix, wire.EntityIdParticipant),
		UnicastLocators: validLocators(pl, wire.PidUnicastLocator),
		Qos:             role.defaultQos(),
		ProtocolVersion: wire.ProtocolVersion_2_3,
	}
	e.Topic.Name, _ = wire.GetAs[string](pl, wire.PidTopicName)
	e.Topic.Type, _ = wire.GetAs[string](pl, wire.PidTypeName)
	if e.Topic.Name == "" {
		return nil, fmt.Errorf("endpoint %s: no topic name", guid)
	}
	if g, ok := wire.GetAs[wire.Guid](pl, wire.PidParticipantGuid); ok {
		e.ParticipantGuid = g
	}
	if r, ok := wire.GetAs[wire.Reliability](pl, wire.PidReliability); ok {
		e.Qos.Reliability = r.Kind
	}
	if d, ok := wire.GetAs[wire.Durability](pl, wire.PidDurability); ok {
		e.Qos.Durability = d.Kind
	}
	if v, ok := wire.GetAs[wire.ProtocolVersion](pl, wire.PidProtocolVersion); ok {
		e.ProtocolVersion = v
	}
	e.VendorId, _ = wire.GetAs[wire.VendorId](pl, wire.PidVendorId)
	return e, nil
}

// Role tells publications and subscriptions apart.
type Role int

const (
	RolePublication Role = iota
	RoleSubscription
)

func (r Role) String() string {
	if r == RolePublication {
		return "publication"
	}
	return "subscription"
}

// Writers default to RELIABLE and readers to BEST_EFFORT.
func (r Role) defaultQos() wire.QosPolicy {
	if r == RolePublication {
		return wire.QosReliable
	}
	return wire.QosBestEffort
}
