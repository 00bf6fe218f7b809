// Package discovery implements SPDP participant discovery and SEDP
// endpoint discovery.
package discovery

import (
	"errors"
	"fmt"
	"time"

	"github.com/pinorobotics/rtpstalk/rtps/wire"
)

var ErrMissingGuid = errors.New("announcement carries no guid")

// ParticipantData is what a participant announces about itself over SPDP.
type ParticipantData struct {
	ProtocolVersion       wire.ProtocolVersion
	VendorId              wire.VendorId
	Guid                  wire.Guid
	DefaultUnicast        []wire.Locator
	DefaultMulticast      []wire.Locator
	MetatrafficUnicast    []wire.Locator
	MetatrafficMulticast  []wire.Locator
	LeaseDuration         time.Duration
	BuiltinEndpoints      wire.BuiltinEndpointSet
	ManualLivelinessCount wire.Count
	EntityName            string
}

// DefaultBuiltinEndpoints are the builtin endpoints every local participant has.
const DefaultBuiltinEndpoints = wire.BuiltinParticipantAnnouncer |
	wire.BuiltinParticipantDetector |
	wire.BuiltinPublicationsAnnouncer |
	wire.BuiltinPublicationsDetector |
	wire.BuiltinSubscriptionsAnnouncer |
	wire.BuiltinSubscriptionsDetector

func (p *ParticipantData) Prefix() wire.GuidPrefix {
	return p.Guid.Prefix
}

func (p *ParticipantData) String() string {
	return fmt.Sprintf("participant %s (%s)", p.Guid.Prefix, p.EntityName)
}

func (p *ParticipantData) ToParameterList() *wire.ParameterList {
	pl := wire.NewParameterList().
		Add(wire.PidProtocolVersion, p.ProtocolVersion).
		Add(wire.PidVendorId, p.VendorId).
		Add(wire.PidParticipantGuid, p.Guid)
	for _, l := range p.DefaultUnicast {
		pl.Add(wire.PidDefaultUnicastLocator, l)
	}
	for _, l := range p.DefaultMulticast {
		pl.Add(wire.PidDefaultMulticastLocator, l)
	}
	for _, l := range p.MetatrafficUnicast {
		pl.Add(wire.PidMetatrafficUnicast, l)
	}
	for _, l := range p.MetatrafficMulticast {
		pl.Add(wire.PidMetatrafficMulticast, l)
	}
	pl.Add(wire.PidParticipantLease, wire.NewDuration(p.LeaseDuration)).
		Add(wire.PidBuiltinEndpointSet, p.BuiltinEndpoints).
		Add(wire.PidManualLivelinessCount, p.ManualLivelinessCount)
	if p.EntityName != "" {
		pl.Add(wire.PidEntityName, p.EntityName)
	}
	return pl
}

// ParseParticipantData reads an SPDP announcement. Only the participant
// guid is mandatory.
func ParseParticipantData(pl *wire.ParameterList) (*ParticipantData, error) {
	guid, ok := wire.GetAs[wire.Guid](pl, wire.PidParticipantGuid)
	if !ok {
		return nil, ErrMissingGuid
	}
	p := &ParticipantData{
		ProtocolVersion:      wire.ProtocolVersion_2_3,
		Guid:                 guid,
		DefaultUnicast:       validLocators(pl, wire.PidDefaultUnicastLocator),
		DefaultMulticast:     validLocators(pl, wire.PidDefaultMulticastLocator),
		MetatrafficUnicast:   validLocators(pl, wire.PidMetatrafficUnicast),
		MetatrafficMulticast: validLocators(pl, wire.PidMetatrafficMulticast),
	}
	if v, ok := wire.GetAs[wire.ProtocolVersion](pl, wire.PidProtocolVersion); ok {
		p.ProtocolVersion = v
	}
	p.VendorId, _ = wire.GetAs[wire.VendorId](pl, wire.PidVendorId)
	if d, ok := wire.GetAs[wire.Duration](pl, wire.PidParticipantLease); ok {
		p.LeaseDuration = d.Duration()
	}
	p.BuiltinEndpoints, _ = wire.GetAs[wire.BuiltinEndpointSet](pl, wire.PidBuiltinEndpointSet)
	p.ManualLivelinessCount, _ = wire.GetAs[wire.Count](pl, wire.PidManualLivelinessCount)
	p.EntityName, _ = wire.GetAs[string](pl, wire.PidEntityName)
	return p, nil
}

// validLocators drops the locators this stack cannot reach.
func validLocators(pl *wire.ParameterList, id wire.ParameterId) []wire.Locator {
	var out []wire.Locator
	for _, l := range wire.AllAs[wire.Locator](pl, id) {
		if l.IsValid() {
			out = append(out, l)
		}
	}
	return out
}

// disposeQos is the inline QoS announcing the disposal of guid.
func disposeQos(guid wire.Guid) *wire.ParameterList {
	return wire.NewParameterList().
		Add(wire.PidKeyHash, wire.KeyHashFromGuid(guid)).
		Add(wire.PidStatusInfo, wire.StatusInfoDisposed|wire.StatusInfoUnregistered)
}

func keyQos(guid wire.Guid) *wire.ParameterList {
	return wire.NewParameterList().Add(wire.PidKeyHash, wire.KeyHashFromGuid(guid))
}

// disposedGuid recovers the guid of a disposed instance from inline QoS,
// falling back to the payload.
func disposedGuid(inlineQos *wire.ParameterList, payload wire.Payload, pid wire.ParameterId) (wire.Guid, bool) {
	if k, ok := wire.GetAs[wire.KeyHash](inlineQos, wire.PidKeyHash); ok {
		return k.Guid(), true
	}
	if pl, ok := payload.(*wire.ParameterList); ok {
		return wire.GetAs[wire.Guid](pl, pid)
	}
	return wire.Guid{}, false
}
