package discovery

import (
	"sync"

	"github.com/pinorobotics/rtpstalk/rtps/wire"
	"github.com/pinorobotics/rtpstalk/std/log"
)

// Configurator matches the local SEDP endpoints with those a remote
// participant announced, and undoes it on Close.
type Configurator struct {
	sedp   *Sedp
	remote *ParticipantData

	mu    sync.Mutex
	undo  []func()
	close bool
}

func NewConfigurator(sedp *Sedp, remote *ParticipantData) *Configurator {
	return &Configurator{sedp: sedp, remote: remote}
}

func (c *Configurator) String() string {
	return "sedp-configurator (" + c.remote.Prefix().String() + ")"
}

// Configure wires every builtin endpoint present in the remote bitmask.
func (c *Configurator) Configure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.close || len(c.undo) > 0 {
		return
	}
	prefix := c.remote.Prefix()
	locs := c.remote.MetatrafficUnicast
	set := c.remote.BuiltinEndpoints
	s := c.sedp

	if set.Has(wire.BuiltinPublicationsAnnouncer) {
		g := wire.NewGuid(prefix, wire.EntityIdSedpPublicationsWriter)
		s.pubReader.MatchedWriterAdd(g, locs)
		c.undo = append(c.undo, func() { s.pubReader.MatchedWriterRemove(g) })
	}
	if set.Has(wire.BuiltinPublicationsDetector) {
		g := wire.NewGuid(prefix, wire.EntityIdSedpPublicationsReader)
		s.pubWriter.MatchedReaderAdd(g, locs, wire.QosBuiltin)
		c.undo = append(c.undo, func() { s.pubWriter.MatchedReaderRemove(g) })
	}
	if set.Has(wire.BuiltinSubscriptionsAnnouncer) {
		g := wire.NewGuid(prefix, wire.EntityIdSedpSubscriptionsWriter)
		s.subReader.MatchedWriterAdd(g, locs)
		c.undo = append(c.undo, func() { s.subReader.MatchedWriterRemove(g) })
	}
	if set.Has(wire.BuiltinSubscriptionsDetector) {
		g := wire.NewGuid(prefix, wire.EntityIdSedpSubscriptionsReader)
		s.subWriter.MatchedReaderAdd(g, locs, wire.QosBuiltin)
		c.undo = append(c.undo, func() { s.subWriter.MatchedReaderRemove(g) })
	}
	log.Debug(c, "Configured", "endpoints", len(c.undo), "locators", locs)
}

// Close removes every proxy Configure created.
func (c *Configurator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.close = true
	for _, undo := range c.undo {
		undo()
	}
	c.undo = nil
}
