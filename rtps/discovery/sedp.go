package discovery

import (
	"github.com/pinorobotics/rtpstalk/rtps/behavior"
	"github.com/pinorobotics/rtpstalk/rtps/cache"
	"github.com/pinorobotics/rtpstalk/rtps/wire"
	"github.com/pinorobotics/rtpstalk/std/log"
)

// EndpointEvent reports a remote publication or subscription. Data is
// nil when the endpoint was disposed.
type EndpointEvent struct {
	Role     Role
	Endpoint wire.Guid
	Data     *EndpointData
}

func (e EndpointEvent) Disposed() bool {
	return e.Data == nil
}

// Sedp owns the four builtin endpoints exchanging publication and
// subscription announcements.
type Sedp struct {
	prefix    wire.GuidPrefix
	pubWriter *behavior.StatefulWriter
	subWriter *behavior.StatefulWriter
	pubReader *behavior.StatefulReader
	subReader *behavior.StatefulReader
	recv      *behavior.Receiver

	events  listeners[EndpointEvent]
	cancels []func()
}

// NewSedp creates the SEDP endpoints and registers them with recv.
func NewSedp(out *behavior.Outbound, recv *behavior.Receiver, opts behavior.Options) *Sedp {
	prefix := out.Prefix()
	// Late joiners must learn every live endpoint however old.
	writerOpts := opts
	writerOpts.KeepLastPerKey = true
	s := &Sedp{
		prefix:    prefix,
		recv:      recv,
		pubWriter: behavior.NewStatefulWriter(wire.NewGuid(prefix, wire.EntityIdSedpPublicationsWriter), out, writerOpts),
		subWriter: behavior.NewStatefulWriter(wire.NewGuid(prefix, wire.EntityIdSedpSubscriptionsWriter), out, writerOpts),
		pubReader: behavior.NewStatefulReader(wire.NewGuid(prefix, wire.EntityIdSedpPublicationsReader),
			cache.NewHistoryCache("sedp-publications", opts.HistorySize), out, opts),
		subReader: behavior.NewStatefulReader(wire.NewGuid(prefix, wire.EntityIdSedpSubscriptionsReader),
			cache.NewHistoryCache("sedp-subscriptions", opts.HistorySize), out, opts),
	}
	s.cancels = append(s.cancels,
		s.pubReader.Cache().Subscribe(func(c *cache.CacheChange) { s.onChange(RolePublication, c) }),
		s.subReader.Cache().Subscribe(func(c *cache.CacheChange) { s.onChange(RoleSubscription, c) }))
	return s
}

func (s *Sedp) String() string {
	return "sedp"
}

// Start registers the endpoints and runs their timers.
func (s *Sedp) Start() {
	s.recv.AddWriter(s.pubWriter)
	s.recv.AddWriter(s.subWriter)
	s.recv.AddReader(s.pubReader)
	s.recv.AddReader(s.subReader)
	s.pubWriter.Start()
	s.subWriter.Start()
	s.pubReader.Start()
	s.subReader.Start()
}

// OnEndpoint registers a listener for remote endpoint events.
func (s *Sedp) OnEndpoint(fn func(EndpointEvent)) (cancel func()) {
	return s.events.add(fn)
}

func (s *Sedp) onChange(role Role, c *cache.CacheChange) {
	if c.Kind != cache.ChangeAlive {
		guid, ok := disposedGuid(c.InlineQos, c.Payload, wire.PidEndpointGuid)
		if !ok {
			log.Debug(s, "Disposal without key ignored", "role", role, "writer", c.WriterGuid)
			return
		}
		log.Info(s, "Remote endpoint disposed", "role", role, "endpoint", guid)
		s.events.emit(EndpointEvent{Role: role, Endpoint: guid})
		return
	}
	pl, ok := c.Payload.(*wire.ParameterList)
	if !ok {
		log.Debug(s, "Announcement without parameter list ignored", "role", role, "writer", c.WriterGuid)
		return
	}
	data, err := ParseEndpointData(pl, role)
	if err != nil {
		log.Debug(s, "Bad announcement ignored", "role", role, "writer", c.WriterGuid, "err", err)
		return
	}
	log.Info(s, "Remote endpoint discovered", "role", role, "endpoint", data)
	s.events.emit(EndpointEvent{Role: role, Endpoint: data.EndpointGuid, Data: data})
}

func (s *Sedp) writer(role Role) *behavior.StatefulWriter {
	if role == RolePublication {
		return s.pubWriter
	}
	return s.subWriter
}

// Announce writes a local endpoint to SEDP and returns the sequence
// number of the announcement.
func (s *Sedp) Announce(role Role, data *EndpointData) wire.SequenceNumber {
	change := s.writer(role).NewChange(cache.ChangeAlive, data.ToParameterList(), keyQos(data.EndpointGuid))
	log.Debug(s, "Announced", "role", role, "endpoint", data, "sn", change.SequenceNumber)
	return change.SequenceNumber
}

// Dispose announces the removal of a local endpoint.
func (s *Sedp) Dispose(role Role, endpoint wire.Guid) {
	s.writer(role).NewChange(cache.ChangeDisposed, nil, disposeQos(endpoint))
	log.Debug(s, "Disposed", "role", role, "endpoint", endpoint)
}

// IsAnnouncementAcked reports whether the SEDP detector of a remote
// participant acknowledged the announcement sn.
func (s *Sedp) IsAnnouncementAcked(role Role, remote wire.GuidPrefix, sn wire.SequenceNumber) bool {
	reader := wire.EntityIdSedpPublicationsReader
	if role == RoleSubscription {
		reader = wire.EntityIdSedpSubscriptionsReader
	}
	return s.writer(role).IsAckedBy(wire.NewGuid(remote, reader), sn)
}

// CloseWriters stops the SEDP writers.
func (s *Sedp) CloseWriters() {
	s.recv.RemoveWriter(s.pubWriter.Guid().Entity)
	s.recv.RemoveWriter(s.subWriter.Guid().Entity)
	s.pubWriter.Close()
	s.subWriter.Close()
}

// CloseReaders stops the SEDP readers and drops every listener.
func (s *Sedp) CloseReaders() {
	s.recv.RemoveReader(s.pubReader.Guid().Entity)
	s.recv.RemoveReader(s.subReader.Guid().Entity)
	for _, cancel := range s.cancels {
		cancel()
	}
	s.pubReader.Close()
	s.subReader.Close()
}
