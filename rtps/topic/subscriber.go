package topic

import (
	"github.com/pinorobotics/rtpstalk/rtps/behavior"
	"github.com/pinorobotics/rtpstalk/rtps/discovery"
	"github.com/pinorobotics/rtpstalk/rtps/wire"
)

// Reader is implemented by both reader kinds.
type Reader interface {
	behavior.ReaderEndpoint
	Close()
}

// LocalReader is a local subscription.
type LocalReader struct {
	data    *discovery.EndpointData
	reader  Reader
	match   func(wire.Guid, []wire.Locator)
	unmatch func(wire.Guid)
}

func NewLocalReader(data *discovery.EndpointData, reader Reader) *LocalReader {
	l := &LocalReader{data: data, reader: reader}
	switch r := reader.(type) {
	case *behavior.StatefulReader:
		l.match = r.MatchedWriterAdd
		l.unmatch = r.MatchedWriterRemove
	case *behavior.StatelessReader:
		l.match = func(g wire.Guid, _ []wire.Locator) { r.MatchedWriterAdd(g) }
		l.unmatch = r.MatchedWriterRemove
	default:
		l.match = func(wire.Guid, []wire.Locator) {}
		l.unmatch = func(wire.Guid) {}
	}
	return l
}

func (l *LocalReader) String() string {
	return "local-reader (" + l.data.String() + ")"
}

func (l *LocalReader) Guid() wire.Guid {
	return l.data.EndpointGuid
}

func (l *LocalReader) Data() *discovery.EndpointData {
	return l.data
}

func (l *LocalReader) Reader() Reader {
	return l.reader
}

func (l *LocalReader) announced(wire.SequenceNumber) {}

func (l *LocalReader) Compatible(remote *discovery.EndpointData) bool {
	return l.data.Qos.CompatibleWith(remote.Qos)
}

func (l *LocalReader) Match(remote *discovery.EndpointData, locators []wire.Locator) {
	l.match(remote.EndpointGuid, locators)
}

func (l *LocalReader) Unmatch(remote wire.Guid) {
	l.unmatch(remote)
}

func (l *LocalReader) Close() {
	l.reader.Close()
}

// NewPublisherManager manages local writers.
func NewPublisherManager(sedp *discovery.Sedp, spdp *discovery.Spdp) *Manager[*LocalWriter] {
	return NewManager[*LocalWriter](discovery.RolePublication, sedp, spdp)
}

// NewSubscriberManager manages local readers.
func NewSubscriberManager(sedp *discovery.Sedp, spdp *discovery.Spdp) *Manager[*LocalReader] {
	return NewManager[*LocalReader](discovery.RoleSubscription, sedp, spdp)
}
