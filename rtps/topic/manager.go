// Package topic wires local readers and writers to the remote endpoints
// discovered over SEDP.
package topic

import (
	"sync"

	"github.com/pinorobotics/rtpstalk/rtps/discovery"
	"github.com/pinorobotics/rtpstalk/rtps/wire"
	"github.com/pinorobotics/rtpstalk/std/log"
)

// Endpoint is a local reader or writer managed by a topic.
type Endpoint interface {
	Guid() wire.Guid
	// Data is the announcement of the endpoint.
	Data() *discovery.EndpointData
	// Compatible reports whether the remote endpoint may be matched.
	Compatible(remote *discovery.EndpointData) bool
	Match(remote *discovery.EndpointData, locators []wire.Locator)
	Unmatch(remote wire.Guid)

	announced(sn wire.SequenceNumber)
}

// Topic holds the local endpoints and remote actors of one topic.
type Topic[L Endpoint] struct {
	Id      discovery.TopicId
	locals  map[wire.Guid]L
	remotes map[wire.Guid]*discovery.EndpointData
}

// Manager keeps TopicId -> Topic for one local role. Remote actors of the
// opposite role are wired once to every compatible local endpoint.
type Manager[L Endpoint] struct {
	role discovery.Role
	sedp *discovery.Sedp
	spdp *discovery.Spdp

	mu      sync.Mutex
	topics  map[discovery.TopicId]*Topic[L]
	remotes map[wire.Guid]discovery.TopicId
	cancels []func()
}

// NewManager manages local endpoints of the given role.
func NewManager[L Endpoint](role discovery.Role, sedp *discovery.Sedp, spdp *discovery.Spdp) *Manager[L] {
	return &Manager[L]{
		role:    role,
		sedp:    sedp,
		spdp:    spdp,
		topics:  make(map[discovery.TopicId]*Topic[L]),
		remotes: make(map[wire.Guid]discovery.TopicId),
	}
}

func (m *Manager[L]) String() string {
	return m.role.String() + "-manager"
}

// Start listens for remote endpoints and participants.
func (m *Manager[L]) Start() {
	m.cancels = append(m.cancels,
		m.sedp.OnEndpoint(m.onEndpoint),
		m.spdp.OnParticipant(m.onParticipant))
}

func (m *Manager[L]) topic(id discovery.TopicId) *Topic[L] {
	t, ok := m.topics[id]
	if !ok {
		t = &Topic[L]{
			Id:      id,
			locals:  make(map[wire.Guid]L),
			remotes: make(map[wire.Guid]*discovery.EndpointData),
		}
		m.topics[id] = t
		log.Debug(m, "Topic created", "topic", id)
	}
	return t
}

// Topics lists the known topics.
func (m *Manager[L]) Topics() []discovery.TopicId {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]discovery.TopicId, 0, len(m.topics))
	for id := range m.topics {
		out = append(out, id)
	}
	return out
}

// Remotes lists the remote actors known for a topic.
func (m *Manager[L]) Remotes(id discovery.TopicId) []*discovery.EndpointData {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.topics[id]
	if !ok {
		return nil
	}
	out := make([]*discovery.EndpointData, 0, len(t.remotes))
	for _, r := range t.remotes {
		out = append(out, r)
	}
	return out
}

// Add announces a local endpoint and wires the remote actors already known.
func (m *Manager[L]) Add(local L) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data := local.Data()
	t := m.topic(data.Topic)
	t.locals[local.Guid()] = local
	local.announced(m.sedp.Announce(m.role, data))
	for _, remote := range t.remotes {
		m.wire(local, remote)
	}
}

// Remove disposes a local endpoint and releases its matches.
func (m *Manager[L]) Remove(guid wire.Guid) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.topics {
		local, ok := t.locals[guid]
		if !ok {
			continue
		}
		delete(t.locals, guid)
		m.sedp.Dispose(m.role, guid)
		for remote := range t.remotes {
			local.Unmatch(remote)
		}
		return
	}
}

func (m *Manager[L]) wire(local L, remote *discovery.EndpointData) {
	if !local.Compatible(remote) {
		log.Warn(m, "Incompatible QoS, not matched", "local", local.Guid(), "qos", local.Data().Qos,
			"remote", remote.EndpointGuid, "remote_qos", remote.Qos)
		return
	}
	local.Match(remote, m.locators(remote))
}

// locators falls back to the default unicast locators of the remote
// participant when the endpoint announced none.
func (m *Manager[L]) locators(remote *discovery.EndpointData) []wire.Locator {
	if len(remote.UnicastLocators) > 0 {
		return remote.UnicastLocators
	}
	if p, ok := m.spdp.Participant(remote.EndpointGuid.Prefix); ok {
		return p.DefaultUnicast
	}
	return nil
}

func (m *Manager[L]) onEndpoint(ev discovery.EndpointEvent) {
	if ev.Role == m.role {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if ev.Disposed() {
		m.removeRemote(ev.Endpoint)
		return
	}

	if id, ok := m.remotes[ev.Endpoint]; ok {
		if id == ev.Data.Topic {
			m.topics[id].remotes[ev.Endpoint] = ev.Data
			return
		}
		m.removeRemote(ev.Endpoint)
	}
	t := m.topic(ev.Data.Topic)
	t.remotes[ev.Endpoint] = ev.Data
	m.remotes[ev.Endpoint] = t.Id
	for _, local := range t.locals {
		m.wire(local, ev.Data)
	}
}

func (m *Manager[L]) removeRemote(guid wire.Guid) {
	id, ok := m.remotes[guid]
	if !ok {
		return
	}
	delete(m.remotes, guid)
	t := m.topics[id]
	delete(t.remotes, guid)
	for _, local := range t.locals {
		local.Unmatch(guid)
	}
	log.Debug(m, "Remote endpoint removed", "topic", id, "endpoint", guid)
}

func (m *Manager[L]) onParticipant(ev discovery.ParticipantEvent) {
	if !ev.Lost {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for guid := range m.remotes {
		if guid.Prefix == ev.Data.Prefix() {
			m.removeRemote(guid)
		}
	}
}

// Close disposes every local endpoint and stops listening.
func (m *Manager[L]) Close() {
	for _, cancel := range m.cancels {
		cancel()
	}
	m.cancels = nil

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.topics {
		for guid, local := range t.locals {
			m.sedp.Dispose(m.role, guid)
			for remote := range t.remotes {
				local.Unmatch(remote)
			}
		}
		clear(t.locals)
	}
}
