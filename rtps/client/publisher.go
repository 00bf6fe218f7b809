package client

import (
	"slices"
	"sync"

	"github.com/pinorobotics/rtpstalk/rtps/behavior"
	"github.com/pinorobotics/rtpstalk/rtps/cache"
	"github.com/pinorobotics/rtpstalk/rtps/topic"
	"github.com/pinorobotics/rtpstalk/rtps/wire"
	"github.com/pinorobotics/rtpstalk/std/log"
)

// Publisher writes samples on one topic.
type Publisher struct {
	client *Client
	id     wire.EntityId
	local  *topic.LocalWriter

	closeOnce sync.Once
	closed    bool
	mu        sync.RWMutex
}

// Publish creates a writer on the topic.
func (c *Client) Publish(topicName, typeName string, qos wire.QosPolicy) (*Publisher, error) {
	if err := c.started(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.nextWriter++
	id := wire.NewEntityId(c.nextWriter, wire.EntityKindUserWriterNoKey)
	c.mu.Unlock()

	data := c.endpointData(topicName, typeName, id, qos)
	writer := behavior.NewStatefulWriter(data.EndpointGuid, c.out, c.behaviorOptions())
	writer.Start()
	p := &Publisher{
		client: c,
		id:     id,
		local:  topic.NewLocalWriter(data, writer, c.sedp, c.clock, c.cfg.ReaderAckTopicTimeout()),
	}

	c.mu.Lock()
	c.publishers[id] = p
	c.mu.Unlock()
	c.userRecv.AddWriter(writer)
	c.pubs.Add(p.local)
	log.Info(c, "Publishing", "topic", data.Topic, "writer", data.EndpointGuid, "qos", qos)
	return p, nil
}

func (p *Publisher) String() string {
	return "publisher (" + p.local.Guid().String() + ")"
}

func (p *Publisher) Guid() wire.Guid {
	return p.local.Guid()
}

// MatchedReaders lists the remote readers currently matched.
func (p *Publisher) MatchedReaders() []wire.Guid {
	return p.local.Writer().MatchedReaders()
}

// Write sends one sample to every matched reader.
func (p *Publisher) Write(data []byte, userParams ...wire.UserParameter) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}
	var inlineQos *wire.ParameterList
	if len(userParams) > 0 {
		inlineQos = wire.NewParameterList()
		for _, up := range userParams {
			if err := up.Validate(); err != nil {
				return err
			}
			inlineQos.Add(up.Id, wire.UserData(slices.Clone(up.Value)))
		}
	}
	p.local.Writer().NewChange(cache.ChangeAlive, wire.RawData(slices.Clone(data)), inlineQos)
	return nil
}

// Close disposes the writer.
func (p *Publisher) Close() error {
	c := p.client
	c.mu.Lock()
	_, ok := c.publishers[p.id]
	delete(c.publishers, p.id)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	c.pubs.Remove(p.Guid())
	p.close()
	return nil
}

func (p *Publisher) close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		p.client.userRecv.RemoveWriter(p.id)
		p.local.Close()
	})
}
