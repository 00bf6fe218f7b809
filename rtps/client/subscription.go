package client

import (
	"context"
	"time"

	"github.com/pinorobotics/rtpstalk/rtps/behavior"
	"github.com/pinorobotics/rtpstalk/rtps/cache"
	"github.com/pinorobotics/rtpstalk/rtps/config"
	"github.com/pinorobotics/rtpstalk/rtps/discovery"
	"github.com/pinorobotics/rtpstalk/rtps/executor"
	"github.com/pinorobotics/rtpstalk/rtps/topic"
	"github.com/pinorobotics/rtpstalk/rtps/wire"
	"github.com/pinorobotics/rtpstalk/std/log"
)

// Message is one sample delivered to a subscriber.
type Message struct {
	Topic          discovery.TopicId
	Writer         wire.Guid
	SequenceNumber wire.SequenceNumber
	Timestamp      time.Time
	Data           []byte
	UserParameters []wire.UserParameter
}

type subscription struct {
	client *Client
	topic  discovery.TopicId
	local  *topic.LocalReader
	cb     func(Message)
	// Callbacks queued or running, bounded by the publisher buffer size.
	inflight chan struct{}
	cancel   func()
	ctx      context.Context
	stop     context.CancelFunc
}

func (s *subscription) String() string {
	return "subscription (" + s.local.Guid().String() + ")"
}

// Subscribe creates a reader on the topic. Callbacks of one writer run in
// order on the client executor.
func (c *Client) Subscribe(topicName, typeName string, qos wire.QosPolicy, cb func(Message)) (wire.EntityId, error) {
	if err := c.started(); err != nil {
		return wire.EntityId{}, err
	}
	c.mu.Lock()
	c.nextReader++
	id := wire.NewEntityId(c.nextReader, wire.EntityKindUserReaderNoKey)
	c.mu.Unlock()

	data := c.endpointData(topicName, typeName, id, qos)
	hc := cache.NewHistoryCache(data.Topic.String(), c.cfg.HistoryCacheMaxSize)
	var reader topic.Reader
	if qos.IsReliable() {
		r := behavior.NewStatefulReader(data.EndpointGuid, hc, c.out, c.behaviorOptions())
		r.Start()
		reader = r
	} else {
		reader = behavior.NewStatelessReader(data.EndpointGuid, hc)
	}

	s := &subscription{
		client:   c,
		topic:    data.Topic,
		local:    topic.NewLocalReader(data, reader),
		cb:       cb,
		inflight: make(chan struct{}, c.cfg.PublisherMaxBufferSize),
	}
	s.ctx, s.stop = context.WithCancel(context.Background())
	s.cancel = hc.Subscribe(s.onChange)

	c.mu.Lock()
	c.subscriptions[id] = s
	c.mu.Unlock()
	c.userRecv.AddReader(reader)
	c.subs.Add(s.local)
	log.Info(c, "Subscribed", "topic", data.Topic, "reader", data.EndpointGuid, "qos", qos)
	return id, nil
}

// Unsubscribe disposes the reader and stops its callbacks.
func (c *Client) Unsubscribe(id wire.EntityId) error {
	if err := c.started(); err != nil {
		return err
	}
	c.mu.Lock()
	s, ok := c.subscriptions[id]
	delete(c.subscriptions, id)
	c.mu.Unlock()
	if !ok {
		return ErrUnknownEntity
	}
	c.subs.Remove(s.local.Guid())
	s.close()
	return nil
}

func (s *subscription) close() {
	s.client.userRecv.RemoveReader(s.local.Guid().Entity)
	s.cancel()
	s.stop()
	s.local.Close()
}

func (s *subscription) onChange(change *cache.CacheChange) {
	if change.Kind != cache.ChangeAlive {
		return
	}
	raw, ok := change.Payload.(wire.RawData)
	if !ok {
		log.Debug(s, "Sample without raw payload ignored", "writer", change.WriterGuid, "sn", change.SequenceNumber)
		return
	}
	msg := Message{
		Topic:          s.topic,
		Writer:         change.WriterGuid,
		SequenceNumber: change.SequenceNumber,
		Timestamp:      change.SourceTimestamp,
		Data:           raw,
		UserParameters: change.InlineQos.UserParameters(),
	}

	if s.client.cfg.Backpressure == config.BackpressureDrop {
		select {
		case s.inflight <- struct{}{}:
		default:
			s.dropped()
			return
		}
	} else {
		select {
		case s.inflight <- struct{}{}:
		case <-s.ctx.Done():
			return
		}
	}

	task := func() {
		defer func() { <-s.inflight }()
		s.cb(msg)
	}
	key := executor.KeyOf(change.WriterGuid.Bytes())
	var err error
	if s.client.cfg.Backpressure == config.BackpressureDrop {
		err = s.client.pool.Submit(key, task)
	} else {
		err = s.client.pool.SubmitWait(s.ctx, key, task)
	}
	if err != nil {
		<-s.inflight
		s.dropped()
		log.Debug(s, "Callback not queued", "sn", change.SequenceNumber, "err", err)
	}
}

func (s *subscription) dropped() {
	s.client.metrics.CallbackDropped()
}
