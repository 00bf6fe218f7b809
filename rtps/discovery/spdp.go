package discovery

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pinorobotics/rtpstalk/rtps/behavior"
	"github.com/pinorobotics/rtpstalk/rtps/cache"
	"github.com/pinorobotics/rtpstalk/rtps/metrics"
	"github.com/pinorobotics/rtpstalk/rtps/wire"
	"github.com/pinorobotics/rtpstalk/std/log"
)

// ParticipantEvent reports a discovered participant, or its loss when
// Lost is set.
type ParticipantEvent struct {
	Data *ParticipantData
	Lost bool
}

// SpdpOptions configure participant discovery.
type SpdpOptions struct {
	Clock          clock.Clock
	AnnouncePeriod time.Duration
	// Lease applied to every remote participant.
	LeaseDuration time.Duration
	// Where announcements are sent, normally the metatraffic multicast group.
	AnnounceLocators []wire.Locator
	Metrics          *metrics.Metrics
}

// maxParticipants bounds the remote participants tracked at once. The
// least recently announced one is lost first.
const maxParticipants = 1024

// lease is the last announcement of a remote participant and when it
// runs out.
type lease struct {
	data    *ParticipantData
	expires time.Time
}

// Spdp announces the local participant and tracks remote ones. A remote
// participant is lost when it disposes itself or its lease expires.
// Leases are checked on every announcement tick against opts.Clock.
type Spdp struct {
	local  *ParticipantData
	sedp   *Sedp
	recv   *behavior.Receiver
	writer *behavior.StatelessWriter
	reader *spdpReader
	opts   SpdpOptions

	// leaseMu orders renewals against expiry. Listeners never take it.
	leaseMu sync.Mutex
	leases  *lru.Cache[wire.GuidPrefix, lease]

	mu            sync.Mutex
	configurators map[wire.GuidPrefix]*Configurator

	events    listeners[ParticipantEvent]
	cancelSub func()
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	closeOnce sync.Once
}

func NewSpdp(local *ParticipantData, sedp *Sedp, out *behavior.Outbound, recv *behavior.Receiver, opts SpdpOptions) *Spdp {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	prefix := local.Prefix()
	s := &Spdp{
		local:         local,
		sedp:          sedp,
		recv:          recv,
		opts:          opts,
		writer:        behavior.NewStatelessWriter(wire.NewGuid(prefix, wire.EntityIdSpdpParticipantWriter), wire.EntityIdSpdpParticipantReader, out),
		configurators: make(map[wire.GuidPrefix]*Configurator),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	s.reader = &spdpReader{
		StatelessReader: behavior.NewStatelessReader(wire.NewGuid(prefix, wire.EntityIdSpdpParticipantReader), cache.NewHistoryCache("spdp", 1)),
		spdp:            s,
	}
	s.reader.AcceptAnyWriter(wire.EntityIdSpdpParticipantWriter)
	leases, err := lru.NewWithEvict(maxParticipants, s.onLeaseEnd)
	if err != nil {
		panic(err) // only for a non-positive size
	}
	s.leases = leases
	for _, loc := range opts.AnnounceLocators {
		s.writer.ReaderLocatorAdd(loc)
	}
	return s
}

func (s *Spdp) String() string {
	return "spdp"
}

// OnParticipant registers a listener for participant events.
func (s *Spdp) OnParticipant(fn func(ParticipantEvent)) (cancel func()) {
	return s.events.add(fn)
}

// Participant returns the last announcement of a live remote participant.
func (s *Spdp) Participant(prefix wire.GuidPrefix) (*ParticipantData, bool) {
	l, ok := s.leases.Peek(prefix)
	return l.data, ok
}

// Participants lists the live remote participants.
func (s *Spdp) Participants() []*ParticipantData {
	leases := s.leases.Values()
	out := make([]*ParticipantData, len(leases))
	for i, l := range leases {
		out[i] = l.data
	}
	return out
}

// renew extends the lease of prefix. A nil data only refreshes a
// participant that is already known.
func (s *Spdp) renew(prefix wire.GuidPrefix, data *ParticipantData) {
	s.leaseMu.Lock()
	defer s.leaseMu.Unlock()
	if data == nil {
		l, ok := s.leases.Peek(prefix)
		if !ok {
			return
		}
		data = l.data
	}
	s.leases.Add(prefix, lease{data: data, expires: s.opts.Clock.Now().Add(s.opts.LeaseDuration)})
}

// expireLeases drops every participant whose lease ran out. A zero lease
// duration never expires.
func (s *Spdp) expireLeases() {
	if s.opts.LeaseDuration <= 0 {
		return
	}
	s.leaseMu.Lock()
	defer s.leaseMu.Unlock()
	now := s.opts.Clock.Now()
	for _, prefix := range s.leases.Keys() {
		if l, ok := s.leases.Peek(prefix); ok && !now.Before(l.expires) {
			s.leases.Remove(prefix)
		}
	}
}

func (s *Spdp) forget(prefix wire.GuidPrefix) {
	s.leaseMu.Lock()
	defer s.leaseMu.Unlock()
	s.leases.Remove(prefix)
}

// Start announces the local participant and keeps announcing it.
func (s *Spdp) Start() {
	s.startOnce.Do(func() {
		s.cancelSub = s.reader.Cache().Subscribe(s.onChange)
		s.recv.AddReader(s.reader)
		s.writer.NewChange(cache.ChangeAlive, s.local.ToParameterList(), keyQos(s.local.Guid))
		log.Info(s, "Announcing", "participant", s.local, "period", s.opts.AnnouncePeriod)

		ticker := s.opts.Clock.Ticker(s.opts.AnnouncePeriod)
		go func() {
			defer close(s.done)
			defer ticker.Stop()
			for {
				select {
				case <-s.stop:
					return
				case <-ticker.C:
					s.writer.Resend()
					s.expireLeases()
				}
			}
		}()
	})
}

func (s *Spdp) onChange(c *cache.CacheChange) {
	if c.Kind != cache.ChangeAlive {
		guid, ok := disposedGuid(c.InlineQos, c.Payload, wire.PidParticipantGuid)
		if !ok {
			guid = c.WriterGuid
		}
		log.Info(s, "Participant disposed", "participant", guid.Prefix)
		s.forget(guid.Prefix)
		return
	}

	pl, ok := c.Payload.(*wire.ParameterList)
	if !ok {
		log.Debug(s, "Announcement without parameter list ignored", "writer", c.WriterGuid)
		return
	}
	data, err := ParseParticipantData(pl)
	if err != nil {
		log.Debug(s, "Bad announcement ignored", "writer", c.WriterGuid, "err", err)
		return
	}
	if data.Prefix() == s.local.Prefix() {
		return
	}
	// Refreshes the lease of a known participant.
	s.renew(data.Prefix(), data)

	s.mu.Lock()
	if _, ok := s.configurators[data.Prefix()]; ok {
		s.mu.Unlock()
		return
	}
	cfg := NewConfigurator(s.sedp, data)
	s.configurators[data.Prefix()] = cfg
	s.mu.Unlock()

	log.Info(s, "Participant discovered", "participant", data, "metatraffic", data.MetatrafficUnicast)
	s.opts.Metrics.ParticipantAdded()
	cfg.Configure()
	s.events.emit(ParticipantEvent{Data: data})
}

// spdpReader refreshes leases on every announcement, including the
// repeated ones the cache drops as duplicates.
type spdpReader struct {
	*behavior.StatelessReader
	spdp *Spdp
}

func (r *spdpReader) OnData(src wire.GuidPrefix, d *wire.Data, ts time.Time) {
	if d.WriterId == wire.EntityIdSpdpParticipantWriter {
		r.spdp.renew(src, nil)
	}
	r.StatelessReader.OnData(src, d, ts)
}

// onLeaseEnd runs after the lease left the cache, outside its lock, so
// listeners may query participants.
func (s *Spdp) onLeaseEnd(prefix wire.GuidPrefix, l lease) {
	data := l.data
	s.mu.Lock()
	cfg, ok := s.configurators[prefix]
	delete(s.configurators, prefix)
	s.mu.Unlock()
	if !ok {
		return
	}
	// A returning participant restarts its sequence numbers.
	s.reader.Cache().RemoveWriter(wire.NewGuid(prefix, wire.EntityIdSpdpParticipantWriter))
	log.Info(s, "Participant lost", "participant", data)
	s.opts.Metrics.ParticipantRemoved()
	cfg.Close()
	s.events.emit(ParticipantEvent{Data: data, Lost: true})
}

// Dispose announces that the local participant is going away.
func (s *Spdp) Dispose() {
	s.writer.NewChange(cache.ChangeDisposed, nil, disposeQos(s.local.Guid))
}

// Close stops announcing and forgets every remote participant without
// reporting them lost.
func (s *Spdp) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.startOnce.Do(func() { close(s.done) })
		<-s.done
		s.recv.RemoveReader(s.reader.Guid().Entity)
		if s.cancelSub != nil {
			s.cancelSub()
		}
		s.reader.Close()

		s.mu.Lock()
		cfgs := s.configurators
		s.configurators = make(map[wire.GuidPrefix]*Configurator)
		s.mu.Unlock()
		for _, cfg := range cfgs {
			cfg.Close()
		}
		s.leaseMu.Lock()
		s.leases.Purge()
		s.leaseMu.Unlock()
	})
}
