package topic

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pinorobotics/rtpstalk/rtps/behavior"
	"github.com/pinorobotics/rtpstalk/rtps/discovery"
	"github.com/pinorobotics/rtpstalk/rtps/wire"
	"github.com/pinorobotics/rtpstalk/std/log"
)

const ackPollPeriod = 20 * time.Millisecond

// LocalWriter is a local publication. A remote reader is matched once
// its participant acknowledged the announcement of the writer, or after
// a timeout, so the first samples are not dropped as unmatched.
type LocalWriter struct {
	data    *discovery.EndpointData
	writer  *behavior.StatefulWriter
	sedp    *discovery.Sedp
	clock   clock.Clock
	timeout time.Duration

	mu      sync.Mutex
	sn      wire.SequenceNumber
	pending map[wire.Guid]chan struct{}
	wg      sync.WaitGroup
}

func NewLocalWriter(data *discovery.EndpointData, writer *behavior.StatefulWriter, sedp *discovery.Sedp,
	clk clock.Clock, ackTimeout time.Duration) *LocalWriter {
	if clk == nil {
		clk = clock.New()
	}
	return &LocalWriter{
		data:    data,
		writer:  writer,
		sedp:    sedp,
		clock:   clk,
		timeout: ackTimeout,
		pending: make(map[wire.Guid]chan struct{}),
	}
}

func (w *LocalWriter) String() string {
	return "local-writer (" + w.data.String() + ")"
}

func (w *LocalWriter) Guid() wire.Guid {
	return w.data.EndpointGuid
}

func (w *LocalWriter) Data() *discovery.EndpointData {
	return w.data
}

func (w *LocalWriter) Writer() *behavior.StatefulWriter {
	return w.writer
}

func (w *LocalWriter) announced(sn wire.SequenceNumber) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sn = sn
}

func (w *LocalWriter) Compatible(remote *discovery.EndpointData) bool {
	return remote.Qos.CompatibleWith(w.data.Qos)
}

func (w *LocalWriter) Match(remote *discovery.EndpointData, locators []wire.Locator) {
	w.mu.Lock()
	defer w.mu.Unlock()
	guid := remote.EndpointGuid
	if _, ok := w.pending[guid]; ok {
		return
	}
	cancel := make(chan struct{})
	w.pending[guid] = cancel
	sn := w.sn

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if !w.awaitAck(guid.Prefix, sn, cancel) {
			return
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.pending[guid] != cancel {
			return
		}
		delete(w.pending, guid)
		w.writer.MatchedReaderAdd(guid, locators, remote.Qos)
	}()
}

// awaitAck returns false when cancelled.
func (w *LocalWriter) awaitAck(remote wire.GuidPrefix, sn wire.SequenceNumber, cancel chan struct{}) bool {
	deadline := w.clock.Now().Add(w.timeout)
	ticker := w.clock.Ticker(ackPollPeriod)
	defer ticker.Stop()
	for !w.sedp.IsAnnouncementAcked(discovery.RolePublication, remote, sn) {
		if !w.clock.Now().Before(deadline) {
			log.Warn(w, "Announcement not acknowledged, matching anyway", "participant", remote, "timeout", w.timeout)
			return true
		}
		select {
		case <-cancel:
			return false
		case <-ticker.C:
		}
	}
	return true
}

func (w *LocalWriter) Unmatch(remote wire.Guid) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if cancel, ok := w.pending[remote]; ok {
		close(cancel)
		delete(w.pending, remote)
	}
	w.writer.MatchedReaderRemove(remote)
}

// Close abandons pending matches and stops the writer.
func (w *LocalWriter) Close() {
	w.mu.Lock()
	for guid, cancel := range w.pending {
		close(cancel)
		delete(w.pending, guid)
	}
	w.mu.Unlock()
	w.wg.Wait()
	w.writer.Close()
}
