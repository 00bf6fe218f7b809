package behavior

import (
	"fmt"
	"slices"
	"sync"

	"github.com/pinorobotics/rtpstalk/rtps/cache"
	"github.com/pinorobotics/rtpstalk/rtps/wire"
	"github.com/pinorobotics/rtpstalk/std/log"
)

// StatelessWriter sends best-effort to a fixed set of locators and keeps
// only its latest change, which can be resent at any time.
type StatelessWriter struct {
	guid     wire.Guid
	readerId wire.EntityId
	history  *cache.WriterHistory
	out      *Outbound

	mu       sync.RWMutex
	locators []wire.Locator
}

func NewStatelessWriter(guid wire.Guid, readerId wire.EntityId, out *Outbound) *StatelessWriter {
	return &StatelessWriter{
		guid:     guid,
		readerId: readerId,
		history:  cache.NewWriterHistory(guid, 1),
		out:      out,
	}
}

func (w *StatelessWriter) String() string {
	return fmt.Sprintf("stateless-writer (%s)", w.guid)
}

func (w *StatelessWriter) Guid() wire.Guid {
	return w.guid
}

func (w *StatelessWriter) ReaderLocatorAdd(loc wire.Locator) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !slices.Contains(w.locators, loc) {
		w.locators = append(w.locators, loc)
	}
}

func (w *StatelessWriter) ReaderLocatorRemove(loc wire.Locator) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.locators = slices.DeleteFunc(w.locators, func(l wire.Locator) bool { return l == loc })
}

// NewChange replaces the latest change and sends it.
func (w *StatelessWriter) NewChange(kind cache.ChangeKind, payload wire.Payload, inlineQos *wire.ParameterList) *cache.CacheChange {
	change := w.history.NewChange(kind, payload, inlineQos)
	w.send(change)
	return change
}

// Resend sends the latest change again, if there is one.
func (w *StatelessWriter) Resend() {
	if change, ok := w.history.Get(w.history.LastSN()); ok {
		w.send(change)
	}
}

func (w *StatelessWriter) send(change *cache.CacheChange) {
	ts := wire.NewTime(change.SourceTimestamp)
	msg := wire.NewMessage(w.out.Prefix(),
		&wire.InfoTimestamp{Timestamp: &ts},
		dataFor(w.readerId, change))

	w.mu.RLock()
	locators := slices.Clone(w.locators)
	w.mu.RUnlock()
	for _, loc := range locators {
		if err := w.out.Send(loc, msg); err != nil {
			log.Warn(w, "Data not sent", "locator", loc, "err", err)
		}
	}
}
