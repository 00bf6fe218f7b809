package behavior

import (
	"fmt"
	"sync"
	"time"

	"github.com/pinorobotics/rtpstalk/rtps/cache"
	"github.com/pinorobotics/rtpstalk/rtps/wire"
	"github.com/pinorobotics/rtpstalk/std/log"
)

// StatelessReader is a best-effort reader. It never acknowledges and
// ignores heartbeats and gaps.
type StatelessReader struct {
	readerBase
	// acceptAny admits data from writers with this entity id regardless
	// of matching, as the SPDP reader does.
	acceptAny wire.EntityId

	mu      sync.RWMutex
	matched map[wire.Guid]struct{}
}

func NewStatelessReader(guid wire.Guid, c *cache.HistoryCache) *StatelessReader {
	return &StatelessReader{
		readerBase: readerBase{guid: guid, cache: c},
		acceptAny:  wire.EntityIdUnknown,
		matched:    make(map[wire.Guid]struct{}),
	}
}

// AcceptAnyWriter admits data from every writer with the given entity id.
func (r *StatelessReader) AcceptAnyWriter(writerId wire.EntityId) {
	r.acceptAny = writerId
}

func (r *StatelessReader) String() string {
	return fmt.Sprintf("stateless-reader (%s)", r.guid)
}

func (r *StatelessReader) MatchedWriterAdd(writer wire.Guid) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matched[writer] = struct{}{}
}

func (r *StatelessReader) MatchedWriterRemove(writer wire.Guid) {
	r.mu.Lock()
	delete(r.matched, writer)
	r.mu.Unlock()
	r.cache.RemoveWriter(writer)
}

func (r *StatelessReader) accepts(writer wire.Guid) bool {
	if r.acceptAny != wire.EntityIdUnknown && writer.Entity == r.acceptAny {
		return true
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.matched[writer]
	return ok
}

func (r *StatelessReader) OnData(src wire.GuidPrefix, d *wire.Data, ts time.Time) {
	writer := wire.NewGuid(src, d.WriterId)
	if !r.accepts(writer) {
		return
	}
	if d.PayloadDropped {
		log.Debug(r, "Data with unsupported representation ignored", "writer", writer, "sn", d.WriterSN)
		return
	}
	r.cache.AddChange(toChange(writer, d, ts))
}

func (r *StatelessReader) OnHeartbeat(wire.GuidPrefix, *wire.Heartbeat) {}

func (r *StatelessReader) OnGap(wire.GuidPrefix, *wire.Gap) {}

func (r *StatelessReader) Close() {
	r.cache.Close()
}
