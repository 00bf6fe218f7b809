package behavior

import (
	"time"

	"github.com/pinorobotics/rtpstalk/rtps/cache"
	"github.com/pinorobotics/rtpstalk/rtps/wire"
)

// readerBase turns Data submessages into cache changes.
type readerBase struct {
	guid  wire.Guid
	cache *cache.HistoryCache
}

func (r *readerBase) Guid() wire.Guid {
	return r.guid
}

func (r *readerBase) Cache() *cache.HistoryCache {
	return r.cache
}

func toChange(writer wire.Guid, d *wire.Data, ts time.Time) *cache.CacheChange {
	change := &cache.CacheChange{
		Kind:            cache.ChangeKindOf(d.StatusInfo()),
		WriterGuid:      writer,
		SequenceNumber:  d.WriterSN,
		InlineQos:       d.InlineQos,
		SourceTimestamp: ts,
	}
	if d.Payload != nil {
		change.Payload = d.Payload.Value
	}
	return change
}
