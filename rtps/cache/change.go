package cache

import (
	"fmt"
	"time"

	"github.com/pinorobotics/rtpstalk/rtps/wire"
)

type ChangeKind int

const (
	ChangeAlive ChangeKind = iota
	ChangeDisposed
	ChangeUnregistered
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeAlive:
		return "ALIVE"
	case ChangeDisposed:
		return "NOT_ALIVE_DISPOSED"
	case ChangeUnregistered:
		return "NOT_ALIVE_UNREGISTERED"
	}
	return fmt.Sprintf("CHANGE_KIND(%d)", int(k))
}

// CacheChange is a single sample of a writer. Identity is
// (WriterGuid, SequenceNumber).
type CacheChange struct {
	Kind            ChangeKind
	WriterGuid      wire.Guid
	SequenceNumber  wire.SequenceNumber
	Payload         wire.Payload
	InlineQos       *wire.ParameterList
	SourceTimestamp time.Time
}

// ChangeKindOf derives the kind from inline status info.
func ChangeKindOf(status wire.StatusInfo) ChangeKind {
	switch {
	case status.IsDisposed():
		return ChangeDisposed
	case status.IsUnregistered():
		return ChangeUnregistered
	}
	return ChangeAlive
}

func (c *CacheChange) String() string {
	return fmt.Sprintf("%s#%d", c.WriterGuid, c.SequenceNumber)
}
