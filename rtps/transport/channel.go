// Package transport moves RTPS datagrams between participants.
package transport

import (
	"errors"

	"github.com/pinorobotics/rtpstalk/rtps/wire"
)

var (
	ErrClosed          = errors.New("transport: channel closed")
	ErrUnsupportedKind = errors.New("transport: unsupported locator kind")
	ErrFrameTooLarge   = errors.New("transport: frame exceeds packet buffer size")
)

// DataChannel sends datagrams to a single remote locator.
type DataChannel interface {
	String() string
	Locator() wire.Locator
	Send(frame []byte) error
	Close() error
}

// Handler is called for every datagram a Receiver reads. The frame is
// owned by the handler.
type Handler func(frame []byte)

// Receiver delivers datagrams arriving on a bound locator.
type Receiver interface {
	String() string
	Locator() wire.Locator
	Close() error
}

// Factory opens outbound channels and binds inbound receivers.
type Factory interface {
	Connect(loc wire.Locator) (DataChannel, error)
	Bind(loc wire.Locator, h Handler) (Receiver, error)
}
