package client

import "errors"

var (
	ErrNotStarted      = errors.New("client not started")
	ErrAlreadyStarted  = errors.New("client already started")
	ErrClosed          = errors.New("client closed")
	ErrShutdownTimeout = errors.New("callbacks did not finish before the shutdown timeout")
	ErrNoParticipantId = errors.New("no free participant id")
	ErrNoAddress       = errors.New("no usable IPv4 address")
	ErrUnknownEntity   = errors.New("unknown entity")
)
