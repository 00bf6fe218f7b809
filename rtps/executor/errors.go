package executor

import "errors"

var (
	ErrPoolNotStarted     = errors.New("executor: pool not started")
	ErrPoolStopped        = errors.New("executor: pool stopped")
	ErrPoolAlreadyStarted = errors.New("executor: pool already started")
	ErrQueueFull          = errors.New("executor: queue full")
	ErrStopTimeout        = errors.New("executor: stop timed out waiting for workers")
)
