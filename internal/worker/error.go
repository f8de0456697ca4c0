package worker

import "errors"

// Error definitions for the worker package.
var (
	ErrPoolClosed = errors.New("worker pool is closed")
	ErrEmptyPool  = errors.New("worker pool needs at least one handler")
)
