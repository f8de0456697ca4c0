package model

import "errors"

// Error definitions for the model package.
var (
	ErrInvalidMetadata = errors.New("invalid model metadata")
	ErrBatchSize       = errors.New("tensor batch size must be 1")
	ErrShapeMismatch   = errors.New("tensor shape does not match model input")
	ErrDeviceUnusable  = errors.New("requested device is not available")
	ErrClosed          = errors.New("model is closed")
)
