package detector

import "errors"

// Error definitions for the detector package.
var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrDecode        = errors.New("failed to decode image")
	ErrModelNotFound = errors.New("model file not found")
	ErrNotReady      = errors.New("handler is not initialized")
	ErrBadOutput     = errors.New("model produced an unusable output")
)
