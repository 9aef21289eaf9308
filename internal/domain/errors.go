package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrJobTerminal        = errors.New("job is in a terminal state")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrInvalidURL         = errors.New("invalid listing url")
	ErrInvalidMaxImages   = errors.New("max images out of range")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrBatchFailed        = errors.New("every item in the batch failed")
	ErrNoPhotos           = errors.New("listing has no photos")
)
