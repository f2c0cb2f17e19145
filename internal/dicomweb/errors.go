package dicomweb

import "errors"

var (
	// ErrNotFound covers both a missing entity and one the caller may not read.
	ErrNotFound = errors.New("not found")
	// ErrRenderFailed is returned when a rendered frame could not be produced.
	ErrRenderFailed = errors.New("rendering failed")
)
