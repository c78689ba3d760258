// Package source produces H.264 access units for a pipeline: a directory of
// pre-split units or a live RTSP stream.
package source

import (
	"context"
	"errors"

	jpegbridge "github.com/e7canasta/orion-care-sensor/modules/jpeg-bridge"
)

// Sink receives access units. *jpegbridge.Pipeline implements it.
type Sink interface {
	PushBuffer(data []byte) error
}

// Source pushes access units into a sink until it runs out, fails, or ctx
// is done.
type Source interface {
	Name() string
	Run(ctx context.Context, sink Sink) error
}

// retryable reports whether a push failure should be retried with the same
// unit. Malformed and empty units are dropped by the pipeline, so pushing
// them again is pointless.
func retryable(err error) bool {
	return errors.Is(err, jpegbridge.ErrBackpressure)
}

// fatal reports whether a push failure means the pipeline will never accept
// another unit.
func fatal(err error) bool {
	return errors.Is(err, jpegbridge.ErrDestroyed) || errors.Is(err, jpegbridge.ErrInvalidState)
}
