package jpegbridge

import (
	"errors"
	"fmt"

	"github.com/e7canasta/orion-care-sensor/modules/jpeg-bridge/internal/gstchain"
	"github.com/e7canasta/orion-care-sensor/modules/jpeg-bridge/internal/stage"
)

var (
	// ErrInvalidConfig is returned when a Config value is unsupported.
	ErrInvalidConfig = errors.New("jpeg-bridge: invalid config")
	// ErrConstruction wraps every Create failure.
	ErrConstruction = errors.New("jpeg-bridge: pipeline construction failed")
	// ErrCapsNegotiation means two adjacent stages have incompatible caps.
	ErrCapsNegotiation = stage.ErrCapsNegotiation
	// ErrStageUnavailable means a required element is missing from the runtime.
	ErrStageUnavailable = gstchain.ErrElementUnavailable

	// ErrInjection wraps every PushBuffer failure caused by the chain
	// refusing a buffer. The pipeline keeps running.
	ErrInjection = errors.New("jpeg-bridge: buffer injection failed")
	// ErrBackpressure means the ingest queue is full. It is always wrapped
	// in ErrInjection; pace the producer and retry or drop.
	ErrBackpressure = gstchain.ErrBackpressure
	// ErrMalformedUnit means the access unit failed inspection and was
	// dropped.
	ErrMalformedUnit = errors.New("jpeg-bridge: malformed access unit")
	// ErrEmptyUnit means PushBuffer was called with no data.
	ErrEmptyUnit = errors.New("jpeg-bridge: empty access unit")

	// ErrInvalidState is returned by operations not valid in the current state.
	ErrInvalidState = errors.New("jpeg-bridge: invalid pipeline state")
	// ErrDestroyed is returned by operations on a destroyed pipeline.
	ErrDestroyed = errors.New("jpeg-bridge: pipeline destroyed")
	// ErrFatalStage is wrapped by the *StageError Start returns when a
	// stage fails unrecoverably.
	ErrFatalStage = errors.New("jpeg-bridge: fatal stage error")
)

// StageError describes the fatal stage failure that ended a session.
type StageError struct {
	// Stage is the name of the element that reported the error
	Stage string
	// Category is the classification (codec, negotiation, resource, unknown)
	Category string
	Message  string
	Debug    string
}

func (e *StageError) Error() string {
	return fmt.Sprintf("jpeg-bridge: fatal %s error in %s: %s", e.Category, e.Stage, e.Message)
}

func (e *StageError) Unwrap() error {
	return ErrFatalStage
}
