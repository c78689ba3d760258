// Package gstchain instantiates the stage topology on GStreamer and exposes
// the small surface the pipeline controller drives: state changes, buffer
// injection, bus polling and teardown.
package gstchain

import (
	"errors"
	"fmt"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

var (
	// ErrElementUnavailable is returned when none of a stage's factories
	// can be instantiated in this runtime.
	ErrElementUnavailable = errors.New("jpeg-bridge: stage element unavailable")
	// ErrBackpressure is returned by Push while the ingest queue is full.
	ErrBackpressure = errors.New("jpeg-bridge: ingest queue full")
	// ErrFlow is returned by Push when the ingest element refuses a buffer.
	ErrFlow = errors.New("jpeg-bridge: ingest flow error")
	// ErrClosed is returned by operations on a closed chain.
	ErrClosed = errors.New("jpeg-bridge: chain closed")

	errNoSrcPad = errors.New("element has no static src pad")
)

// Buffer is one sealed access unit on its way into the chain.
type Buffer struct {
	Data     []byte
	PTS      time.Duration
	DTS      time.Duration
	Duration time.Duration
}

// State mirrors the GStreamer element states the controller uses.
type State int

const (
	StateNull State = iota
	StateReady
	StatePaused
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateNull:
		return "NULL"
	case StateReady:
		return "READY"
	case StatePaused:
		return "PAUSED"
	case StatePlaying:
		return "PLAYING"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

func (s State) gst() gst.State {
	switch s {
	case StateReady:
		return gst.StateReady
	case StatePaused:
		return gst.StatePaused
	case StatePlaying:
		return gst.StatePlaying
	default:
		return gst.StateNull
	}
}

func stateFromGst(s gst.State) State {
	switch s {
	case gst.StateReady:
		return StateReady
	case gst.StatePaused:
		return StatePaused
	case gst.StatePlaying:
		return StatePlaying
	default:
		return StateNull
	}
}

// EventType identifies a notification read from the pipeline bus.
type EventType int

const (
	EventStateChanged EventType = iota
	EventWarning
	EventError
	EventEOS
)

func (t EventType) String() string {
	switch t {
	case EventStateChanged:
		return "state-changed"
	case EventWarning:
		return "warning"
	case EventError:
		return "error"
	case EventEOS:
		return "eos"
	default:
		return "unknown"
	}
}

// Event is a bus notification converted to plain Go values.
type Event struct {
	Type EventType
	// Source is the name of the element that posted the message.
	Source string
	// From and To are set for EventStateChanged.
	From State
	To   State
	// Message, Debug and Category are set for EventWarning and EventError.
	Message  string
	Debug    string
	Category ErrorCategory
}

// Hooks are invoked on GStreamer streaming threads.
type Hooks struct {
	// OnSample receives a read-only view of each encoded frame. The slice
	// is only valid until the hook returns.
	OnSample func(data []byte, pts time.Duration)
	// OnEncoded fires once per buffer leaving the encoder, before the
	// sink's drop policy applies.
	OnEncoded func()
}
