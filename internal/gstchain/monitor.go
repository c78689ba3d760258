package gstchain

import (
	"time"

	"github.com/tinyzimmer/go-gst/gst"
)

// Poll waits up to timeout for the next relevant bus message.
//
// State changes of child elements and message types the controller does
// not act on are consumed and reported as (Event{}, false), like a timeout.
func (c *Chain) Poll(timeout time.Duration) (Event, bool) {
	if c.closed.Load() || c.bus == nil {
		return Event{}, false
	}

	msg := c.bus.TimedPop(timeout)
	if msg == nil {
		return Event{}, false
	}

	switch msg.Type() {
	case gst.MessageEOS:
		return Event{Type: EventEOS, Source: msg.Source()}, true

	case gst.MessageError:
		gerr := msg.ParseError()
		ev := Event{Type: EventError, Source: msg.Source(), Category: ClassifyGError(gerr)}
		if gerr != nil {
			ev.Message = gerr.Error()
			ev.Debug = gerr.DebugString()
		}
		return ev, true

	case gst.MessageWarning:
		gerr := msg.ParseWarning()
		ev := Event{Type: EventWarning, Source: msg.Source(), Category: ClassifyGError(gerr)}
		if gerr != nil {
			ev.Message = gerr.Error()
			ev.Debug = gerr.DebugString()
		}
		return ev, true

	case gst.MessageStateChanged:
		if msg.Source() != c.name {
			return Event{}, false
		}
		from, to := msg.ParseStateChanged()
		return Event{
			Type:   EventStateChanged,
			Source: c.name,
			From:   stateFromGst(from),
			To:     stateFromGst(to),
		}, true
	}

	return Event{}, false
}
