package jpegbridge

import "time"

// EventType identifies a pipeline notification.
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

// Event is an asynchronous notification from the pipeline.
type Event struct {
	Type EventType
	// Source names the pipeline or stage element that raised the event
	Source string
	// From and To are set for EventStateChanged
	From State
	To   State
	// Message and Category are set for EventWarning and EventError
	Message  string
	Category string
	Time     time.Time
}

// Events returns the notification feed. It is buffered; events are dropped
// and counted in Stats.EventsDropped when the reader falls behind. The
// channel is closed by Destroy.
func (p *Pipeline) Events() <-chan Event {
	if p == nil {
		return nil
	}
	return p.events
}

func (p *Pipeline) emit(ev Event) {
	ev.Time = time.Now()
	select {
	case p.events <- ev:
	default:
		p.counters.eventsDropped.Add(1)
	}
}
