package framebus

import (
	"bytes"
	"errors"
	"sync"
	"sync/atomic"

	jpegbridge "github.com/e7canasta/orion-care-sensor/modules/jpeg-bridge"
	"github.com/e7canasta/orion-care-sensor/modules/jpeg-bridge/internal/metrics"
)

// Frame is the unit distributed on the bus.
type Frame = jpegbridge.Frame

// DropPolicy defines what happens when a subscriber cannot keep up.
type DropPolicy int

const (
	// DropNew drops incoming frames while the subscriber's channel is full.
	DropNew DropPolicy = iota
	// DropOld replaces the held frame with the newest one.
	DropOld
)

func (p DropPolicy) String() string {
	switch p {
	case DropNew:
		return "drop-new"
	case DropOld:
		return "drop-old"
	default:
		return "unknown"
	}
}

var (
	ErrBusClosed          = errors.New("framebus: bus is closed")
	ErrSubscriberExists   = errors.New("framebus: subscriber id already exists")
	ErrSubscriberNotFound = errors.New("framebus: subscriber not found")
	ErrNilChannel         = errors.New("framebus: channel cannot be nil")
	ErrReceiverClosed     = errors.New("framebus: receiver is closed")
)

type subscriber struct {
	id      string
	policy  DropPolicy
	sent    atomic.Uint64
	dropped atomic.Uint64

	// DropNew
	ch chan<- Frame

	// DropOld
	latest *Receiver
}

func (s *subscriber) drop(n uint64) {
	s.dropped.Add(n)
	metrics.AddBusDropped(s.id, n)
}

// Bus distributes frames to subscribers. The zero value is not usable;
// call New.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	published   atomic.Uint64
	closed      bool
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[string]*subscriber),
	}
}

// Subscribe registers ch with the DropNew policy.
func (b *Bus) Subscribe(id string, ch chan<- Frame) error {
	if ch == nil {
		return ErrNilChannel
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}

	b.subscribers[id] = &subscriber{id: id, policy: DropNew, ch: ch}
	return nil
}

// SubscribeLatest registers a DropOld subscriber and returns its receiver.
func (b *Bus) SubscribeLatest(id string) (*Receiver, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return nil, ErrSubscriberExists
	}

	r := newReceiver()
	b.subscribers[id] = &subscriber{id: id, policy: DropOld, latest: r}
	return r, nil
}

// Unsubscribe removes a subscriber. DropNew channels are not closed; the
// caller owns them.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	s, exists := b.subscribers[id]
	if !exists {
		return ErrSubscriberNotFound
	}
	if s.latest != nil {
		s.latest.Close()
	}
	delete(b.subscribers, id)
	return nil
}

// Publish delivers frame to every subscriber without blocking. Publishing
// on a closed bus is a no-op.
func (b *Bus) Publish(frame Frame) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	b.published.Add(1)

	for _, s := range b.subscribers {
		switch s.policy {
		case DropNew:
			select {
			case s.ch <- frame:
				s.sent.Add(1)
			default:
				s.drop(1)
			}

		case DropOld:
			replaced, err := s.latest.set(frame)
			if err != nil {
				s.drop(1)
				continue
			}
			s.sent.Add(1)
			if replaced {
				s.drop(1)
			}
		}
	}
}

// Callback matches jpegbridge.FrameCallback. It copies the frame data out
// of the pipeline's buffer and publishes it.
func (b *Bus) Callback(frame Frame, _ any) {
	frame.Data = bytes.Clone(frame.Data)
	b.Publish(frame)
}

// Stats returns a snapshot of global and per-subscriber counters.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := BusStats{
		TotalPublished: b.published.Load(),
		Subscribers:    make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, s := range b.subscribers {
		sub := SubscriberStats{
			Policy:  s.policy,
			Sent:    s.sent.Load(),
			Dropped: s.dropped.Load(),
		}
		stats.Subscribers[id] = sub
		stats.TotalSent += sub.Sent
		stats.TotalDropped += sub.Dropped
	}
	return stats
}

// Close removes every subscriber and wakes blocked receivers. It is
// idempotent.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, s := range b.subscribers {
		if s.latest != nil {
			s.latest.Close()
		}
	}
	b.subscribers = nil
}
