package framebus

import (
	"context"
	"sync"
)

// Receiver holds the newest frame for a DropOld subscriber.
type Receiver struct {
	mu      sync.Mutex
	frame   Frame
	seq     uint64
	taken   uint64
	closed  bool
	updated chan struct{}
}

func newReceiver() *Receiver {
	return &Receiver{updated: make(chan struct{})}
}

// set stores frame and reports whether an unread frame was replaced.
func (r *Receiver) set(frame Frame) (replaced bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false, ErrReceiverClosed
	}

	replaced = r.seq > r.taken
	r.frame = frame
	r.seq++
	close(r.updated)
	r.updated = make(chan struct{})
	return replaced, nil
}

// Receive blocks until a frame newer than the last one returned arrives,
// ctx is done, or the receiver is closed.
func (r *Receiver) Receive(ctx context.Context) (Frame, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return Frame{}, ErrReceiverClosed
		}
		if r.seq > r.taken {
			r.taken = r.seq
			f := r.frame
			r.mu.Unlock()
			return f, nil
		}
		wait := r.updated
		r.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return Frame{}, ctx.Err()
		}
	}
}

// TryReceive returns the newest frame if one arrived since the last
// successful receive.
func (r *Receiver) TryReceive() (Frame, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.seq == r.taken {
		return Frame{}, false
	}
	r.taken = r.seq
	return r.frame, true
}

// Close wakes blocked Receive calls. It is idempotent.
func (r *Receiver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	close(r.updated)
}
