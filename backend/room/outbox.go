package room

import (
	"errors"
	"sync"

	"github.com/adwski/room-relay/backend/model"
)

var (
	ErrOutboxClosed = errors.New("outbox is closed")
)

// Outbox is an unbounded FIFO of frames waiting to be written to one
// connection. Any goroutine may Push; only the owning connection drains it.
type Outbox struct {
	mx     *sync.Mutex
	queue  []model.Frame
	ready  chan struct{}
	closed bool
}

func NewOutbox() *Outbox {
	return &Outbox{
		mx:    &sync.Mutex{},
		ready: make(chan struct{}, 1),
	}
}

// Push appends f. It never blocks.
func (o *Outbox) Push(f model.Frame) error {
	o.mx.Lock()
	if o.closed {
		o.mx.Unlock()
		return ErrOutboxClosed
	}
	o.queue = append(o.queue, f)
	o.mx.Unlock()

	o.wake()
	return nil
}

// Drain takes every queued frame in push order and reports whether the
// outbox is closed. Frames pushed before Close are still returned.
func (o *Outbox) Drain() ([]model.Frame, bool) {
	o.mx.Lock()
	defer o.mx.Unlock()

	frames := o.queue
	o.queue = nil
	return frames, o.closed
}

// Ready fires after a Push or Close. Wakeups may be spurious.
func (o *Outbox) Ready() <-chan struct{} {
	return o.ready
}

// Close rejects further pushes. Safe to call more than once.
func (o *Outbox) Close() {
	o.mx.Lock()
	o.closed = true
	o.mx.Unlock()
	o.wake()
}

func (o *Outbox) Len() int {
	o.mx.Lock()
	defer o.mx.Unlock()
	return len(o.queue)
}

func (o *Outbox) wake() {
	select {
	case o.ready <- struct{}{}:
	default:
	}
}
