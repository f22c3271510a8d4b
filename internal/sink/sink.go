// Package sink delivers feed events to persistence and publishing backends.
//
// The feed path only ever calls Append, which never blocks: each backend owns
// a bounded Queue and drains it on its own goroutine. A saturated queue fails
// fast with ErrFull and the caller drops the event.
package sink

import (
	"errors"
	"fmt"

	"github.com/rickgao/feedsync/internal/model"
)

// Errors
var (
	ErrFull   = errors.New("sink queue full")
	ErrClosed = errors.New("sink closed")
)

// Sink accepts events without blocking.
type Sink interface {
	Append(ev model.Event) error
}

// Func adapts a function to the Sink interface.
type Func func(ev model.Event) error

// Append calls f(ev).
func (f Func) Append(ev model.Event) error {
	return f(ev)
}

// Discard drops every event.
var Discard Sink = Func(func(model.Event) error { return nil })

// Fanout appends each event to every sink. A failure on one sink does not stop
// delivery to the others; all failures are joined.
type Fanout []Sink

// Append delivers ev to all sinks.
func (f Fanout) Append(ev model.Event) error {
	var errs []error
	for _, s := range f {
		if err := s.Append(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Queue is a named, bounded event queue drained by one backend.
type Queue struct {
	name string
	buf  *Buffer[model.Event]
}

// NewQueue creates a queue that grows up to maxSize events.
func NewQueue(name string, maxSize int) *Queue {
	initial := 1024
	if maxSize < initial {
		initial = maxSize
	}
	return &Queue{
		name: name,
		buf:  NewBuffer[model.Event](initial, maxSize),
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Append enqueues ev, failing fast when the queue is full or closed.
func (q *Queue) Append(ev model.Event) error {
	if err := q.buf.Send(ev); err != nil {
		return fmt.Errorf("%s: %w", q.name, err)
	}
	return nil
}

// Drain removes up to max queued events.
func (q *Queue) Drain(max int) []model.Event {
	return q.buf.DrainTo(max)
}

// Close stops accepting events.
func (q *Queue) Close() { q.buf.Close() }

// Len returns the number of queued events.
func (q *Queue) Len() int { return q.buf.Len() }

// Stats returns queue statistics.
func (q *Queue) Stats() BufferStats { return q.buf.Stats() }
