package filter

import "sync/atomic"

// Tracer receives drop events. Implementations must not block.
type Tracer interface {
	Trace(Event)
}

// NopTracer discards every event.
type NopTracer struct{}

func (NopTracer) Trace(Event) {}

// ChanTracer delivers events on a buffered channel and drops them when the
// buffer is full.
type ChanTracer struct {
	C    chan Event
	lost atomic.Uint64
}

// NewChanTracer returns a tracer buffering up to size events.
func NewChanTracer(size int) *ChanTracer {
	return &ChanTracer{C: make(chan Event, size)}
}

func (t *ChanTracer) Trace(e Event) {
	select {
	case t.C <- e:
	default:
		t.lost.Add(1)
	}
}

// Lost returns the number of events dropped because the buffer was full.
func (t *ChanTracer) Lost() uint64 { return t.lost.Load() }
