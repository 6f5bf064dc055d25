package fwebpf

import (
	"fmt"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"

	"portguard/filter"
)

// ErrClosed is returned by EventReader.Read after Close.
var ErrClosed = ringbuf.ErrClosed

// EventReader decodes drop events from one of the event ring buffers.
type EventReader struct {
	name string
	m    *ebpf.Map
	rd   *ringbuf.Reader
}

// OpenEventReader opens the pinned ring buffer name (PacketEventsMap or
// SocketEventsMap).
func OpenEventReader(pinDir, name string) (*EventReader, error) {
	m, err := openPinnedMap(pinDir, name)
	if err != nil {
		return nil, err
	}
	rd, err := ringbuf.NewReader(m)
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("opening ring buffer %s: %w", name, err)
	}
	return &EventReader{name: name, m: m, rd: rd}, nil
}

func (r *EventReader) Name() string { return r.name }

// Read blocks until the next event is available.
func (r *EventReader) Read() (filter.Event, error) {
	var ev filter.Event
	rec, err := r.rd.Read()
	if err != nil {
		return ev, err
	}
	if err := ev.UnmarshalBinary(rec.RawSample); err != nil {
		return ev, fmt.Errorf("%s: %w", r.name, err)
	}
	return ev, nil
}

// Close unblocks pending reads.
func (r *EventReader) Close() error {
	err := r.rd.Close()
	if cerr := r.m.Close(); err == nil {
		err = cerr
	}
	return err
}
