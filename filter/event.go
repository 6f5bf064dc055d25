package filter

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrShortEvent = errors.New("short event record")

// Hook identifies the attachment point that produced a verdict.
type Hook uint8

const (
	HookXDP Hook = iota
	HookConnect4
	HookConnect6
	HookBind4
	HookBind6
)

var hookNames = [...]string{
	HookXDP:      "xdp",
	HookConnect4: "connect4",
	HookConnect6: "connect6",
	HookBind4:    "bind4",
	HookBind6:    "bind6",
}

func (h Hook) String() string {
	if int(h) < len(hookNames) {
		return hookNames[h]
	}
	return fmt.Sprintf("hook(%d)", h)
}

// Operation returns the socket operation a socket hook filters.
func (h Hook) Operation() Operation {
	if h == HookBind4 || h == HookBind6 {
		return OpBind
	}
	return OpConnect
}

// EventSize is the size of an encoded Event.
const EventSize = 8 + MaxNameLen

// Event is the diagnostic record emitted on drop. Layout:
//
//	u8 hook, u8 action, u16 port, u32 pid, char comm[16]
//
// with native-endian integers. PID and Comm are zero for packet events.
type Event struct {
	Hook   Hook
	Action Action
	Port   uint16
	PID    uint32
	Comm   [MaxNameLen]byte
}

// ProcessName returns Comm up to its terminator.
func (e Event) ProcessName() string { return commString(&e.Comm) }

// MarshalBinary encodes e in the ring buffer layout.
func (e Event) MarshalBinary() ([]byte, error) {
	buf := make([]byte, EventSize)
	buf[0] = byte(e.Hook)
	buf[1] = byte(e.Action)
	binary.NativeEndian.PutUint16(buf[2:], e.Port)
	binary.NativeEndian.PutUint32(buf[4:], e.PID)
	copy(buf[8:], e.Comm[:])
	return buf, nil
}

// UnmarshalBinary decodes a ring buffer sample.
func (e *Event) UnmarshalBinary(data []byte) error {
	if len(data) < EventSize {
		return fmt.Errorf("%w: got=%d want>=%d", ErrShortEvent, len(data), EventSize)
	}
	e.Hook = Hook(data[0])
	e.Action = Action(data[1])
	e.Port = binary.NativeEndian.Uint16(data[2:])
	e.PID = binary.NativeEndian.Uint32(data[4:])
	copy(e.Comm[:], data[8:EventSize])
	return nil
}

// String formats the line printed by the trace tooling.
func (e Event) String() string {
	switch e.Hook {
	case HookXDP:
		return fmt.Sprintf("XDP: Dropping TCP packet on port %d", e.Port)
	default:
		return fmt.Sprintf("BLOCKING %s to port %d (comm=%s pid=%d)", e.Hook.Operation(), e.Port, e.ProcessName(), e.PID)
	}
}
