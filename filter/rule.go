package filter

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

const (
	// MaxNameLen is the size of a process name buffer, terminator included.
	MaxNameLen = 16

	// PortRuleSize is the encoded size of a PortRule record.
	PortRuleSize = 4
	// ProcessPortRuleSize is the encoded size of a ProcessPortRule record.
	ProcessPortRuleSize = MaxNameLen + 2

	// ConfigKey is the only key of a configuration cell.
	ConfigKey uint32 = 0
)

// PortRule configures the packet-path filter. Port is in host byte order and
// zero means no rule.
type PortRule struct {
	Port uint16
}

// Enabled reports whether the rule matches anything.
func (r PortRule) Enabled() bool { return r.Port != 0 }

// MarshalBinary encodes the rule as the u32 stored in the cell.
func (r PortRule) MarshalBinary() ([]byte, error) {
	buf := make([]byte, PortRuleSize)
	binary.NativeEndian.PutUint32(buf, uint32(r.Port))
	return buf, nil
}

// UnmarshalBinary decodes a cell value. Only the low 16 bits are kept,
// matching the truncation done by the kernel program.
func (r *PortRule) UnmarshalBinary(data []byte) error {
	if len(data) != PortRuleSize {
		return fmt.Errorf("port rule record: got %d bytes, want %d", len(data), PortRuleSize)
	}
	r.Port = uint16(binary.NativeEndian.Uint32(data))
	return nil
}

// ProcessPortRule configures the socket-path filter. ProcessName is a
// NUL-terminated short process name; an empty name disables the rule.
type ProcessPortRule struct {
	ProcessName [MaxNameLen]byte
	AllowedPort uint16
}

// NewProcessPortRule builds a rule from a process name of at most
// MaxNameLen-1 bytes.
func NewProcessPortRule(name string, allowedPort uint16) (ProcessPortRule, error) {
	var r ProcessPortRule
	if len(name) > MaxNameLen-1 {
		return r, fmt.Errorf("process name %q is %d bytes, max %d", name, len(name), MaxNameLen-1)
	}
	if bytes.IndexByte([]byte(name), 0) >= 0 {
		return r, fmt.Errorf("process name %q contains a NUL byte", name)
	}
	copy(r.ProcessName[:], name)
	r.AllowedPort = allowedPort
	return r, nil
}

// Enabled reports whether the rule applies to any process.
func (r ProcessPortRule) Enabled() bool { return r.ProcessName[0] != 0 }

// Name returns the process name up to its terminator.
func (r ProcessPortRule) Name() string { return commString(&r.ProcessName) }

// MarshalBinary encodes the 18-byte record {char[16], u16}.
func (r ProcessPortRule) MarshalBinary() ([]byte, error) {
	buf := make([]byte, ProcessPortRuleSize)
	copy(buf, r.ProcessName[:])
	binary.NativeEndian.PutUint16(buf[MaxNameLen:], r.AllowedPort)
	return buf, nil
}

// UnmarshalBinary decodes an 18-byte record. Any bit pattern is accepted.
func (r *ProcessPortRule) UnmarshalBinary(data []byte) error {
	if len(data) != ProcessPortRuleSize {
		return fmt.Errorf("process rule record: got %d bytes, want %d", len(data), ProcessPortRuleSize)
	}
	copy(r.ProcessName[:], data[:MaxNameLen])
	r.AllowedPort = binary.NativeEndian.Uint16(data[MaxNameLen:])
	return nil
}

// PortRuleReader yields the current packet-path configuration snapshot.
// ok is false when nothing has been written.
type PortRuleReader interface {
	Load() (rule PortRule, ok bool)
}

// ProcessRuleReader yields the current socket-path configuration snapshot.
type ProcessRuleReader interface {
	Load() (rule ProcessPortRule, ok bool)
}

// PortCell is an in-process single-slot PortRule. The zero value is empty.
type PortCell struct {
	p atomic.Pointer[PortRule]
}

// Store replaces the record.
func (c *PortCell) Store(r PortRule) { c.p.Store(&r) }

// Load returns the last stored record.
func (c *PortCell) Load() (PortRule, bool) {
	if r := c.p.Load(); r != nil {
		return *r, true
	}
	return PortRule{}, false
}

// ProcessCell is an in-process single-slot ProcessPortRule. The zero value
// is empty.
type ProcessCell struct {
	p atomic.Pointer[ProcessPortRule]
}

// Store replaces the record.
func (c *ProcessCell) Store(r ProcessPortRule) { c.p.Store(&r) }

// Load returns the last stored record.
func (c *ProcessCell) Load() (ProcessPortRule, bool) {
	if r := c.p.Load(); r != nil {
		return *r, true
	}
	return ProcessPortRule{}, false
}
