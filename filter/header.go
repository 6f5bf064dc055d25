package filter

import "encoding/binary"

// Fixed frame layout. IPv4 options are not handled: the TCP header is
// assumed to follow a 20-byte IPv4 header.
const (
	EthernetHeaderLen = 14
	IPv4HeaderLen     = 20
	TCPHeaderLen      = 20

	// HeaderPrefixLen is the number of bytes that must be present before any
	// field is read.
	HeaderPrefixLen = EthernetHeaderLen + IPv4HeaderLen + TCPHeaderLen

	ipProtocolOffset = EthernetHeaderLen + 9
	tcpSrcPortOffset = EthernetHeaderLen + IPv4HeaderLen
	tcpDstPortOffset = tcpSrcPortOffset + 2

	// IPProtoTCP is the IPv4 protocol number of TCP.
	IPProtoTCP = 6
)

// NetPort is a port in network byte order, as a native load of the two wire
// bytes yields it.
type NetPort uint16

// Htons converts a host-order port to network order.
func Htons(port uint16) NetPort {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], port)
	return NetPort(binary.NativeEndian.Uint16(b[:]))
}

// Host converts p back to host byte order.
func (p NetPort) Host() uint16 {
	var b [2]byte
	binary.NativeEndian.PutUint16(b[:], uint16(p))
	return binary.BigEndian.Uint16(b[:])
}

// HeaderView holds the fields of one frame needed for a decision. Ports are
// kept in wire order.
type HeaderView struct {
	IPProtocol    uint8
	TCPSourcePort NetPort
	TCPDestPort   NetPort
}

// ParseHeader reads the protocol and TCP ports from frame. It returns
// ErrTruncated when frame is shorter than HeaderPrefixLen and
// ErrNotApplicable when the IPv4 protocol is not TCP; in the latter case the
// returned view still carries the protocol.
func ParseHeader(frame []byte) (HeaderView, error) {
	var h HeaderView
	if len(frame) < HeaderPrefixLen {
		return h, ErrTruncated
	}
	h.IPProtocol = frame[ipProtocolOffset]
	if h.IPProtocol != IPProtoTCP {
		return h, ErrNotApplicable
	}
	h.TCPSourcePort = NetPort(binary.NativeEndian.Uint16(frame[tcpSrcPortOffset:]))
	h.TCPDestPort = NetPort(binary.NativeEndian.Uint16(frame[tcpDstPortOffset:]))
	return h, nil
}
